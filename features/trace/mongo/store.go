package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/steer/features/trace/mongo/clients/mongo"
	"goa.design/steer/runtime/trace"
)

// Store implements trace.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed trace store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// NewStoreFromMongo builds the low-level client from opts and wraps it in a
// Store. Convenience for callers that do not need direct client access.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(client)
}

// Append implements trace.Store.
func (s *Store) Append(ctx context.Context, e *trace.Event) error {
	return s.client.Append(ctx, e)
}

// List implements trace.Store.
func (s *Store) List(ctx context.Context, runID string, cursor string, limit int) (trace.Page, error) {
	return s.client.List(ctx, runID, cursor, limit)
}
