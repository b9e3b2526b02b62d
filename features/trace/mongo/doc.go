// Package mongo registers MongoDB-backed trace storage for runs.
//
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain a trace.Store that persists append-only run events, or call
// NewStoreFromMongo to do both in one step.
package mongo
