// Package openai provides a model.Backend backed by the OpenAI legacy
// Completions API, the one OpenAI surface that accepts a raw text prefix and
// returns its continuation. It translates completion requests into
// Completions.New calls using github.com/openai/openai-go. Token scoring is
// not exposed by the API, so constrained segments report
// model.ErrConstraintsUnsupported.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/steer/runtime/model"
)

const openaiProviderName = "openai"

// maxStopSequences is the cap the Completions API places on the stop list.
const maxStopSequences = 4

type (
	// CompletionsClient captures the subset of the OpenAI SDK client used by
	// the adapter. It is satisfied by *sdk.CompletionService so callers can
	// pass either a real client or a mock in tests.
	CompletionsClient interface {
		New(ctx context.Context, body sdk.CompletionNewParams, opts ...option.RequestOption) (*sdk.Completion, error)
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// Model is the completion model identifier, for example
		// "gpt-3.5-turbo-instruct". Chat-only models are rejected by the
		// Completions endpoint. Required.
		Model string

		// MaxTokens sets the completion cap when a request does not specify
		// MaxTokens. When zero or negative the endpoint default applies.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64
	}

	// Client implements model.Backend via the OpenAI Completions API.
	Client struct {
		completions CompletionsClient
		modelID     string
		maxTok      int
		temp        float64
	}
)

// New builds an OpenAI-backed completion client from the provided
// Completions client and configuration options.
func New(completions CompletionsClient, opts Options) (*Client, error) {
	if completions == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{
		completions: completions,
		modelID:     opts.Model,
		maxTok:      opts.MaxTokens,
		temp:        opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Completions, opts)
}

// Complete issues a Completions.New request carrying the prefix as the
// prompt and translates the first choice into a completion.
func (c *Client) Complete(ctx context.Context, req model.CompletionRequest) (model.Completion, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Completion{}, err
	}
	resp, err := c.completions.New(ctx, *params)
	if err != nil {
		return model.Completion{}, wrapOpenAIError("completions.new", err)
	}
	return translateResponse(resp, len(req.Stop) > 0)
}

// ScoreNext reports model.ErrConstraintsUnsupported. The Completions API has
// no token-level scoring surface.
func (c *Client) ScoreNext(context.Context, string, func(model.Token) bool) (model.Token, error) {
	return model.Token{}, model.ErrConstraintsUnsupported
}

func (c *Client) prepareRequest(req model.CompletionRequest) (*sdk.CompletionNewParams, error) {
	if req.Prefix == "" {
		return nil, errors.New("openai: prefix is required")
	}
	if len(req.Stop) > maxStopSequences {
		return nil, fmt.Errorf("openai: at most %d stop sequences are supported, got %d", maxStopSequences, len(req.Stop))
	}
	params := sdk.CompletionNewParams{
		Model:  sdk.CompletionNewParamsModel(c.modelID),
		Prompt: sdk.CompletionNewParamsPromptUnion{OfString: sdk.String(req.Prefix)},
	}
	if len(req.Stop) > 0 {
		params.Stop = sdk.CompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if n := c.effectiveMaxTokens(req.MaxTokens); n > 0 {
		params.MaxTokens = sdk.Int(int64(n))
	}
	if t := c.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	return &params, nil
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	return c.temp
}

func translateResponse(resp *sdk.Completion, stopsRequested bool) (model.Completion, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return model.Completion{}, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	out := model.Completion{Text: choice.Text}
	switch {
	case choice.FinishReason == "length":
		out.Reason = model.StopReasonMaxTokens
	case choice.FinishReason == "stop" && stopsRequested:
		// The Completions API reports "stop" both for a stop sequence hit
		// and for a natural end of text, and does not echo which sequence
		// fired, so StopText stays empty.
		out.Reason = model.StopReasonStop
	default:
		out.Reason = model.StopReasonEnd
	}
	return out, nil
}

// isRateLimited reports whether err represents a provider rate limiting
// condition. It treats HTTP 429 responses as rate-limited signals and is
// idempotent when ErrRateLimited is already present in the error chain.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apierr *sdk.Error
	return errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests
}

func wrapOpenAIError(operation string, err error) error {
	if isRateLimited(err) {
		pe := model.NewProviderError(openaiProviderName, operation, http.StatusTooManyRequests, model.ProviderErrorKindRateLimited, "rate_limited", "", true, err)
		return errors.Join(model.ErrRateLimited, pe)
	}

	status := 0
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		status = apierr.StatusCode
	}

	kind := model.ProviderErrorKindUnknown
	retryable := false
	switch {
	case status == http.StatusBadRequest:
		kind = model.ProviderErrorKindInvalidRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = model.ProviderErrorKindAuth
	case status >= http.StatusInternalServerError && status <= http.StatusNetworkAuthenticationRequired:
		kind = model.ProviderErrorKindUnavailable
		retryable = true
	}

	return model.NewProviderError(openaiProviderName, operation, status, kind, "", "", retryable, err)
}
