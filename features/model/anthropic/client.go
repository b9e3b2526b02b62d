// Package anthropic provides a model.Backend backed by the Anthropic Claude
// Messages API. It translates completion requests into anthropic.Message
// calls using github.com/anthropics/anthropic-sdk-go and maps responses back
// into the generic completion structures. The Messages API does not expose
// token-level scoring, so constrained segments report
// model.ErrConstraintsUnsupported; pair this backend with free-text loops.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/steer/runtime/model"
)

const anthropicProviderName = "anthropic"

// DefaultMaxTokens caps completions when neither the request nor the options
// specify a budget. The Messages API requires a positive max_tokens on every
// call, so the adapter never sends zero.
const DefaultMaxTokens = 1024

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the Anthropic adapter.
	Options struct {
		// Model is the Claude model identifier used for every request. Use
		// the typed model constants from github.com/anthropics/anthropic-sdk-go
		// or the identifiers listed in Anthropic's model reference. Required.
		Model string

		// MaxTokens sets the completion cap when a request does not specify
		// MaxTokens. When zero or negative the adapter falls back to
		// DefaultMaxTokens.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64

		// System is an optional system prompt sent with every request.
		System string
	}

	// Client implements model.Backend on top of Anthropic Claude Messages.
	Client struct {
		msg     MessagesClient
		modelID string
		maxTok  int
		temp    float64
		system  string
	}
)

// New builds an Anthropic-backed completion client from the provided
// Messages client and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{
		msg:     msg,
		modelID: opts.Model,
		maxTok:  opts.MaxTokens,
		temp:    opts.Temperature,
		system:  opts.System,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Complete issues a non-streaming Messages.New request carrying the prefix
// as a single user message and translates the response into a completion.
func (c *Client) Complete(ctx context.Context, req model.CompletionRequest) (model.Completion, error) {
	params, local, err := c.prepareRequest(req)
	if err != nil {
		return model.Completion{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return model.Completion{}, wrapAnthropicError("messages.new", err)
	}
	return translateResponse(msg, local)
}

// ScoreNext reports model.ErrConstraintsUnsupported. The Messages API has no
// token-level scoring surface.
func (c *Client) ScoreNext(context.Context, string, func(model.Token) bool) (model.Token, error) {
	return model.Token{}, model.ErrConstraintsUnsupported
}

func (c *Client) prepareRequest(req model.CompletionRequest) (*sdk.MessageNewParams, []string, error) {
	if req.Prefix == "" {
		return nil, nil, errors.New("anthropic: prefix is required")
	}
	maxTokens := c.effectiveMaxTokens(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prefix))},
		Model:     sdk.Model(c.modelID),
	}
	if c.system != "" {
		params.System = []sdk.TextBlockParam{{Text: c.system}}
	}
	api, local := splitStops(req.Stop)
	if len(api) > 0 {
		params.StopSequences = api
	}
	if t := c.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	return &params, local, nil
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

// splitStops partitions stop substrings into those the Messages API accepts
// and those it rejects. Anthropic refuses stop sequences consisting only of
// whitespace (a newline stop is the common case for transcript loops), so
// those are enforced client side after the response arrives.
func splitStops(stops []string) (api, local []string) {
	for _, s := range stops {
		if s == "" {
			continue
		}
		if strings.TrimSpace(s) == "" {
			local = append(local, s)
			continue
		}
		api = append(api, s)
	}
	return api, local
}

func translateResponse(msg *sdk.Message, localStops []string) (model.Completion, error) {
	if msg == nil {
		return model.Completion{}, errors.New("anthropic: empty response")
	}
	var buf strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			buf.WriteString(block.Text)
		}
	}
	out := model.Completion{Text: buf.String()}
	switch msg.StopReason {
	case sdk.StopReasonStopSequence:
		out.Reason = model.StopReasonStop
		out.StopText = msg.StopSequence
	case sdk.StopReasonMaxTokens:
		out.Reason = model.StopReasonMaxTokens
	default:
		out.Reason = model.StopReasonEnd
	}
	return cutAtStops(out, localStops), nil
}

// cutAtStops truncates the completion at the earliest occurrence of a
// client-side stop. Ties go to the first listed stop, matching the engine's
// own stop scanning.
func cutAtStops(out model.Completion, stops []string) model.Completion {
	cut := -1
	hit := ""
	for _, s := range stops {
		idx := strings.Index(out.Text, s)
		if idx < 0 {
			continue
		}
		if cut < 0 || idx < cut {
			cut = idx
			hit = s
		}
	}
	if cut < 0 {
		return out
	}
	out.Text = out.Text[:cut]
	out.StopText = hit
	out.Reason = model.StopReasonStop
	return out
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

func wrapAnthropicError(operation string, err error) error {
	if isRateLimited(err) {
		pe := model.NewProviderError(anthropicProviderName, operation, http.StatusTooManyRequests, model.ProviderErrorKindRateLimited, "rate_limited", "", true, err)
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

	return model.NewProviderError(anthropicProviderName, operation, status, kind, "", "", retryable, err)
}
