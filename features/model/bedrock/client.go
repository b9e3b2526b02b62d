// Package bedrock provides a model.Backend backed by the AWS Bedrock
// Converse API. It carries the prefix as a single user message, maps the
// token budget and stop sequences into Bedrock's InferenceConfiguration, and
// translates Converse responses back into the generic completion
// structures. Converse has no token-level scoring surface, so constrained
// segments report model.ErrConstraintsUnsupported.
package bedrock

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/steer/runtime/model"
)

const bedrockProviderName = "bedrock"

type (
	// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
	// required by the adapter. It matches *bedrockruntime.Client so callers
	// can pass either the real client or a mock in tests.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	}

	// Options configures the Bedrock adapter.
	Options struct {
		// Model is the Bedrock model identifier, for example
		// "anthropic.claude-3-5-haiku-20241022-v1:0". Required.
		Model string

		// MaxTokens sets the completion cap when a request does not specify
		// MaxTokens. When zero or negative the adapter omits MaxTokens so
		// Bedrock uses its own default.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float32

		// System is an optional system prompt sent with every request.
		System string
	}

	// Client implements model.Backend on top of AWS Bedrock Converse.
	Client struct {
		runtime RuntimeClient
		modelID string
		maxTok  int
		temp    float32
		system  string
	}
)

// New builds a Bedrock-backed completion client from the provided runtime
// client and configuration options.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{
		runtime: runtime,
		modelID: opts.Model,
		maxTok:  opts.MaxTokens,
		temp:    opts.Temperature,
		system:  opts.System,
	}, nil
}

// Complete issues a Converse request carrying the prefix as a single user
// message and translates the response into a completion.
func (c *Client) Complete(ctx context.Context, req model.CompletionRequest) (model.Completion, error) {
	input, local, err := c.buildConverseInput(req)
	if err != nil {
		return model.Completion{}, err
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return model.Completion{}, wrapBedrockError("converse", err)
	}
	return translateResponse(output, local)
}

// ScoreNext reports model.ErrConstraintsUnsupported. Converse has no
// token-level scoring surface.
func (c *Client) ScoreNext(context.Context, string, func(model.Token) bool) (model.Token, error) {
	return model.Token{}, model.ErrConstraintsUnsupported
}

func (c *Client) buildConverseInput(req model.CompletionRequest) (*bedrockruntime.ConverseInput, []string, error) {
	if req.Prefix == "" {
		return nil, nil, errors.New("bedrock: prefix is required")
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prefix}},
			},
		},
	}
	if c.system != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: c.system}}
	}
	api, local := splitStops(req.Stop)
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature, api); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input, local, nil
}

func (c *Client) inferenceConfig(maxTokens int, temp float64, stops []string) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if tokens := c.effectiveMaxTokens(maxTokens); tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // AWS SDK requires int32
	}
	if t := c.effectiveTemperature(temp); t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if len(stops) > 0 {
		cfg.StopSequences = stops
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil && len(cfg.StopSequences) == 0 {
		return nil
	}
	return &cfg
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(requested float64) float32 {
	if requested > 0 {
		return float32(requested)
	}
	return c.temp
}

// splitStops partitions stop substrings into those Converse accepts and
// those enforced client side. The Anthropic models fronted by Bedrock reject
// stop sequences consisting only of whitespace, so those are applied after
// the response arrives.
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

func translateResponse(output *bedrockruntime.ConverseOutput, localStops []string) (model.Completion, error) {
	if output == nil {
		return model.Completion{}, errors.New("bedrock: response is nil")
	}
	var buf strings.Builder
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if v, ok := block.(*brtypes.ContentBlockMemberText); ok {
				buf.WriteString(v.Value)
			}
		}
	}
	out := model.Completion{Text: buf.String()}
	switch output.StopReason {
	case brtypes.StopReasonStopSequence:
		// Converse does not echo which sequence fired, so StopText stays
		// empty unless a client-side stop cuts the text below.
		out.Reason = model.StopReasonStop
	case brtypes.StopReasonMaxTokens:
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
// condition. It treats both HTTP 429 responses and provider error codes like
// ThrottlingException as rate-limited signals and is idempotent when
// ErrRateLimited is already present in the error chain.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests {
		return true
	}

	return false
}

func wrapBedrockError(operation string, err error) error {
	if isRateLimited(err) {
		pe := model.NewProviderError(bedrockProviderName, operation, http.StatusTooManyRequests, model.ProviderErrorKindRateLimited, "rate_limited", "", true, err)
		return errors.Join(model.ErrRateLimited, pe)
	}

	var (
		status int
		code   string
		msg    string
	)

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
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

	return model.NewProviderError(bedrockProviderName, operation, status, kind, code, msg, retryable, err)
}
