package openai_test

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	openaimodel "goa.design/steer/features/model/openai"
	"goa.design/steer/runtime/model"
)

type mockCompletionsClient struct {
	lastParams sdk.CompletionNewParams
	resp       *sdk.Completion
	err        error
}

func (m *mockCompletionsClient) New(_ context.Context, body sdk.CompletionNewParams, _ ...option.RequestOption) (*sdk.Completion, error) {
	m.lastParams = body
	return m.resp, m.err
}

func TestClientComplete(t *testing.T) {
	mock := &mockCompletionsClient{
		resp: &sdk.Completion{
			Choices: []sdk.CompletionChoice{
				{FinishReason: "stop", Text: "49"},
			},
		},
	}
	client, err := openaimodel.New(mock, openaimodel.Options{Model: "gpt-3.5-turbo-instruct", MaxTokens: 64})
	require.NoError(t, err)

	got, err := client.Complete(context.Background(), model.CompletionRequest{
		Prefix: "Act 1: age(Leonardo DiCaprio)\nObservation 1: ",
		Stop:   []string{"\n"},
	})
	require.NoError(t, err)
	require.Equal(t, "49", got.Text)
	require.Equal(t, model.StopReasonStop, got.Reason)
	require.Empty(t, got.StopText)

	require.Equal(t, "gpt-3.5-turbo-instruct", string(mock.lastParams.Model))
	require.Equal(t, "Act 1: age(Leonardo DiCaprio)\nObservation 1: ", mock.lastParams.Prompt.OfString.Value)
	require.Equal(t, []string{"\n"}, mock.lastParams.Stop.OfStringArray)
	require.Equal(t, int64(64), mock.lastParams.MaxTokens.Value)
}

func TestClientComplete_LengthFinish(t *testing.T) {
	mock := &mockCompletionsClient{
		resp: &sdk.Completion{
			Choices: []sdk.CompletionChoice{
				{FinishReason: "length", Text: "trunc"},
			},
		},
	}
	client, err := openaimodel.New(mock, openaimodel.Options{Model: "gpt-3.5-turbo-instruct"})
	require.NoError(t, err)

	got, err := client.Complete(context.Background(), model.CompletionRequest{Prefix: "p", MaxTokens: 2})
	require.NoError(t, err)
	require.Equal(t, model.StopReasonMaxTokens, got.Reason)
	require.Equal(t, int64(2), mock.lastParams.MaxTokens.Value)
}

func TestClientComplete_NaturalEnd(t *testing.T) {
	mock := &mockCompletionsClient{
		resp: &sdk.Completion{
			Choices: []sdk.CompletionChoice{
				{FinishReason: "stop", Text: "done"},
			},
		},
	}
	client, err := openaimodel.New(mock, openaimodel.Options{Model: "gpt-3.5-turbo-instruct"})
	require.NoError(t, err)

	// Without a stop list, "stop" means the model ended on its own.
	got, err := client.Complete(context.Background(), model.CompletionRequest{Prefix: "p"})
	require.NoError(t, err)
	require.Equal(t, model.StopReasonEnd, got.Reason)
}

func TestClientComplete_TooManyStops(t *testing.T) {
	client, err := openaimodel.New(&mockCompletionsClient{}, openaimodel.Options{Model: "gpt-3.5-turbo-instruct"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.CompletionRequest{
		Prefix: "p",
		Stop:   []string{"a", "b", "c", "d", "e"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "at most 4 stop sequences")
}

func TestClientComplete_RateLimited(t *testing.T) {
	mock := &mockCompletionsClient{err: model.ErrRateLimited}
	client, err := openaimodel.New(mock, openaimodel.Options{Model: "gpt-3.5-turbo-instruct"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.CompletionRequest{Prefix: "p"})
	require.ErrorIs(t, err, model.ErrRateLimited)
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ProviderErrorKindRateLimited, pe.Kind())
	require.True(t, pe.Retryable())
}

func TestClientComplete_ProviderError(t *testing.T) {
	cause := errors.New("boom")
	mock := &mockCompletionsClient{err: cause}
	client, err := openaimodel.New(mock, openaimodel.Options{Model: "gpt-3.5-turbo-instruct"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.CompletionRequest{Prefix: "p"})
	require.ErrorIs(t, err, cause)
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, "openai", pe.Provider())
	require.Equal(t, model.ProviderErrorKindUnknown, pe.Kind())
}

func TestScoreNextUnsupported(t *testing.T) {
	client, err := openaimodel.New(&mockCompletionsClient{}, openaimodel.Options{Model: "gpt-3.5-turbo-instruct"})
	require.NoError(t, err)

	_, err = client.ScoreNext(context.Background(), "p", func(model.Token) bool { return true })
	require.ErrorIs(t, err, model.ErrConstraintsUnsupported)
}

func TestNewValidation(t *testing.T) {
	_, err := openaimodel.New(nil, openaimodel.Options{Model: "m"})
	require.Error(t, err)

	_, err = openaimodel.New(&mockCompletionsClient{}, openaimodel.Options{})
	require.Error(t, err)

	client, err := openaimodel.New(&mockCompletionsClient{}, openaimodel.Options{Model: "m"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), model.CompletionRequest{})
	require.Error(t, err)
}
