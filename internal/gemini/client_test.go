package gemini

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type call struct {
	model string
}

func newTestClient(t *testing.T, models []string, maxRetries int) (*client, *[]call, *[]time.Duration) {
	t.Helper()

	calls := &[]call{}
	sleeps := &[]time.Duration{}
	c := &client{
		log:        slog.New(slog.DiscardHandler),
		models:     models,
		maxRetries: maxRetries,
		timeout:    time.Minute,
		sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	}
	return c, calls, sleeps
}

func apiError(code int) error {
	return &genai.APIError{Code: code, Message: "stub"}
}

func TestGenerateRotatesModelsOnQuotaExhaustion(t *testing.T) {
	t.Parallel()

	c, calls, sleeps := newTestClient(t, []string{"primary", "secondary"}, 3)
	c.generate = func(_ context.Context, model, _, _ string) (string, error) {
		*calls = append(*calls, call{model: model})
		if model == "primary" {
			return "", apiError(429)
		}
		return "translated", nil
	}

	got, err := c.Generate(context.Background(), "instruction", "prompt")
	require.NoError(t, err)
	require.Equal(t, "translated", got)

	// 429 rotates without retrying the saturated model.
	require.Equal(t, []call{{model: "primary"}, {model: "secondary"}}, *calls)
	require.Empty(t, *sleeps)
}

func TestGenerateRetriesServerErrorsThenExhausts(t *testing.T) {
	t.Parallel()

	c, calls, sleeps := newTestClient(t, []string{"primary", "secondary"}, 3)
	c.generate = func(_ context.Context, model, _, _ string) (string, error) {
		*calls = append(*calls, call{model: model})
		return "", apiError(500)
	}

	_, err := c.Generate(context.Background(), "instruction", "prompt")
	require.Error(t, err)
	require.Contains(t, err.Error(), "all models exhausted")

	require.Len(t, *calls, 6, "every model gets its full retry budget")
	// Backoff doubles per attempt and is skipped on each model's last attempt.
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second}, *sleeps)
}

func TestGenerateJittersOnOverload(t *testing.T) {
	t.Parallel()

	c, calls, sleeps := newTestClient(t, []string{"primary"}, 3)
	c.generate = func(_ context.Context, model, _, _ string) (string, error) {
		*calls = append(*calls, call{model: model})
		if len(*calls) < 3 {
			return "", apiError(503)
		}
		return "ok", nil
	}

	got, err := c.Generate(context.Background(), "instruction", "prompt")
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Len(t, *calls, 3)

	require.Len(t, *sleeps, 2)
	for _, d := range *sleeps {
		require.GreaterOrEqual(t, d, 2000*time.Millisecond)
		require.Less(t, d, 5000*time.Millisecond)
	}
}

func TestGenerateFailsFastOnNonRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "auth failure", err: apiError(403)},
		{name: "bad request", err: apiError(400)},
		{name: "plain error", err: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, calls, _ := newTestClient(t, []string{"primary", "secondary"}, 3)
			c.generate = func(_ context.Context, model, _, _ string) (string, error) {
				*calls = append(*calls, call{model: model})
				return "", tt.err
			}

			_, err := c.Generate(context.Background(), "instruction", "prompt")
			require.Error(t, err)
			require.Len(t, *calls, 1, "non-retryable errors must not burn remaining models")
		})
	}
}

func TestGenerateRejectsEmptyResponse(t *testing.T) {
	t.Parallel()

	c, calls, _ := newTestClient(t, []string{"primary", "secondary"}, 3)
	c.generate = func(_ context.Context, model, _, _ string) (string, error) {
		*calls = append(*calls, call{model: model})
		return "  \n ", nil
	}

	_, err := c.Generate(context.Background(), "instruction", "prompt")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty response")
	require.Len(t, *calls, 1)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want outcome
	}{
		{name: "quota", err: apiError(429), want: outcomeRotate},
		{name: "overloaded", err: apiError(503), want: outcomeRetryJitter},
		{name: "server error", err: apiError(500), want: outcomeRetryExponential},
		{name: "not found", err: apiError(404), want: outcomeTerminal},
		{name: "non api error", err: errors.New("boom"), want: outcomeTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
