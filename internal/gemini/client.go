// Package gemini wraps the Gemini API behind a small text-generation
// interface. Transient API failures are retried per model with status-aware
// backoff, and quota exhaustion rotates through the configured model list.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/genai"

	"kakehashi/internal/config"
)

// Client generates text from a system instruction and a user prompt.
type Client interface {
	Generate(ctx context.Context, instruction, prompt string) (string, error)
}

type client struct {
	genaiClient *genai.Client
	log         *slog.Logger
	models      []string
	temperature float32
	maxRetries  int
	timeout     time.Duration

	// Swappable in tests.
	generate func(ctx context.Context, model, instruction, prompt string) (string, error)
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Gemini-backed client from config.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if len(cfg.Models) == 0 {
		return nil, errors.New("at least one Gemini model must be configured")
	}

	c := &client{
		genaiClient: genaiClient,
		log:         log.With("component", "gemini"),
		models:      cfg.Models,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		timeout:     cfg.Timeout,
		sleep:       sleepContext,
	}
	c.generate = c.callModel
	return c, nil
}

// Generate produces text using the first configured model, rotating to the
// next model on quota exhaustion. Server errors are retried on the same
// model up to the retry budget before counting as exhausted for that model.
func (c *client) Generate(ctx context.Context, instruction, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error

modelLoop:
	for _, model := range c.models {
		for attempt := 0; attempt < c.maxRetries; attempt++ {
			text, err := c.generate(ctx, model, instruction, prompt)
			if err == nil {
				if strings.TrimSpace(text) == "" {
					return "", fmt.Errorf("model %s returned empty response", model)
				}
				return text, nil
			}
			lastErr = err

			switch classify(err) {
			case outcomeRotate:
				c.log.WarnContext(ctx, "Model quota exhausted, rotating",
					"model", model, "error", err)
				continue modelLoop

			case outcomeRetryJitter:
				if attempt+1 >= c.maxRetries {
					continue
				}
				delay := time.Duration(2000+rand.Intn(3000)) * time.Millisecond
				c.log.WarnContext(ctx, "Model overloaded, backing off",
					"model", model, "attempt", attempt, "delay", delay)
				if err := c.sleep(ctx, delay); err != nil {
					return "", err
				}

			case outcomeRetryExponential:
				if attempt+1 >= c.maxRetries {
					continue
				}
				delay := time.Duration(1<<attempt) * time.Second
				c.log.WarnContext(ctx, "Model returned server error, backing off",
					"model", model, "attempt", attempt, "delay", delay)
				if err := c.sleep(ctx, delay); err != nil {
					return "", err
				}

			default:
				return "", fmt.Errorf("generation failed on model %s: %w", model, err)
			}
		}
	}

	return "", fmt.Errorf("all models exhausted: %w", lastErr)
}

type outcome int

const (
	outcomeTerminal outcome = iota
	outcomeRotate
	outcomeRetryJitter
	outcomeRetryExponential
)

// classify maps an API error to a retry decision: quota exhaustion rotates
// models, overload and server errors retry the same model, everything else
// is terminal.
func classify(err error) outcome {
	var apiErr *genai.APIError
	if !errors.As(err, &apiErr) {
		return outcomeTerminal
	}
	switch apiErr.Code {
	case 429:
		return outcomeRotate
	case 503:
		return outcomeRetryJitter
	case 500:
		return outcomeRetryExponential
	default:
		return outcomeTerminal
	}
}

func (c *client) callModel(ctx context.Context, model, instruction, prompt string) (string, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(c.temperature),
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
	}

	result, err := c.genaiClient.Models.GenerateContent(ctx, model, genai.Text(prompt), genConfig)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
