package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kakehashi/internal/config"
)

// Client defines the outbound platform operations used by the pipeline.
type Client interface {
	// Reply sends messages in response to a specific inbound event, consuming
	// its reply token.
	Reply(ctx context.Context, replyToken string, messages []Message) error

	// Push sends messages to a user or room without a reply token.
	Push(ctx context.Context, to string, messages []Message) error

	// ShowTyping triggers the short-lived "processing" indicator toward a
	// user. Callers treat failures as log-and-continue; this call must never
	// decide the caller's own outcome.
	ShowTyping(ctx context.Context, userID string) error

	// GetProfile fetches the platform profile of a user.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

type httpClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a platform API client from the messenger configuration.
func NewClient(cfg config.MessengerConfig, log *slog.Logger) (Client, error) {
	if cfg.ChannelToken == "" {
		return nil, fmt.Errorf("messenger channel token is required")
	}

	return &httpClient{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		token:      cfg.ChannelToken,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With("component", "messenger_client"),
	}, nil
}

func (c *httpClient) Reply(ctx context.Context, replyToken string, messages []Message) error {
	if replyToken == "" {
		return fmt.Errorf("reply token is required")
	}
	if len(messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}

	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   messages,
	}
	return c.post(ctx, "/messages/reply", payload)
}

func (c *httpClient) Push(ctx context.Context, to string, messages []Message) error {
	if to == "" {
		return fmt.Errorf("push target is required")
	}
	if len(messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}

	payload := map[string]any{
		"to":       to,
		"messages": messages,
	}
	return c.post(ctx, "/messages/push", payload)
}

func (c *httpClient) ShowTyping(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	payload := map[string]any{
		"chatId": userID,
	}
	return c.post(ctx, "/chat/loading/start", payload)
}

func (c *httpClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	endpoint := c.baseURL + "/profile/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WarnContext(ctx, "Error closing response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile request returned status %d: %s", resp.StatusCode, string(body))
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}

	return &profile, nil
}

func (c *httpClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WarnContext(ctx, "Error closing response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("request to %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}

	c.log.DebugContext(ctx, "Platform API call succeeded",
		"path", path, "status", resp.StatusCode, "duration", time.Since(startTime))
	return nil
}
