package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stride-app/backend/internal/app/metrics"
	"github.com/stride-app/backend/pkg/logger"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultMaxAttempts = 3
	initialRetryDelay  = time.Second
)

// Client calls an OpenAI-compatible chat completions endpoint. Rate limits
// and server errors are retried with exponential backoff and jitter; other
// failures surface immediately.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	retryDelay  time.Duration
	httpClient  *http.Client
	log         *logger.Logger
	rand        *rand.Rand
}

// NewClient constructs a completions client.
func NewClient(httpClient *http.Client, baseURL, apiKey, model string, maxAttempts int, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if model == "" {
		model = defaultModel
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if log == nil {
		log = logger.NewDefault("planner")
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:      apiKey,
		model:       model,
		maxAttempts: maxAttempts,
		retryDelay:  initialRetryDelay,
		httpClient:  httpClient,
		log:         log,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// Complete sends the system and user messages and returns the assistant
// reply.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("planner api key not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	reply, err := c.complete(ctx, body)
	if err != nil {
		metrics.RecordAIRequest("error", time.Since(start))
		return "", err
	}
	metrics.RecordAIRequest("ok", time.Since(start))
	return reply, nil
}

func (c *Client) complete(ctx context.Context, body []byte) (string, error) {
	url := c.baseURL + "/v1/chat/completions"

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryDelay
			delay += time.Duration(c.rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("completion request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			if msg := gjson.GetBytes(respBody, "error.message").String(); msg != "" {
				lastErr = fmt.Errorf("completion api %d: %s", resp.StatusCode, msg)
			} else {
				lastErr = fmt.Errorf("completion api %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				c.log.WithField("status", resp.StatusCode).
					WithField("attempt", attempt+1).
					Warn("completion retryable failure")
				continue
			}
			return "", lastErr
		}

		content := gjson.GetBytes(respBody, "choices.0.message.content").String()
		if content == "" {
			return "", fmt.Errorf("completion response had no content")
		}
		return content, nil
	}

	return "", fmt.Errorf("completion failed after %d attempts: %w", c.maxAttempts, lastErr)
}
