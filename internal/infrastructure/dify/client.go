package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ReviewInsights/internal/analysis"
	"ReviewInsights/internal/config"
	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

const maxBodyBytes = 1 << 20

// Client runs the review-analysis workflow on a Dify blocking endpoint.
type Client struct {
	endpoint    string
	apiKey      string
	user        string
	maxAttempts int
	retryDelay  time.Duration
	http        *http.Client
	logger      *slog.Logger
}

var _ ports.Analyzer = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.AnalysisConfig, logger *slog.Logger) *Client {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint:    strings.TrimSpace(cfg.Endpoint),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		user:        cfg.User,
		maxAttempts: attempts,
		retryDelay:  cfg.RetryDelay,
		http:        &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type workflowRequest struct {
	Inputs       workflowInputs `json:"inputs"`
	ResponseMode string         `json:"response_mode"`
	User         string         `json:"user"`
}

type workflowInputs struct {
	ReviewText string `json:"review_text"`
}

// Analyze sends one review to the workflow, retrying transport, status and
// decode failures. Exhaustion is reported through the outcome.
func (c *Client) Analyze(ctx context.Context, text string) domain.AnalysisOutcome {
	var outcome domain.AnalysisOutcome

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		outcome.Attempts = attempt

		result, err := c.analyzeOnce(ctx, text)
		if err == nil {
			outcome.Result = &result
			outcome.Err = nil
			return outcome
		}
		outcome.Err = err
		c.warn("analysis attempt failed", "attempt", attempt, "max_attempts", c.maxAttempts, "error", err)

		if attempt == c.maxAttempts {
			break
		}
		if err := sleep(ctx, c.retryDelay); err != nil {
			outcome.Err = err
			break
		}
	}

	return outcome
}

func (c *Client) analyzeOnce(ctx context.Context, text string) (domain.AnalysisResult, error) {
	body, err := json.Marshal(workflowRequest{
		Inputs:       workflowInputs{ReviewText: text},
		ResponseMode: "blocking",
		User:         c.user,
	})
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.AnalysisResult{}, fmt.Errorf("unexpected status %s: %s", resp.Status, snippet(payload))
	}

	result, err := analysis.Decode(payload)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("decode response: %w (body: %s)", err, snippet(payload))
	}

	return result, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func snippet(body []byte) string {
	const limit = 200
	runes := []rune(strings.TrimSpace(string(body)))
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return string(runes)
}

func (c *Client) warn(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
