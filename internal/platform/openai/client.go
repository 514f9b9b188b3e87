package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/chatcore-backend/internal/generation"
	"github.com/yungbote/chatcore-backend/internal/platform/ctxutil"
	"github.com/yungbote/chatcore-backend/internal/platform/httpx"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

type Config struct {
	APIKey  string
	BaseURL string

	// Model is used when a request does not name one.
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Temperature *float64
}

// Client talks to the Responses API. It streams assistant turns as part
// fragments and produces short one-shot completions for titles.
type Client struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	model       string
	httpClient  *http.Client
	maxRetries  int
	temperature *float64

	// streamClient has no timeout; streams are bounded by the session deadline.
	streamClient *http.Client

	// Models that rejected temperature once are remembered and sent without it.
	noTempMu   sync.RWMutex
	noTempSeen map[string]time.Time
	noTempTTL  time.Duration
}

var (
	_ generation.Generator     = (*Client)(nil)
	_ generation.TextGenerator = (*Client)(nil)
)

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4.1-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		log:          log.With("service", "OpenAIClient"),
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        model,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		maxRetries:   maxRetries,
		temperature:  cfg.Temperature,
		noTempSeen:   map[string]time.Time{},
		noTempTTL:    24 * time.Hour,
	}, nil
}

func (c *Client) DefaultModel() string { return c.model }

func (c *Client) modelOr(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

// -------------------- temperature --------------------

func (c *Client) modelIsNoTemp(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	c.noTempMu.RLock()
	ts, ok := c.noTempSeen[m]
	c.noTempMu.RUnlock()
	return ok && time.Since(ts) < c.noTempTTL
}

func (c *Client) noteNoTempModel(model string) {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return
	}
	c.noTempMu.Lock()
	c.noTempSeen[m] = time.Now().UTC()
	c.noTempMu.Unlock()
}

func (c *Client) applyTemperature(req *responsesRequest) {
	if req == nil || c.temperature == nil || c.modelIsNoTemp(req.Model) {
		return
	}
	req.Temperature = c.temperature
}

func isUnsupportedTemperatureMessage(s string) bool {
	msg := strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(msg, "temperature") {
		return false
	}
	for _, marker := range []string{
		"unsupported parameter",
		"unknown parameter",
		"unrecognized parameter",
		"not supported",
		"does not support",
		"only the default",
		"unsupported_value",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// -------------------- transport --------------------

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// do retries transient failures with jittered exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := httpx.DefaultBackoff()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if !httpx.Retryable(err) || attempt >= c.maxRetries {
			return err
		}

		wait := backoff.Delay(attempt, resp)
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", wait.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// doWithTempFallback retries exactly once without temperature if the model rejects it.
func (c *Client) doWithTempFallback(ctx context.Context, req *responsesRequest, out any) error {
	err := c.do(ctx, http.MethodPost, "/v1/responses", req, out)
	if err == nil || req.Temperature == nil || !isUnsupportedTemperatureMessage(err.Error()) {
		return err
	}
	c.noteNoTempModel(req.Model)
	req.Temperature = nil
	return c.do(ctx, http.MethodPost, "/v1/responses", req, out)
}

// -------------------- one-shot text --------------------

func (c *Client) GenerateText(ctx context.Context, model string, system string, user string) (string, error) {
	req := responsesRequest{
		Model:        c.modelOr(model),
		Instructions: strings.TrimSpace(system),
		Input:        []inputItem{{Role: "user", Content: user}},
	}
	c.applyTemperature(&req)

	var resp responsesResponse
	if err := c.doWithTempFallback(ctx, &req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no output_text found in response")
	}
	return text, nil
}
