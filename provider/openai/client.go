package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/provider"
	"github.com/vocalis-ai/vocalis/types"
)

// ProviderName is the registry key for all three capabilities.
const ProviderName = "openai"

// Register adds the OpenAI-compatible ASR, LLM, and TTS factories.
func Register(r *provider.Registry) {
	r.RegisterASR(ProviderName, func(cfg *config.Config, logger *zap.Logger) (provider.ASR, error) {
		c, err := NewClient(cfg.OpenAI, logger)
		if err != nil {
			return nil, err
		}
		return &ASR{client: c}, nil
	})
	r.RegisterLLM(ProviderName, func(cfg *config.Config, logger *zap.Logger) (provider.LLM, error) {
		c, err := NewClient(cfg.OpenAI, logger)
		if err != nil {
			return nil, err
		}
		return &LLM{client: c}, nil
	})
	r.RegisterTTS(ProviderName, func(cfg *config.Config, logger *zap.Logger) (provider.TTS, error) {
		c, err := NewClient(cfg.OpenAI, logger)
		if err != nil {
			return nil, err
		}
		return &TTS{client: c}, nil
	})
}

// Client carries the HTTP client, endpoint, and credentials shared by the
// three capability implementations.
type Client struct {
	cfg    config.OpenAIConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient validates the endpoint configuration and builds a client.
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai base_url must be set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "openai_client")),
	}, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

// mapHTTPError converts an upstream status into a structured error with an
// appropriate retryable flag. Gateway-class failures say nothing about the
// request itself and carry the upstream code instead of the capability one.
func mapHTTPError(code types.ErrorCode, status int, body io.Reader) *types.Error {
	msg := readErrorMessage(body)
	switch status {
	case http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		code = types.ErrUpstream
	}
	e := types.NewError(code, fmt.Sprintf("upstream returned %d: %s", status, msg)).
		WithProvider(ProviderName)
	if status == http.StatusTooManyRequests || status >= 500 {
		e = e.WithRetryable(true)
	}
	return e
}

// readErrorMessage extracts the message from a JSON error response, falling
// back to the raw body.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
