package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vocalis-ai/vocalis/types"
)

// TTS synthesizes reply chunks via /audio/speech.
type TTS struct {
	client *Client
}

// Name implements provider.TTS.
func (t *TTS) Name() string { return ProviderName }

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Synthesize implements provider.TTS, returning the encoded audio body.
func (t *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(speechRequest{
		Model:          t.client.cfg.TTSModel,
		Input:          text,
		Voice:          t.client.cfg.Voice,
		ResponseFormat: "opus",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.client.endpoint("/audio/speech"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.client.authorize(req)

	resp, err := t.client.http.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrSynthesis, "speech request failed").
			WithProvider(ProviderName).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(types.ErrSynthesis, resp.StatusCode, resp.Body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrSynthesis, "failed to read audio body").
			WithProvider(ProviderName).WithCause(err)
	}
	return data, nil
}
