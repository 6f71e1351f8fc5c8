package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/provider"
	"github.com/vocalis-ai/vocalis/types"
)

// LLM streams chat completions via server-sent events.
type LLM struct {
	client *Client
}

// Name implements provider.LLM.
func (l *LLM) Name() string { return ProviderName }

type chatRequest struct {
	Model    string             `json:"model"`
	Messages []provider.Message `json:"messages"`
	Stream   bool               `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate implements provider.LLM. The returned channel carries incremental
// text fragments and is closed on completion, upstream error, or context
// cancellation.
func (l *LLM) Generate(ctx context.Context, history []provider.Message, userText string) (<-chan string, error) {
	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, provider.Message{Role: "user", Content: userText})

	payload, err := json.Marshal(chatRequest{
		Model:    l.client.cfg.ChatModel,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.client.endpoint("/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	l.client.authorize(req)

	// The shared client timeout would kill long generations mid-stream, so
	// streaming relies on ctx alone.
	httpClient := &http.Client{Transport: l.client.http.Transport}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrGeneration, "chat request failed").
			WithProvider(ProviderName).WithRetryable(true).WithCause(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapHTTPError(types.ErrGeneration, resp.StatusCode, resp.Body)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				if data == "[DONE]" {
					return
				}
				continue
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				l.client.logger.Warn("skipping malformed stream chunk", zap.Error(err))
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case out <- choice.Delta.Content:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			l.client.logger.Warn("chat stream ended with error", zap.Error(err))
		}
	}()

	return out, nil
}
