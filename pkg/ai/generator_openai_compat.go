package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"bookie/pkg/stream"
)

// OpenAICompatGenerator calls any OpenAI-compatible /v1/chat/completions endpoint.
// Works with vLLM, LiteLLM, LocalAI, Deepseek, OpenRouter, self-hosted models, etc.
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds an OpenAI-compatible ChatStreamer.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OpenAICompatGenerator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		// no client timeout: replies stream for as long as ctx allows
		httpClient: &http.Client{},
	}
}

// StreamChat requests a streamed completion and forwards every content delta.
func (g *OpenAICompatGenerator) StreamChat(ctx context.Context, systemPrompt string, messages []ChatMessage, onDelta DeltaFunc) error {
	if g.model == "" {
		return fmt.Errorf("openai-compat generation model required")
	}
	body, err := json.Marshal(oaiChatRequest{
		Model:    g.model,
		Messages: withSystem(systemPrompt, messages),
		Stream:   true,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai-compat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("openai-compat api error: %s", resp.Status)
	}

	var (
		sawText bool
		cbErr   error
	)
	dec := stream.NewDecoder(func(payload string) {
		if cbErr != nil {
			return
		}
		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			cbErr = fmt.Errorf("openai-compat api error: %s", chunk.Error.Message)
			return
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			return
		}
		sawText = true
		cbErr = onDelta(chunk.Choices[0].Delta.Content)
	})

	buf := make([]byte, 4096)
	for cbErr == nil && !dec.Done() {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			_, _ = dec.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			dec.Flush()
			break
		}
		if err != nil {
			return fmt.Errorf("openai-compat read: %w", err)
		}
	}
	if cbErr != nil {
		return cbErr
	}
	if !sawText {
		return ErrEmptyReply
	}
	return nil
}

// OpenAI-compatible request/response types.

type oaiChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
