package ai

import (
	"context"
	"fmt"
	"strings"
)

// OllamaGenerator wraps OllamaClient with a fixed model for chat
// using the streaming Ollama /api/chat endpoint.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

// NewOllamaGenerator builds an Ollama-based ChatStreamer.
func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: model}
}

// StreamChat implements ChatStreamer. Ollama streams one JSON object per line.
func (g *OllamaGenerator) StreamChat(ctx context.Context, systemPrompt string, messages []ChatMessage, onDelta DeltaFunc) error {
	model := strings.TrimSpace(g.model)
	if model == "" {
		return fmt.Errorf("ollama generation model required")
	}

	body, err := g.client.postStream(ctx, "/api/chat", ollamaChatRequest{
		Model:    model,
		Messages: withSystem(systemPrompt, messages),
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("ollama generate: %w", err)
	}
	defer body.Close()

	sawText := false
	err = decodeNDJSON(body, func(chunk ollamaChatChunk) (bool, error) {
		if chunk.Error != "" {
			return true, fmt.Errorf("ollama api error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			sawText = true
			if err := onDelta(chunk.Message.Content); err != nil {
				return true, err
			}
		}
		return chunk.Done, nil
	})
	if err != nil {
		return err
	}
	if !sawText {
		return ErrEmptyReply
	}
	return nil
}

// Ollama /api/chat request/response types.

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatChunk struct {
	Message ChatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}
