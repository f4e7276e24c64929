package ai

import (
	"context"
	"errors"
)

// ErrEmptyReply is returned when the provider finished without producing text.
var ErrEmptyReply = errors.New("empty reply from model")

// ChatMessage is one turn sent to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DeltaFunc receives reply text as it arrives. Returning an error stops the stream.
type DeltaFunc func(delta string) error

// ChatStreamer streams a chat completion. Both providers (OpenAI-compatible
// and Ollama) implement it.
type ChatStreamer interface {
	StreamChat(ctx context.Context, systemPrompt string, messages []ChatMessage, onDelta DeltaFunc) error
}

func withSystem(systemPrompt string, messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, ChatMessage{Role: "system", Content: systemPrompt})
	}
	return append(out, messages...)
}
