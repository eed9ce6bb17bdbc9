package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

type mockGenerator struct{}

// NewMockGenerator returns a generator that answers every prompt with a
// narrator line echoing the final user message, encoded as contract JSON.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	message := req.Prompt
	if idx := strings.LastIndex(message, "\nUser: "); idx >= 0 {
		message = message[idx+len("\nUser: "):]
	}
	content, err := json.Marshal(map[string]string{
		"speaker":  "Narrator",
		"text":     "[mock] The world considers: " + strings.TrimSpace(message),
		"location": "",
	})
	if err != nil {
		return err
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   string(content),
		Partial:   false,
		Latency:   20 * time.Millisecond,
		TraceID:   req.TraceID,
	})
}
