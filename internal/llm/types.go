package llm

import (
	"context"
	"strings"
	"time"

	"github.com/loqalabs/fateweaver/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Chunk represents model output. Backends that cannot stream emit a single
// non-partial chunk.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// OptionsFromConfig builds request defaults from config.
func OptionsFromConfig(cfg config.LLMConfig) Request {
	return Request{Model: cfg.Model, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
}

// Completion is the assembled output of one generation call.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Collect runs a generation and concatenates every chunk into one completion.
func Collect(ctx context.Context, g Generator, req Request) (Completion, error) {
	var (
		b   strings.Builder
		out Completion
	)
	err := g.Generate(ctx, req, func(chunk Chunk) error {
		b.WriteString(chunk.Content)
		if chunk.PromptTokens > 0 {
			out.PromptTokens = chunk.PromptTokens
		}
		if chunk.CompletionTokens > 0 {
			out.CompletionTokens = chunk.CompletionTokens
		}
		out.Latency = chunk.Latency
		return nil
	})
	out.Text = b.String()
	return out, err
}
