package tts

import (
	"context"
	"time"
)

type mockSynth struct {
	format string
}

// NewMockSynth returns a synthesizer whose audio is a deterministic function
// of the voice and text.
func NewMockSynth(format string) Synthesizer {
	if format == "" {
		format = "mp3"
	}
	return &mockSynth{format: format}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(10 * time.Millisecond):
		}
		chunks <- SynthChunk{
			SessionID: req.SessionID,
			Sequence:  0,
			Format:    m.format,
			Audio:     []byte("MOCK-AUDIO|" + req.Voice + "|" + req.Text),
			Final:     true,
		}
	}()
	return chunks, errs
}
