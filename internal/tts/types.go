package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// ErrStatus matches any *StatusError through errors.Is.
var ErrStatus = errors.New("tts status error")

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk carries a slice of the encoded audio stream.
type SynthChunk struct {
	SessionID string
	Sequence  int
	Format    string
	Audio     []byte
	Final     bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// StatusError reports a non-success answer from a remote synthesis service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tts failed: %d %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Collect drains a synthesis stream into a single payload. Any error on the
// stream fails the whole call.
func Collect(ctx context.Context, s Synthesizer, req SynthRequest) ([]byte, error) {
	chunks, errs := s.Synthesize(ctx, req)
	var buf bytes.Buffer
	var firstErr error
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			buf.Write(chunk.Audio)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("tts returned no audio")
	}
	return buf.Bytes(), nil
}
