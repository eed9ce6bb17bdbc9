package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const streamChunkSize = 32 * 1024

type elevenLabsSynth struct {
	endpoint string
	apiKey   string
	modelID  string
	client   *http.Client
}

// NewElevenLabsSynth talks to the ElevenLabs text-to-speech REST API and
// returns MPEG audio.
func NewElevenLabsSynth(endpoint, apiKey, modelID string, client *http.Client) (Synthesizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("elevenlabs api key is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if modelID == "" {
		modelID = "eleven_v3"
	}
	return &elevenLabsSynth{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		modelID:  modelID,
		client:   client,
	}, nil
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (s *elevenLabsSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		if req.Voice == "" {
			errs <- errors.New("elevenlabs requires a voice id")
			return
		}
		body, err := json.Marshal(elevenLabsRequest{Text: req.Text, ModelID: s.modelID})
		if err != nil {
			errs <- err
			return
		}
		target := s.endpoint + "/text-to-speech/" + url.PathEscape(req.Voice)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			errs <- err
			return
		}
		httpReq.Header.Set("xi-api-key", s.apiKey)
		httpReq.Header.Set("Accept", "audio/mpeg")
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(httpReq)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			errs <- &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
			return
		}

		buf := make([]byte, streamChunkSize)
		sequence := 0
		for {
			n, readErr := io.ReadFull(resp.Body, buf)
			if n > 0 {
				audio := make([]byte, n)
				copy(audio, buf[:n])
				final := readErr != nil
				select {
				case chunks <- SynthChunk{SessionID: req.SessionID, Sequence: sequence, Format: "mp3", Audio: audio, Final: final}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
				sequence++
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				return
			}
			if readErr != nil {
				errs <- readErr
				return
			}
		}
	}()
	return chunks, errs
}
