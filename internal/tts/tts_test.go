package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"testing"
)

func TestElevenLabsSynthesize(t *testing.T) {
	audio := bytes.Repeat([]byte{0xFF, 0xF3}, streamChunkSize) // spans two read chunks
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "secret" || r.Header.Get("Accept") != "audio/mpeg" {
			t.Errorf("missing auth or accept header: %v", r.Header)
		}
		var body elevenLabsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Text != "[warmly] Welcome." || body.ModelID != "eleven_v3" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	synth, err := NewElevenLabsSynth(srv.URL+"/v1", "secret", "", srv.Client())
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	got, err := Collect(context.Background(), synth, SynthRequest{Text: "[warmly] Welcome.", Voice: "voice-123"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Fatalf("audio mismatch: got %d bytes, want %d", len(got), len(audio))
	}
}

func TestElevenLabsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota_exceeded"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	synth, err := NewElevenLabsSynth(srv.URL, "secret", "eleven_v3", nil)
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	_, err = Collect(context.Background(), synth, SynthRequest{Text: "hi", Voice: "v"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if !errors.Is(err, ErrStatus) {
		t.Fatal("StatusError should match ErrStatus")
	}
	if statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", statusErr.Code)
	}
}

func TestElevenLabsRequiresKeyAndVoice(t *testing.T) {
	if _, err := NewElevenLabsSynth("http://localhost", "", "", nil); err == nil {
		t.Fatal("expected error for missing api key")
	}
	synth, err := NewElevenLabsSynth("http://localhost", "k", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Collect(context.Background(), synth, SynthRequest{Text: "hi"}); err == nil {
		t.Fatal("expected error for missing voice")
	}
}

func TestMockSynthIsDeterministic(t *testing.T) {
	synth := NewMockSynth("")
	a, err := Collect(context.Background(), synth, SynthRequest{Text: "hi", Voice: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Collect(context.Background(), synth, SynthRequest{Text: "hi", Voice: "v1"})
	c, _ := Collect(context.Background(), synth, SynthRequest{Text: "hi", Voice: "v2"})
	if !bytes.Equal(a, b) || bytes.Equal(a, c) {
		t.Fatal("mock audio must depend only on voice and text")
	}
}

func TestExecSynth(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	first := base64.StdEncoding.EncodeToString([]byte("ID3"))
	second := base64.StdEncoding.EncodeToString([]byte("frames"))
	script := filepath.Join(t.TempDir(), "tts.sh")
	body := "cat >/dev/null\n" +
		"echo '{\"audio_base64\":\"" + first + "\",\"final\":false}'\n" +
		"echo '{\"audio_base64\":\"" + second + "\",\"final\":true}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	synth, err := NewExecSynth("sh "+script, "mp3")
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	got, err := Collect(context.Background(), synth, SynthRequest{Text: "hi", Voice: "v"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if string(got) != "ID3frames" {
		t.Fatalf("unexpected audio %q", got)
	}
}

func TestRandomDirectionalLine(t *testing.T) {
	pattern := regexp.MustCompile(`^\[[a-z]+\] .+`)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		line := RandomDirectionalLine(rng)
		if !pattern.MatchString(line) {
			t.Fatalf("unexpected line shape %q", line)
		}
	}
	a := RandomDirectionalLine(rand.New(rand.NewSource(42)))
	b := RandomDirectionalLine(rand.New(rand.NewSource(42)))
	if a != b {
		t.Fatalf("same seed should give the same line: %q vs %q", a, b)
	}
}
