package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/fateweaver/internal/config"
	"github.com/loqalabs/fateweaver/internal/world"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memoryAssignments struct {
	stored  map[string]string
	lookups int
	err     error
}

func (m *memoryAssignments) VoiceAssignment(_ context.Context, speaker string) (string, bool, error) {
	m.lookups++
	if m.err != nil {
		return "", false, m.err
	}
	id, ok := m.stored[speaker]
	return id, ok, nil
}

func (m *memoryAssignments) AssignVoice(_ context.Context, speaker, voiceID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if existing, ok := m.stored[speaker]; ok {
		return existing, nil
	}
	m.stored[speaker] = voiceID
	return voiceID, nil
}

func TestResolveOrder(t *testing.T) {
	roster := world.New([]world.Character{
		{Name: "Brom", VoiceID: "brom-own"},
		{Name: "Aria"},
		{Name: "Kell"},
		{Name: "Tamsin"},
	}, nil)
	cfg := config.TTSConfig{
		NarratorVoice: "narrator-voice",
		DefaultVoice:  "default-voice",
		Voices:        map[string]string{"Brom": "brom-config", "Aria": "aria-config"},
		VoicePool:     []string{"pool-a", "pool-b", "pool-c"},
	}
	store := &memoryAssignments{stored: map[string]string{"Kell": "kell-recorded"}}
	r := NewResolver(cfg, roster, store, newLogger())
	ctx := context.Background()

	cases := map[string]string{
		"Narrator": "narrator-voice",
		"Brom":     "brom-own",
		"Aria":     "aria-config",
		"Kell":     "kell-recorded",
	}
	for speaker, want := range cases {
		got, err := r.Resolve(ctx, speaker)
		if err != nil || got != want {
			t.Fatalf("Resolve(%q) = %q, %v; want %q", speaker, got, err, want)
		}
	}

	pick, err := r.Resolve(ctx, "Tamsin")
	if err != nil {
		t.Fatalf("pool pick: %v", err)
	}
	if pick != cfg.VoicePool[poolIndex("Tamsin", len(cfg.VoicePool))] {
		t.Fatalf("unexpected pool pick %q", pick)
	}
	if store.stored["Tamsin"] != pick {
		t.Fatalf("pool pick should be recorded, got %v", store.stored)
	}
}

func TestResolveIsMemoized(t *testing.T) {
	store := &memoryAssignments{stored: map[string]string{}}
	r := NewResolver(config.TTSConfig{VoicePool: []string{"p1", "p2"}}, world.New(nil, nil), store, newLogger())
	first, _ := r.Resolve(context.Background(), "Stranger")
	second, _ := r.Resolve(context.Background(), "Stranger")
	if first != second {
		t.Fatalf("voice changed between calls: %q vs %q", first, second)
	}
	if store.lookups != 1 {
		t.Fatalf("expected a single assignment lookup, got %d", store.lookups)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	store := &memoryAssignments{err: errors.New("disk on fire")}
	r := NewResolver(config.TTSConfig{DefaultVoice: "default-voice"}, nil, store, newLogger())
	got, err := r.Resolve(context.Background(), "Anyone")
	if err != nil || got != "default-voice" {
		t.Fatalf("expected default voice, got %q %v", got, err)
	}
}

func TestResolveNarratorUsesDefaultWhenUnset(t *testing.T) {
	r := NewResolver(config.TTSConfig{DefaultVoice: "default-voice"}, nil, nil, newLogger())
	if got, _ := r.Resolve(context.Background(), "Narrator"); got != "default-voice" {
		t.Fatalf("expected default voice for narrator, got %q", got)
	}
}

func TestResolveNoVoice(t *testing.T) {
	r := NewResolver(config.TTSConfig{}, nil, nil, newLogger())
	if _, err := r.Resolve(context.Background(), "Brom"); !errors.Is(err, ErrNoVoice) {
		t.Fatalf("expected ErrNoVoice, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "Narrator"); !errors.Is(err, ErrNoVoice) {
		t.Fatalf("expected ErrNoVoice for narrator, got %v", err)
	}
}
