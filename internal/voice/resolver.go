package voice

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"

	"github.com/loqalabs/fateweaver/internal/config"
	"github.com/loqalabs/fateweaver/internal/conversation"
	"github.com/loqalabs/fateweaver/internal/world"
)

// ErrNoVoice is returned when no source yields a voice for a speaker.
var ErrNoVoice = errors.New("no voice available")

// Roster exposes the character entries the resolver reads voiceId from.
type Roster interface {
	Character(name string) (world.Character, bool)
}

// Assignments persists pool picks so a speaker keeps its voice across
// restarts. *catalog.Catalog satisfies it.
type Assignments interface {
	VoiceAssignment(ctx context.Context, speaker string) (string, bool, error)
	AssignVoice(ctx context.Context, speaker, voiceID string) (string, error)
}

// Resolver maps speakers to voice identities. Lookups are memoized for the
// life of the process.
type Resolver struct {
	roster      Roster
	assignments Assignments
	configured  map[string]string
	pool        []string
	narrator    string
	fallback    string
	logger      *slog.Logger

	mu       sync.RWMutex
	resolved map[string]string
}

func NewResolver(cfg config.TTSConfig, roster Roster, assignments Assignments, logger *slog.Logger) *Resolver {
	configured := make(map[string]string, len(cfg.Voices))
	for speaker, id := range cfg.Voices {
		if id != "" {
			configured[speaker] = id
		}
	}
	var pool []string
	for _, id := range cfg.VoicePool {
		if id != "" {
			pool = append(pool, id)
		}
	}
	narrator := cfg.NarratorVoice
	if narrator == "" {
		narrator = cfg.DefaultVoice
	}
	return &Resolver{
		roster:      roster,
		assignments: assignments,
		configured:  configured,
		pool:        pool,
		narrator:    narrator,
		fallback:    cfg.DefaultVoice,
		logger:      logger.With(slog.String("component", "voice")),
		resolved:    make(map[string]string),
	}
}

// Resolve returns the voice for speaker. Order: the character's own voiceId,
// the configured voices map, a recorded assignment, a stable pick from the
// pool (recorded), then the default voice. The narrator always uses the
// narrator voice.
func (r *Resolver) Resolve(ctx context.Context, speaker string) (string, error) {
	if speaker == conversation.Narrator {
		if r.narrator == "" {
			return "", ErrNoVoice
		}
		return r.narrator, nil
	}

	r.mu.RLock()
	id, ok := r.resolved[speaker]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id = r.lookup(ctx, speaker)
	if id == "" {
		return "", ErrNoVoice
	}
	r.mu.Lock()
	r.resolved[speaker] = id
	r.mu.Unlock()
	return id, nil
}

func (r *Resolver) lookup(ctx context.Context, speaker string) string {
	if r.roster != nil {
		if ch, ok := r.roster.Character(speaker); ok && ch.VoiceID != "" {
			return ch.VoiceID
		}
	}
	if id, ok := r.configured[speaker]; ok {
		return id
	}
	if r.assignments != nil {
		id, ok, err := r.assignments.VoiceAssignment(ctx, speaker)
		if err != nil {
			r.logger.Warn("voice assignment lookup failed", slog.String("speaker", speaker), slog.String("error", err.Error()))
		} else if ok && id != "" {
			return id
		}
	}
	if len(r.pool) > 0 {
		pick := r.pool[poolIndex(speaker, len(r.pool))]
		if r.assignments != nil {
			stored, err := r.assignments.AssignVoice(ctx, speaker, pick)
			if err != nil {
				r.logger.Warn("record voice assignment failed", slog.String("speaker", speaker), slog.String("error", err.Error()))
			} else if stored != "" {
				pick = stored
			}
		}
		r.logger.Debug("voice assigned from pool", slog.String("speaker", speaker), slog.String("voice", pick))
		return pick
	}
	return r.fallback
}

func poolIndex(speaker string, n int) int {
	sum := sha256.Sum256([]byte(speaker))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(n))
}
