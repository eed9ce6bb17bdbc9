package audiocache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/loqalabs/fateweaver/internal/catalog"
	"github.com/loqalabs/fateweaver/internal/tts"
)

// ErrNoText is returned for empty lines; nothing is synthesized or stored.
var ErrNoText = errors.New("no text to synthesize")

// VoiceResolver maps a speaker to a voice identity.
type VoiceResolver interface {
	Resolve(ctx context.Context, speaker string) (string, error)
}

// Catalog indexes stored artifacts. *catalog.Catalog satisfies it.
type Catalog interface {
	Artifact(ctx context.Context, key string) (catalog.Artifact, bool, error)
	RecordArtifact(ctx context.Context, a catalog.Artifact) error
	Touch(ctx context.Context, key string) error
}

// Artifact is a stored audio line.
type Artifact struct {
	Key     string
	Path    string
	Speaker string
	Voice   string
	Format  string
	Audio   []byte
	// Cached is true when no synthesis was needed.
	Cached bool
}

type Options struct {
	Directory     string
	Format        string
	MemoryEntries int
	Timeout       time.Duration
	Synth         tts.Synthesizer
	Voices        VoiceResolver
	Catalog       Catalog
	Logger        *slog.Logger
}

// Cache is a content-addressed, write-once store of synthesized lines keyed
// by (voice, text). Identical lines are synthesized once.
type Cache struct {
	dir     string
	format  string
	timeout time.Duration
	synth   tts.Synthesizer
	voices  VoiceResolver
	catalog Catalog
	logger  *slog.Logger

	memory *lru.Cache[string, Artifact]
	group  singleflight.Group
}

func New(opts Options) (*Cache, error) {
	if opts.Directory == "" {
		return nil, errors.New("audio cache directory is required")
	}
	if opts.Synth == nil || opts.Voices == nil {
		return nil, errors.New("audio cache requires a synthesizer and a voice resolver")
	}
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	format := strings.TrimPrefix(opts.Format, ".")
	if format == "" {
		format = "mp3"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		dir:     opts.Directory,
		format:  format,
		timeout: opts.Timeout,
		synth:   opts.Synth,
		voices:  opts.Voices,
		catalog: opts.Catalog,
		logger:  logger.With(slog.String("component", "audiocache")),
	}
	if opts.MemoryEntries > 0 {
		mem, err := lru.New[string, Artifact](opts.MemoryEntries)
		if err != nil {
			return nil, fmt.Errorf("create memory tier: %w", err)
		}
		c.memory = mem
	}
	return c, nil
}

// Key is the content address of a line: hex sha256(voice + "||" + text).
func Key(voice, text string) string {
	sum := sha256.Sum256([]byte(voice + "||" + text))
	return hex.EncodeToString(sum[:])
}

// Slug lowercases name, turns spaces into dashes, and drops everything that
// is not a letter, digit, dash, or underscore.
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r == ' ':
			b.WriteRune('-')
		case r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FileName is "<slug>-<key[:12]>.<ext>", with "character" standing in for an
// empty slug.
func FileName(speaker, key, ext string) string {
	slug := Slug(speaker)
	if slug == "" {
		slug = "character"
	}
	short := key
	if len(short) > 12 {
		short = short[:12]
	}
	return slug + "-" + short + "." + ext
}

// MIMEType maps a stored format to the media type used in data URIs.
func MIMEType(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

func (c *Cache) Format() string { return c.format }

// Ensure returns the stored artifact for (speaker's voice, text),
// synthesizing and persisting it on a miss. Concurrent misses of one key
// share a single synthesis. The shared synthesis is detached from any one
// caller: a caller whose ctx ends stops waiting, while the others still get
// the result, bounded by the cache timeout.
func (c *Cache) Ensure(ctx context.Context, speaker, text string) (Artifact, error) {
	if strings.TrimSpace(text) == "" {
		return Artifact{}, ErrNoText
	}
	voice, err := c.voices.Resolve(ctx, speaker)
	if err != nil {
		return Artifact{}, fmt.Errorf("resolve voice for %q: %w", speaker, err)
	}
	key := Key(voice, text)
	path := filepath.Join(c.dir, FileName(speaker, key, c.format))

	if art, ok := c.lookup(ctx, key, path, voice); ok {
		art.Speaker = speaker
		return art, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if art, ok := c.lookup(shared, key, path, voice); ok {
			return art, nil
		}
		return c.synthesize(shared, key, path, speaker, voice, text)
	})
	select {
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Artifact{}, res.Err
		}
		art := res.Val.(Artifact)
		art.Speaker = speaker
		return art, nil
	}
}

// lookup finds an existing artifact for key: the memory tier, this speaker's
// file, then whatever file the catalog recorded for the key. The last case
// covers speakers that share a voice.
func (c *Cache) lookup(ctx context.Context, key, path, voice string) (Artifact, bool) {
	if c.memory != nil {
		if art, ok := c.memory.Get(key); ok {
			if _, err := os.Stat(art.Path); err == nil {
				art.Cached = true
				c.touch(ctx, key)
				return art, true
			}
			c.memory.Remove(key)
		}
	}
	candidates := []string{path}
	if c.catalog != nil {
		rec, ok, err := c.catalog.Artifact(ctx, key)
		if err != nil {
			c.logger.Warn("catalog lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		} else if ok && rec.Path != path {
			candidates = append(candidates, rec.Path)
		}
	}
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil || len(data) == 0 {
			continue
		}
		art := Artifact{Key: key, Path: candidate, Voice: voice, Format: c.format, Audio: data, Cached: true}
		if c.memory != nil {
			c.memory.Add(key, art)
		}
		c.touch(ctx, key)
		return art, true
	}
	return Artifact{}, false
}

func (c *Cache) touch(ctx context.Context, key string) {
	if c.catalog == nil {
		return
	}
	if err := c.catalog.Touch(ctx, key); err != nil {
		c.logger.Warn("catalog touch failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (c *Cache) synthesize(ctx context.Context, key, path, speaker, voice, text string) (Artifact, error) {
	synthCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		synthCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	audio, err := tts.Collect(synthCtx, c.synth, tts.SynthRequest{Text: text, Voice: voice})
	if err != nil {
		return Artifact{}, fmt.Errorf("synthesize: %w", err)
	}

	stored, err := writeOnce(c.dir, path, audio)
	if err != nil {
		return Artifact{}, fmt.Errorf("store audio: %w", err)
	}

	art := Artifact{Key: key, Path: path, Voice: voice, Format: c.format, Audio: stored}
	if c.memory != nil {
		c.memory.Add(key, art)
	}
	if c.catalog != nil {
		rec := catalog.Artifact{Key: key, Path: path, Speaker: speaker, VoiceID: voice, Bytes: int64(len(stored))}
		if err := c.catalog.RecordArtifact(ctx, rec); err != nil {
			c.logger.Warn("catalog record failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	c.logger.Info("audio synthesized",
		slog.String("speaker", speaker),
		slog.String("path", path),
		slog.Int("bytes", len(stored)),
		slog.Duration("latency", time.Since(start)),
	)
	return art, nil
}

// writeOnce publishes data at path by hard-linking a fully written temp
// file. If another writer got there first its bytes are kept and returned.
// An empty file at path is not a usable artifact and is replaced.
func writeOnce(dir, path string, data []byte) ([]byte, error) {
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			existing, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil, readErr
			}
			if len(existing) > 0 {
				return existing, nil
			}
			if err := os.Rename(tmpName, path); err != nil {
				return nil, err
			}
			return data, nil
		}
		return nil, err
	}
	return data, nil
}
