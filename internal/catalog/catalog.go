package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/fateweaver/internal/config"
	_ "modernc.org/sqlite"
)

// Artifact is a synthesized audio file recorded under its content key.
type Artifact struct {
	Key        string
	Path       string
	Speaker    string
	VoiceID    string
	Bytes      int64
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Catalog is the SQLite index over the audio cache directory. It also
// remembers which voice each speaker was given so assignments survive
// restarts.
type Catalog struct {
	db    *sql.DB
	cfg   config.CatalogConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the catalog according to config. Ephemeral mode keeps no
// database and every lookup misses.
func Open(ctx context.Context, cfg config.CatalogConfig, log *slog.Logger) (*Catalog, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Catalog{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	c := &Catalog{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := c.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("catalog vacuum failed", slog.String("error", err.Error()))
		}
	}
	if _, err := c.Prune(ctx); err != nil {
		log.Warn("catalog prune on start failed", slog.String("error", err.Error()))
	}
	return c, nil
}

func (c *Catalog) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS artifacts (
    key TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    speaker TEXT,
    voice_id TEXT,
    bytes INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    last_used_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_last_used ON artifacts(last_used_at);
CREATE TABLE IF NOT EXISTS voice_assignments (
    speaker TEXT PRIMARY KEY,
    voice_id TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
`
	_, err := c.db.ExecContext(ctx, ddl)
	return err
}

func (c *Catalog) disabled() bool {
	return c == nil || c.db == nil
}

// Close releases underlying resources.
func (c *Catalog) Close() error {
	if c.disabled() {
		return nil
	}
	return c.db.Close()
}

// RecordArtifact registers a stored file. The first record for a key wins;
// later records only refresh last_used_at.
func (c *Catalog) RecordArtifact(ctx context.Context, a Artifact) error {
	if c.disabled() {
		return nil
	}
	now := c.clock().UTC().UnixNano()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO artifacts(key, path, speaker, voice_id, bytes, created_at, last_used_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET last_used_at=excluded.last_used_at`,
		a.Key, a.Path, a.Speaker, a.VoiceID, a.Bytes, now, now)
	return err
}

// Touch marks an artifact as used now.
func (c *Catalog) Touch(ctx context.Context, key string) error {
	if c.disabled() {
		return nil
	}
	_, err := c.db.ExecContext(ctx, `UPDATE artifacts SET last_used_at = ? WHERE key = ?`,
		c.clock().UTC().UnixNano(), key)
	return err
}

// Artifact looks a key up.
func (c *Catalog) Artifact(ctx context.Context, key string) (Artifact, bool, error) {
	if c.disabled() {
		return Artifact{}, false, nil
	}
	var (
		a                 Artifact
		created, lastUsed int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT key, path, speaker, voice_id, bytes, created_at, last_used_at FROM artifacts WHERE key = ?`, key).
		Scan(&a.Key, &a.Path, &a.Speaker, &a.VoiceID, &a.Bytes, &created, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, err
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	a.LastUsedAt = time.Unix(0, lastUsed).UTC()
	return a, true, nil
}

// Count returns the number of recorded artifacts.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	if c.disabled() {
		return 0, nil
	}
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&n)
	return n, err
}

// VoiceAssignment returns the voice recorded for a speaker, if any.
func (c *Catalog) VoiceAssignment(ctx context.Context, speaker string) (string, bool, error) {
	if c.disabled() {
		return "", false, nil
	}
	var voice string
	err := c.db.QueryRowContext(ctx, `SELECT voice_id FROM voice_assignments WHERE speaker = ?`, speaker).Scan(&voice)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return voice, true, nil
}

// AssignVoice records voiceID for speaker unless one is already recorded, and
// returns whichever assignment is now stored.
func (c *Catalog) AssignVoice(ctx context.Context, speaker, voiceID string) (string, error) {
	if c.disabled() {
		return voiceID, nil
	}
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO voice_assignments(speaker, voice_id, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(speaker) DO NOTHING`,
		speaker, voiceID, c.clock().UTC().UnixNano()); err != nil {
		return "", err
	}
	stored, ok, err := c.VoiceAssignment(ctx, speaker)
	if err != nil {
		return "", err
	}
	if !ok {
		return voiceID, nil
	}
	return stored, nil
}

// Prune applies bounded retention: artifacts unused for RetentionDays and
// anything beyond the MaxArtifacts most recently used are removed from both
// the index and disk. Other modes keep everything.
func (c *Catalog) Prune(ctx context.Context) (int, error) {
	if c.disabled() || c.cfg.RetentionMode != "bounded" {
		return 0, nil
	}

	var victims []Artifact
	if c.cfg.RetentionDays > 0 {
		cutoff := c.clock().Add(-time.Duration(c.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixNano()
		rows, err := c.selectArtifacts(ctx, `SELECT key, path FROM artifacts WHERE last_used_at < ?`, cutoff)
		if err != nil {
			return 0, err
		}
		victims = append(victims, rows...)
	}
	if c.cfg.MaxArtifacts > 0 {
		rows, err := c.selectArtifacts(ctx,
			`SELECT key, path FROM artifacts ORDER BY last_used_at DESC, key ASC LIMIT -1 OFFSET ?`, c.cfg.MaxArtifacts)
		if err != nil {
			return 0, err
		}
		victims = append(victims, rows...)
	}
	if len(victims) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	paths := make(map[string]string, len(victims))
	for _, v := range victims {
		if _, dup := paths[v.Key]; dup {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, v.Key); err != nil {
			tx.Rollback()
			return 0, err
		}
		paths[v.Key] = v.Path
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("remove pruned audio failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	removed := len(paths)
	c.log.Info("catalog pruned", slog.Int("artifacts", removed))
	return removed, nil
}

func (c *Catalog) selectArtifacts(ctx context.Context, query string, arg any) ([]Artifact, error) {
	rows, err := c.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Key, &a.Path); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
