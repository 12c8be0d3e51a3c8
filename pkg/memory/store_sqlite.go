package memory

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical long-term storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the long-term database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			fact_key TEXT NOT NULL,
			content TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			from_seq INTEGER NOT NULL DEFAULT 0,
			upto_seq INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS facts_kind_key_idx ON facts(kind, fact_key);`,
		`CREATE INDEX IF NOT EXISTS facts_recency_idx ON facts(expires_at_ms, updated_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS identity (
			slot INTEGER PRIMARY KEY CHECK (slot = 1),
			profile_json TEXT NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS traces (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			content TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1,
			created_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS traces_label_idx ON traces(label);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			name TEXT PRIMARY KEY,
			seq INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(stmt string) string {
	line := strings.TrimSpace(stmt)
	if idx := strings.IndexByte(line, '\n'); idx > 0 {
		line = line[:idx]
	}
	if len(line) > 60 {
		line = line[:60] + "..."
	}
	return line
}

func (s *SQLiteStore) ReadFacts(ctx context.Context, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, fact_key, content, confidence, from_seq, upto_seq, created_at_ms, updated_at_ms, expires_at_ms
		FROM facts
		WHERE expires_at_ms = 0 OR expires_at_ms > ?
		ORDER BY updated_at_ms DESC, fact_key
		LIMIT ?`,
		time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Kind, &f.Key, &f.Content, &f.Confidence, &f.FromSeq, &f.UptoSeq, &f.CreatedAtMS, &f.UpdatedAtMS, &f.ExpiresAtMS); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (s *SQLiteStore) ReadIdentity(ctx context.Context) (Identity, error) {
	var profileJSON string
	var identity Identity
	err := s.db.QueryRowContext(ctx, `SELECT profile_json, revision, checksum, updated_at_ms FROM identity WHERE slot = 1`).
		Scan(&profileJSON, &identity.Revision, &identity.Checksum, &identity.UpdatedAtMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, nil
	}
	if err != nil {
		return Identity{}, fmt.Errorf("read identity: %w", err)
	}
	revision, checksum, updated := identity.Revision, identity.Checksum, identity.UpdatedAtMS
	if err := json.Unmarshal([]byte(profileJSON), &identity); err != nil {
		return Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	identity.Revision = revision
	identity.Checksum = checksum
	identity.UpdatedAtMS = updated
	return identity, nil
}

func (s *SQLiteStore) ReadTraces(ctx context.Context, nowMS int64) ([]Trace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, content, weight, created_at_ms, expires_at_ms
		FROM traces
		WHERE expires_at_ms = 0 OR expires_at_ms > ?
		ORDER BY created_at_ms DESC`, nowMS)
	if err != nil {
		return nil, fmt.Errorf("read traces: %w", err)
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var t Trace
		if err := rows.Scan(&t.ID, &t.Label, &t.Content, &t.Weight, &t.CreatedAtMS, &t.ExpiresAtMS); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

func (s *SQLiteStore) UpsertFact(ctx context.Context, fact Fact) (Fact, error) {
	now := time.Now().UnixMilli()
	if fact.ID == "" {
		fact.ID = "fact-" + uuid.NewString()
	}
	if fact.CreatedAtMS == 0 {
		fact.CreatedAtMS = now
	}
	fact.UpdatedAtMS = now
	fact.Content = strings.TrimSpace(fact.Content)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (id, kind, fact_key, content, confidence, from_seq, upto_seq, created_at_ms, updated_at_ms, expires_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, fact_key) DO UPDATE SET
			content = excluded.content,
			confidence = excluded.confidence,
			upto_seq = excluded.upto_seq,
			updated_at_ms = excluded.updated_at_ms,
			expires_at_ms = excluded.expires_at_ms`,
		fact.ID, fact.Kind, fact.Key, fact.Content, fact.Confidence,
		fact.FromSeq, fact.UptoSeq, fact.CreatedAtMS, fact.UpdatedAtMS, fact.ExpiresAtMS)
	if err != nil {
		return Fact{}, fmt.Errorf("upsert fact %s/%s: %w", fact.Kind, fact.Key, err)
	}

	stored := fact
	err = s.db.QueryRowContext(ctx, `SELECT id, created_at_ms FROM facts WHERE kind = ? AND fact_key = ?`, fact.Kind, fact.Key).
		Scan(&stored.ID, &stored.CreatedAtMS)
	if err != nil {
		return Fact{}, fmt.Errorf("reload fact %s/%s: %w", fact.Kind, fact.Key, err)
	}
	return stored, nil
}

func (s *SQLiteStore) DeleteFact(ctx context.Context, kind FactKind, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE kind = ? AND fact_key = ?`, kind, key); err != nil {
		return fmt.Errorf("delete fact %s/%s: %w", kind, key, err)
	}
	return nil
}

func (s *SQLiteStore) WriteIdentity(ctx context.Context, identity Identity) (Identity, error) {
	now := time.Now().UnixMilli()
	current, err := s.ReadIdentity(ctx)
	if err != nil {
		return Identity{}, err
	}

	identity.Revision = current.Revision + 1
	identity.UpdatedAtMS = now
	identity.Checksum = identityChecksum(identity)

	profileJSON, err := json.Marshal(identity)
	if err != nil {
		return Identity{}, fmt.Errorf("encode identity: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identity (slot, profile_json, revision, checksum, updated_at_ms)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			profile_json = excluded.profile_json,
			revision = excluded.revision,
			checksum = excluded.checksum,
			updated_at_ms = excluded.updated_at_ms`,
		string(profileJSON), identity.Revision, identity.Checksum, identity.UpdatedAtMS)
	if err != nil {
		return Identity{}, fmt.Errorf("write identity: %w", err)
	}
	return identity, nil
}

func (s *SQLiteStore) UpsertTrace(ctx context.Context, trace Trace) error {
	if trace.ID == "" {
		trace.ID = "trace-" + uuid.NewString()
	}
	if trace.CreatedAtMS == 0 {
		trace.CreatedAtMS = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (id, label, content, weight, created_at_ms, expires_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(label) DO UPDATE SET
			content = excluded.content,
			weight = excluded.weight,
			expires_at_ms = excluded.expires_at_ms`,
		trace.ID, trace.Label, trace.Content, trace.Weight, trace.CreatedAtMS, trace.ExpiresAtMS)
	if err != nil {
		return fmt.Errorf("upsert trace %s: %w", trace.Label, err)
	}
	return nil
}

func (s *SQLiteStore) PruneExpired(ctx context.Context, nowMS int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE expires_at_ms > 0 AND expires_at_ms <= ?`, nowMS); err != nil {
		return fmt.Errorf("prune traces: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE expires_at_ms > 0 AND expires_at_ms <= ?`, nowMS); err != nil {
		return fmt.Errorf("prune facts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Checkpoint(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM checkpoints WHERE name = 'consolidation'`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	return seq, nil
}

func (s *SQLiteStore) SetCheckpoint(ctx context.Context, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, seq, updated_at_ms) VALUES ('consolidation', ?, ?)
		ON CONFLICT(name) DO UPDATE SET seq = excluded.seq, updated_at_ms = excluded.updated_at_ms`,
		seq, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

func identityChecksum(identity Identity) string {
	clone := identity
	clone.Checksum = ""
	raw, _ := json.Marshal(clone)
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}
