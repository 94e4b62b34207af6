// Package sqlite provides a SQLite-backed core.MemoryGateway using the pure
// Go modernc.org/sqlite driver. Recall pre-filters candidates with LIKE and
// ranks them with the memory package's keyword scorer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/memory"

	_ "modernc.org/sqlite"
)

const (
	defaultLimit      = memory.DefaultLimit
	defaultCandidates = 200
)

// Options configures a Store.
type Options struct {
	// Limit caps Retrieve results.
	Limit int
	// Candidates caps the rows scanned per Retrieve before ranking.
	Candidates int
}

// Store persists memories in a local SQLite database.
type Store struct {
	db         *sql.DB
	limit      int
	candidates int
}

// Open opens (creating if needed) the database at path.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing db path")
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	opts := Options{Limit: defaultLimit, Candidates: defaultCandidates}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, limit: opts.Limit, candidates: opts.Candidates}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=3000;`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			content_lower TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user_id, created_at_unix_ms DESC);`,
	}

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return migrateContentLower(db)
}

// migrateContentLower adds and backfills content_lower on databases created
// before the column existed. SQLite folds only ASCII in LIKE, so the
// lower-cased copy is computed in Go.
func migrateContentLower(db *sql.DB) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('memories') WHERE name = 'content_lower'`).Scan(&n); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	if n > 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`ALTER TABLE memories ADD COLUMN content_lower TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	rows, err := tx.Query(`SELECT id, content FROM memories`)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	lowered := map[string]string{}

	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			rows.Close()
			return fmt.Errorf("migrate schema: %w", err)
		}

		lowered[id] = strings.ToLower(content)
	}

	if err := rows.Close(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	for id, lower := range lowered {
		if _, err := tx.Exec(`UPDATE memories SET content_lower = ? WHERE id = ?`, lower, id); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Store inserts a memory for userID.
func (s *Store) Store(ctx context.Context, content string, typ core.MemoryType, userID string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}

	md, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories(id, user_id, type, content, content_lower, metadata_json, created_at_unix_ms) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		core.NewID(), userID, string(typ), content, strings.ToLower(content), string(md), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	return nil
}

// Retrieve returns the user's memories matching query, best first; newer
// rows win ties. hint is ignored.
func (s *Store) Retrieve(ctx context.Context, query, userID, _ string) ([]core.MemoryItem, error) {
	// Keywords are lower-case letters and digits only, so they are safe LIKE
	// patterns against content_lower.
	terms := memory.Keywords(query)

	var (
		b    strings.Builder
		args = []any{userID}
	)

	b.WriteString(`SELECT id, type, content, metadata_json FROM memories WHERE user_id = ?`)

	if len(terms) > 0 {
		b.WriteString(` AND (`)

		for i, t := range terms {
			if i > 0 {
				b.WriteString(` OR `)
			}

			b.WriteString(`content_lower LIKE ?`)
			args = append(args, "%"+t+"%")
		}

		b.WriteString(`)`)
	}

	b.WriteString(` ORDER BY created_at_unix_ms DESC, rowid DESC LIMIT ?`)
	args = append(args, s.candidates)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var candidates []core.MemoryItem

	for rows.Next() {
		var (
			it     core.MemoryItem
			typ    string
			mdJSON string
		)

		if err := rows.Scan(&it.ID, &typ, &it.Content, &mdJSON); err != nil {
			return nil, err
		}

		it.Type = core.MemoryType(typ)

		if mdJSON != "" {
			if err := json.Unmarshal([]byte(mdJSON), &it.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", it.ID, err)
			}
		}

		candidates = append(candidates, it)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return memory.Rank(candidates, query, s.limit), nil
}

// Count returns the number of memories stored for userID.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID).Scan(&n)

	return n, err
}
