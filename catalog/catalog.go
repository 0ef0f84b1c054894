package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	name TEXT PRIMARY KEY,
	document_count INTEGER NOT NULL DEFAULT 0,
	ingested_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS query_history (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	cached INTEGER NOT NULL DEFAULT 0,
	processing_ms INTEGER NOT NULL DEFAULT 0,
	sources_used TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_history_created ON query_history(created_at);
`

// Source is one ingested source book.
type Source struct {
	Name          string    `json:"name"`
	DocumentCount int       `json:"document_count"`
	IngestedAt    time.Time `json:"ingested_at"`
}

// HistoryEntry records one answered query.
type HistoryEntry struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	Cached       bool      `json:"cached"`
	ProcessingMs int64     `json:"processing_time_ms"`
	SourcesUsed  []string  `json:"sources_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the SQLite-backed catalog.
type Store struct {
	db *sql.DB
}

// Open creates or opens the catalog database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: migrate db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertSource records a source book, replacing an existing row of the
// same name.
func (s *Store) UpsertSource(ctx context.Context, name string, documentCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (name, document_count, ingested_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET document_count = excluded.document_count, ingested_at = excluded.ingested_at`,
		name, documentCount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert source: %w", err)
	}
	return nil
}

// ListSources returns all known sources ordered by name.
func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, document_count, ingested_at FROM sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.Name, &src.DocumentCount, &src.IngestedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list sources: %w", err)
	}
	return sources, nil
}

// RecordQuery appends one answered query to the history. The entry ID is
// generated when empty.
func (s *Store) RecordQuery(ctx context.Context, entry HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	sourcesJSON, err := json.Marshal(entry.SourcesUsed)
	if err != nil {
		return fmt.Errorf("catalog: encode sources: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_history (id, question, cached, processing_ms, sources_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Question, entry.Cached, entry.ProcessingMs, string(sourcesJSON), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("catalog: record query: %w", err)
	}
	return nil
}

// RecentQueries returns the newest history entries, most recent first.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, cached, processing_ms, sources_used, created_at
		 FROM query_history ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: recent queries: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var sourcesJSON sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Question, &entry.Cached, &entry.ProcessingMs, &sourcesJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan history: %w", err)
		}
		if sourcesJSON.Valid && sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &entry.SourcesUsed); err != nil {
				return nil, fmt.Errorf("catalog: decode sources: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: recent queries: %w", err)
	}
	return entries, nil
}
