package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/stationctl/core/model"
	corestore "github.com/kilianp07/stationctl/core/store"
)

// stateRow is the fixed key of the single state document.
const stateRow = 1

// SQLStore keeps the state document as one JSON row. It works with the
// SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	load   string
	upsert string
}

// NewSQLiteStore opens or creates the database at path and ensures the schema.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single writer avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	return newSQLStore(db,
		`SELECT doc FROM station_state WHERE id = ?`,
		`INSERT INTO station_state (id, doc, updated_at) VALUES (?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`)
}

// NewPostgresStore connects to PostgreSQL using dsn and ensures the schema.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres store: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newSQLStore(db,
		`SELECT doc FROM station_state WHERE id = $1`,
		`INSERT INTO station_state (id, doc, updated_at) VALUES ($1, $2, $3)
         ON CONFLICT (id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`)
}

func newSQLStore(db *sql.DB, load, upsert string) (*SQLStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	schema := `CREATE TABLE IF NOT EXISTS station_state (
        id INTEGER PRIMARY KEY,
        doc TEXT NOT NULL,
        updated_at BIGINT NOT NULL
    )`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, fmt.Errorf("sql store: schema: %w", err)
	}
	return &SQLStore{db: db, load: load, upsert: upsert}, nil
}

// LoadState returns the stored document or corestore.ErrNoState.
func (s *SQLStore) LoadState(ctx context.Context) (*model.StationState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.load, stateRow).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, corestore.ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("sql store: load: %w", err)
	}
	var st model.StationState
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return nil, fmt.Errorf("sql store: decode: %w", err)
	}
	return &st, nil
}

// ReplaceState upserts the document.
func (s *SQLStore) ReplaceState(ctx context.Context, st *model.StationState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sql store: encode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.upsert, stateRow, string(b), st.UpdatedAt.UnixNano()); err != nil {
		return fmt.Errorf("sql store: write: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }
