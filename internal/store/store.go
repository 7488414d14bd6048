package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store is the dataset catalog: which datasets were loaded, how, and with what result.
type Store struct {
	conn *pgx.Conn
}

// Dataset is one catalog row with a summary of its most recent load.
type Dataset struct {
	ID          string
	Path        string
	LastLoaded  time.Time
	Loads       int
	LastType    string
	LastSamples int
	LastSource  string
}

// Load describes one completed Loader.Load call.
type Load struct {
	DatasetID  string
	Path       string
	SampleType string
	Samples    int
	Source     string // "packed", "decoded" or "files"
	Duration   time.Duration
	LoadedAt   time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			first_seen TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS dataset_loads (
			id BIGSERIAL PRIMARY KEY,
			dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			sample_type TEXT NOT NULL,
			sample_count INT NOT NULL,
			source TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			loaded_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS dataset_loads_dataset_id_idx ON dataset_loads (dataset_id, loaded_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// RecordLoad registers the dataset if needed and appends the load to its history.
func (s *Store) RecordLoad(ctx context.Context, l Load) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO datasets (id, path) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET path = EXCLUDED.path
	`, l.DatasetID, l.Path)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dataset_loads (dataset_id, sample_type, sample_count, source, duration_ms)
		VALUES ($1, $2, $3, $4, $5)
	`, l.DatasetID, l.SampleType, l.Samples, l.Source, l.Duration.Milliseconds())
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListDatasets returns every dataset, most recently loaded first.
func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT d.id, d.path, l.loaded_at, c.loads, l.sample_type, l.sample_count, l.source
		FROM datasets d
		JOIN LATERAL (
			SELECT loaded_at, sample_type, sample_count, source
			FROM dataset_loads WHERE dataset_id = d.id
			ORDER BY loaded_at DESC, id DESC LIMIT 1
		) l ON TRUE
		JOIN LATERAL (
			SELECT COUNT(*)::INT AS loads FROM dataset_loads WHERE dataset_id = d.id
		) c ON TRUE
		ORDER BY l.loaded_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.Path, &d.LastLoaded, &d.Loads, &d.LastType, &d.LastSamples, &d.LastSource); err != nil {
			return nil, err
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// History returns the loads of one dataset, newest first.
func (s *Store) History(ctx context.Context, datasetID string) ([]Load, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT l.dataset_id, d.path, l.sample_type, l.sample_count, l.source, l.duration_ms, l.loaded_at
		FROM dataset_loads l JOIN datasets d ON d.id = l.dataset_id
		WHERE l.dataset_id = $1
		ORDER BY l.loaded_at DESC, l.id DESC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []Load
	for rows.Next() {
		var l Load
		var ms int64
		if err := rows.Scan(&l.DatasetID, &l.Path, &l.SampleType, &l.Samples, &l.Source, &ms, &l.LoadedAt); err != nil {
			return nil, err
		}
		l.Duration = time.Duration(ms) * time.Millisecond
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

// Reset drops all catalog tables.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS dataset_loads CASCADE;
		DROP TABLE IF EXISTS datasets CASCADE;
	`)
	return err
}
