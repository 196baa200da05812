package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists provider status in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite migrates and opens the database at dsn (a file path).
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	path := sqlitePath(dsn)
	if err := MigrateUp(config.PersistSQLite, path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_status (provider, test_result, status, error, model, latency_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			test_result = excluded.test_result,
			status      = excluded.status,
			error       = excluded.error,
			model       = excluded.model,
			latency_ms  = excluded.latency_ms,
			updated_at  = excluded.updated_at
	`, e.Provider, string(e.Result), e.Status, e.Error, e.Model, e.LatencyMs, e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite save result %s: %w", e.Provider, err)
	}
	return nil
}

func (s *SQLiteStore) SaveModels(ctx context.Context, provider string, models []string) error {
	data, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("marshal models: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provider_status (provider, models) VALUES (?, ?)
		ON CONFLICT(provider) DO UPDATE SET models = excluded.models
	`, provider, string(data))
	if err != nil {
		return fmt.Errorf("sqlite save models %s: %w", provider, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, test_result, status, error, model, latency_ms, models, updated_at
		FROM provider_status
		ORDER BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite load: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                Record
			result, models, ts string
		)
		if err := rows.Scan(&rec.Provider, &result, &rec.Status, &rec.Error, &rec.Model, &rec.LatencyMs, &models, &ts); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		rec.Result = types.ResultUnknown
		if r, ok := types.ParseTestResult(result); ok {
			rec.Result = r
		}
		_ = json.Unmarshal([]byte(models), &rec.Models)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.UpdatedAt = t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
