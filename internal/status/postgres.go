package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/types"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists provider status in a shared PostgreSQL database,
// for deployments that run the proxy on more than one host.
type PostgresStore struct {
	db *pgxpool.Pool
}

// OpenPostgres migrates and connects to dsn.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := MigrateUp(config.PersistPostgres, dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, e Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO provider_status (provider, test_result, status, error, model, latency_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider) DO UPDATE SET
			test_result = EXCLUDED.test_result,
			status      = EXCLUDED.status,
			error       = EXCLUDED.error,
			model       = EXCLUDED.model,
			latency_ms  = EXCLUDED.latency_ms,
			updated_at  = EXCLUDED.updated_at
	`, e.Provider, string(e.Result), e.Status, e.Error, e.Model, e.LatencyMs, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres save result %s: %w", e.Provider, err)
	}
	return nil
}

func (s *PostgresStore) SaveModels(ctx context.Context, provider string, models []string) error {
	data, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("marshal models: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO provider_status (provider, models) VALUES ($1, $2::jsonb)
		ON CONFLICT (provider) DO UPDATE SET models = EXCLUDED.models
	`, provider, string(data))
	if err != nil {
		return fmt.Errorf("postgres save models %s: %w", provider, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT provider, test_result, status, error, model, latency_ms, models, updated_at
		FROM provider_status
		ORDER BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres load: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			result  string
			models  []byte
			updated *time.Time
		)
		if err := rows.Scan(&rec.Provider, &result, &rec.Status, &rec.Error, &rec.Model, &rec.LatencyMs, &models, &updated); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		rec.Result = types.ResultUnknown
		if r, ok := types.ParseTestResult(result); ok {
			rec.Result = r
		}
		_ = json.Unmarshal(models, &rec.Models)
		if updated != nil {
			rec.UpdatedAt = *updated
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
