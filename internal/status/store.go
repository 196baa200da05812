package status

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/af-corp/ccproxy/internal/config"
)

// Record is a persisted provider status: the last accepted test entry plus
// the last discovered model list.
type Record struct {
	Entry
	Models []string `json:"models,omitempty"`
}

// Store persists runtime provider status across restarts. Implementations
// must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	SaveResult(ctx context.Context, e Entry) error
	SaveModels(ctx context.Context, provider string, models []string) error
	Close() error
}

// Open returns the store selected by cfg.Persist.
func Open(ctx context.Context, cfg config.StatusConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Persist {
	case "", config.PersistMemory:
		return NewMemoryStore(), nil
	case config.PersistRedis:
		return OpenRedis(ctx, cfg.DSN, cfg.KeyPrefix, logger)
	case config.PersistSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	case config.PersistPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown status persistence %q", cfg.Persist)
	}
}

// MemoryStore keeps records for the life of the process only.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Load(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		r.Models = append([]string(nil), r.Models...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (m *MemoryStore) SaveResult(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[e.Provider]
	r.Entry = e
	m.records[e.Provider] = r
	return nil
}

func (m *MemoryStore) SaveModels(_ context.Context, provider string, models []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[provider]
	r.Provider = provider
	r.Models = append([]string(nil), models...)
	m.records[provider] = r
	return nil
}

func (m *MemoryStore) Close() error { return nil }
