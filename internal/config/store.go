package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Snapshot is a read-consistent view of the configuration. It is never
// mutated after publication; callers must treat every field as read-only.
type Snapshot struct {
	// Config holds the durable fields with the runtime selection, the active
	// auth override and any discovered model lists folded in.
	Config     *Config
	Generation uint64
}

// SelectedProvider returns the currently selected provider, if any.
func (s *Snapshot) SelectedProvider() (*Provider, bool) {
	if s.Config.SelectedProvider == "" {
		return nil, false
	}
	return s.Config.Provider(s.Config.SelectedProvider)
}

// HeaderPreset resolves a header override preset. An empty name resolves to
// nil (identity).
func (s *Snapshot) HeaderPreset(name string) (map[string]string, error) {
	if name == "" {
		return nil, nil
	}
	preset, ok := s.Config.HeaderOverrides[name]
	if !ok {
		return nil, &NotFoundError{Kind: "header_override", Name: name}
	}
	return preset, nil
}

// RequestPreset resolves a request override preset. An empty name resolves to
// nil (identity).
func (s *Snapshot) RequestPreset(name string) (json.RawMessage, error) {
	if name == "" {
		return nil, nil
	}
	preset, ok := s.Config.RequestOverrides[name]
	if !ok {
		return nil, &NotFoundError{Kind: "request_override", Name: name}
	}
	return preset, nil
}

// Store owns the loaded configuration and the two runtime pointers: the
// selected provider and the active auth override. Writers are serialized;
// readers take lock-free snapshots.
type Store struct {
	path   string
	logger *slog.Logger

	reloadMu sync.Mutex

	mu       sync.Mutex
	file     *Config
	selected string
	auth     AuthOverride
	models   map[string][]string
	gen      uint64
	watchers []func(*Snapshot)

	snap atomic.Pointer[Snapshot]
}

// NewStore loads path and returns a store over it. A load failure is a
// *ConfigError and should be treated as fatal by the caller.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:     path,
		logger:   logger.With("component", "config"),
		file:     cfg,
		selected: cfg.SelectedProvider,
		auth:     cfg.AuthOverride,
		models:   make(map[string][]string),
	}
	s.publishLocked()
	s.logger.Info("configuration loaded", "path", path, "providers", len(cfg.Providers))
	return s, nil
}

// Path returns the config file path.
func (s *Store) Path() string { return s.path }

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Select makes name the active provider. Unknown names are rejected with a
// *NotFoundError and the selection is unchanged.
func (s *Store) Select(name string) error {
	s.mu.Lock()
	if _, ok := s.file.Provider(name); !ok {
		s.mu.Unlock()
		return &NotFoundError{Kind: "provider", Name: name}
	}
	s.selected = name
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Info("provider selected", "provider", name)
	return nil
}

// ApplyAuthOverride merges patch into the global auth override. The merged
// record is validated as a whole; on error nothing changes.
func (s *Store) ApplyAuthOverride(patch AuthOverridePatch) (AuthOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.Apply(s.auth)
	if err := validateAuthOverride(s.file, next); err != nil {
		return s.auth, err
	}
	s.auth = next
	s.publishLocked()
	s.logger.Info("auth override applied",
		"token_in", next.Mode(),
		"header_override", next.HeaderOverride,
		"request_override", next.RequestOverride,
	)
	return next, nil
}

// Reset restores the auth override declared in the config file. Providers
// and the selection are left alone.
func (s *Store) Reset() AuthOverride {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = s.file.AuthOverride
	s.publishLocked()
	s.logger.Info("auth override reset")
	return s.auth
}

// UpdateModels replaces the runtime model list for a provider. The config
// file is not touched.
func (s *Store) UpdateModels(name string, models []string) error {
	s.mu.Lock()
	if _, ok := s.file.Provider(name); !ok {
		s.mu.Unlock()
		return &NotFoundError{Kind: "provider", Name: name}
	}
	s.models[name] = append([]string(nil), models...)
	s.publishLocked()
	s.mu.Unlock()
	return nil
}

// Reload re-reads the config file. On failure the previous configuration
// stays active and the *ConfigError is returned. On success the selection and
// a runtime-applied auth override survive if they still resolve.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	cfg, err := Load(s.path)
	if err != nil {
		s.logger.Error("config reload failed, keeping previous config", "error", err)
		return err
	}

	s.mu.Lock()
	prev := s.file
	s.file = cfg

	if _, ok := cfg.Provider(s.selected); !ok {
		s.selected = cfg.SelectedProvider
	}
	if s.auth == prev.AuthOverride || validateAuthOverride(cfg, s.auth) != nil {
		s.auth = cfg.AuthOverride
	}
	for name := range s.models {
		if _, ok := cfg.Provider(name); !ok {
			delete(s.models, name)
		}
	}
	s.publishLocked()
	snap := s.snap.Load()
	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()

	s.logger.Info("configuration reloaded", "providers", len(cfg.Providers), "selected", snap.Config.SelectedProvider)
	for _, fn := range watchers {
		fn(snap)
	}
	return nil
}

// OnReload registers a callback that fires after a successful reload.
func (s *Store) OnReload(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Watch reloads the config whenever the file is written or replaced. The
// directory is watched so editors that rename over the file are seen.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					s.logger.Info("config file changed, reloading", "file", event.Name)
					_ = s.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}

// publishLocked builds and stores a fresh snapshot. Must be called with mu held.
func (s *Store) publishLocked() {
	cfg := *s.file
	cfg.SelectedProvider = s.selected
	cfg.AuthOverride = s.auth
	cfg.Providers = make([]Provider, len(s.file.Providers))
	for i, p := range s.file.Providers {
		cp := p.clone()
		if models, ok := s.models[p.Name]; ok {
			cp.Models = append([]string(nil), models...)
		}
		cfg.Providers[i] = cp
	}
	cfg.ProxyPaths = append([]string(nil), s.file.ProxyPaths...)
	s.gen++
	s.snap.Store(&Snapshot{Config: &cfg, Generation: s.gen})
}
