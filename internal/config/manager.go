package config

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Manager owns the live configuration snapshot. Readers take the current
// pointer lock-free; writers (Update, Reload) are serialised and swap the
// pointer only after the new snapshot validated and persisted.
type Manager struct {
	path string
	mu   sync.Mutex
	cur  atomic.Pointer[Config]
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path}
	m.cur.Store(cfg)
	return m, nil
}

// Current returns the live snapshot. Callers must treat it as read-only.
func (m *Manager) Current() *Config { return m.cur.Load() }

func (m *Manager) Path() string { return m.path }

// Update validates next, persists it to the config file and makes it the
// live snapshot. On any failure the previous snapshot stays in effect.
func (m *Manager) Update(next Config) (*Config, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := next.Save(m.path); err != nil {
		return nil, err
	}
	m.cur.Store(&next)

	log.WithField("path", m.path).Info("configuration updated")
	return &next, nil
}

// Reload re-reads the config file and swaps it in.
func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cur.Store(cfg)

	log.WithField("path", m.path).Info("configuration reloaded")
	return cfg, nil
}
