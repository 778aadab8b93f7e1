package workflow

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"archivist/internal/config"
	"archivist/internal/logging"
	"archivist/internal/services/llm"
)

const lockFileName = ".archivist.lock"

// Manager coordinates a batch run.
type Manager struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	backends map[string]llm.Backend
	metrics  *Metrics
	now      func() time.Time
	newRunID func() string
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithBackend replaces the backend built for a configured provider.
func WithBackend(name string, backend llm.Backend) Option {
	return func(m *Manager) {
		m.backends[name] = backend
	}
}

// WithRegistry sets the metrics registry shared by all collectors.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(m *Manager) {
		m.newRunID = func() string { return id }
	}
}

// NewManager constructs a workflow manager for cfg.
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logging.NewNop(),
		registry: prometheus.NewRegistry(),
		backends: map[string]llm.Backend{},
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = NewMetrics(m.registry)
	return m
}

// Registry returns the metrics registry used by the run.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// LockPath returns the run lock location for the output directory.
func (m *Manager) LockPath() string {
	return filepath.Join(m.cfg.Paths.OutputDir, lockFileName)
}
