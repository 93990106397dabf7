package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoDialer is returned when a Store was built without a Dialer.
var ErrNoDialer = errors.New("store: no dialer configured")

// Store connects to its backend on first use and hands out per-entity
// Model handles. It is safe for concurrent use.
type Store struct {
	registry *Registry
	dial     Dialer
	log      zerolog.Logger

	mu     sync.Mutex
	conn   Conn
	models map[string]*Model
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l.With().Str("component", "store").Logger() }
}

// New returns an unconnected store. A nil registry means DefaultRegistry.
func New(registry *Registry, dial Dialer, opts ...Option) *Store {
	if registry == nil {
		registry = DefaultRegistry()
	}
	s := &Store{
		registry: registry,
		dial:     dial,
		log:      zerolog.Nop(),
		models:   make(map[string]*Model),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the schemas the store knows about.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Connect dials the backend once. Later calls reuse the connection; a
// failed dial is retried on the next call.
func (s *Store) Connect(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Store) connectLocked(ctx context.Context) (Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	if s.dial == nil {
		return nil, ErrNoDialer
	}
	conn, err := s.dial(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("store connect failed")
		return nil, fmt.Errorf("store connect: %w", err)
	}
	s.log.Debug().Msg("store connected")
	s.conn = conn
	return conn, nil
}

// Close releases the connection and drops cached models.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.models = make(map[string]*Model)
	return err
}

// Model returns the handle for entity, creating it on first request.
func (s *Store) Model(ctx context.Context, entity string) (*Model, error) {
	schema, err := s.registry.Lookup(entity)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.models[entity]; ok {
		return m, nil
	}
	conn, err := s.connectLocked(ctx)
	if err != nil {
		return nil, err
	}
	m := &Model{schema: schema, conn: conn}
	s.models[entity] = m
	return m, nil
}

// Model runs queries against one entity.
type Model struct {
	schema Schema
	conn   Conn
}

// Schema returns the entity schema.
func (m *Model) Schema() Schema {
	return m.schema
}
