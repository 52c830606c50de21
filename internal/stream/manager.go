// Package stream tracks the lifecycle of active decode sessions, providing
// create/remove/list operations used by the ingest and pipeline layers.
package stream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stream is one decode session. A publisher that reconnects under the same
// key gets a new session ID.
type Stream struct {
	ID        uuid.UUID
	Key       string
	StartedAt time.Time
	done      chan struct{}
}

// Done is closed when the session is removed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Manager manages the lifecycle of active sessions.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a new session manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a new session. Returns the session and true if created,
// or nil and false if a session with this key already exists.
func (m *Manager) Create(key string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Stream{
		ID:        uuid.New(),
		Key:       key,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.streams[key] = s
	m.log.Info("stream created", "key", key, "session", s.ID)
	return s, true
}

// Remove removes a session from the manager.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("stream removed", "key", key, "session", s.ID,
			"duration", time.Since(s.StartedAt).Round(time.Millisecond))
	}
}

// Get returns the session for key.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key]
	return s, ok
}

// List returns all active sessions ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].Key < streams[j].Key })
	return streams
}

// Acquire creates a session for key, first waiting for an existing session
// under the same key to be removed. It returns ctx.Err() if ctx ends first.
func (m *Manager) Acquire(ctx context.Context, key string) (*Stream, error) {
	for {
		if s, ok := m.Create(key); ok {
			return s, nil
		}
		old, ok := m.Get(key)
		if !ok {
			continue
		}
		select {
		case <-old.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
