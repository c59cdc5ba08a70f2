// Package session implements the bounded, TTL-expiring session population
// described by §4.2, generalized from the teacher's ad hoc sync.Map of
// session ids into a dedicated manager with capacity enforcement and
// background eviction (run via internal/scheduler).
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// ClientInfo captures the optional request metadata recorded with a
// session at creation time.
type ClientInfo struct {
	UserAgent string
	Origin    string
	RemoteIP  string
}

// Session is a short-lived server-side record keyed by a cryptographically
// random 128-bit id, per §3's Session entity.
type Session struct {
	ID              string
	CreatedAt       time.Time
	LastAccessed    time.Time
	TTL             time.Duration
	ProtocolVersion string
	Client          ClientInfo
}

func (s *Session) expired(now time.Time) bool {
	return now.Sub(s.LastAccessed) > s.TTL
}

// Manager owns the session map, enforces the capacity cap, and exposes the
// Create/Lookup/Refresh/Delete contract from §4.2.
type Manager struct {
	mu              sync.RWMutex
	sessions        map[string]*Session
	ttl             time.Duration
	capacity        int
	protocolVersion string
}

// Config controls the manager's TTL and capacity; zero values fall back to
// the §4.2 defaults (30 minute TTL, 1000 session cap).
type Config struct {
	TTL             time.Duration
	Capacity        int
	ProtocolVersion string
}

// NewManager constructs a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	return &Manager{
		sessions:        make(map[string]*Session),
		ttl:             cfg.TTL,
		capacity:        cfg.Capacity,
		protocolVersion: cfg.ProtocolVersion,
	}
}

// ErrMaxSessions is returned by Create when the capacity cap is reached.
var ErrMaxSessions = fmt.Errorf("maximum number of sessions reached")

// ErrNotFound is returned by Lookup/Refresh/Delete for an unknown or
// expired id.
var ErrNotFound = fmt.Errorf("session not found or expired")

// Create allocates a fresh session id and stores a new record. It fails
// with ErrMaxSessions if the capacity cap is reached.
func (m *Manager) Create(client ClientInfo) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.capacity {
		return nil, ErrMaxSessions
	}

	now := time.Now()
	sess := &Session{
		ID:              id,
		CreatedAt:       now,
		LastAccessed:    now,
		TTL:             m.ttl,
		ProtocolVersion: m.protocolVersion,
		Client:          client,
	}
	m.sessions[id] = sess
	return sess, nil
}

// Lookup returns a session without refreshing its activity timestamp.
func (m *Manager) Lookup(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok || sess.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Refresh updates last_accessed and returns the session. It locks only for
// the minimum necessary scope, per §4.2.
func (m *Manager) Refresh(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.expired(time.Now()) {
		return nil, ErrNotFound
	}
	sess.LastAccessed = time.Now()
	return sess, nil
}

// Delete removes a session by id.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Count reports the current number of live (not necessarily unexpired)
// session records.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts every expired session and returns how many were removed. It
// is designed to be called periodically by a scheduler.Job.
func (m *Manager) Sweep() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sess := range m.sessions {
		if sess.expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func newSessionID() (string, error) {
	b := make([]byte, 16) // 128 bits
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
