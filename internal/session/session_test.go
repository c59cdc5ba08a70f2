package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssignsUniqueIDs(t *testing.T) {
	m := NewManager(Config{ProtocolVersion: "2025-06-18"})

	a, err := m.Create(ClientInfo{UserAgent: "test"})
	require.NoError(t, err)
	b, err := m.Create(ClientInfo{UserAgent: "test"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 32, "128-bit id hex-encoded is 32 characters")
	assert.Equal(t, "2025-06-18", a.ProtocolVersion)
}

func TestCreateEnforcesCapacity(t *testing.T) {
	m := NewManager(Config{Capacity: 2})

	_, err := m.Create(ClientInfo{})
	require.NoError(t, err)
	_, err = m.Create(ClientInfo{})
	require.NoError(t, err)

	_, err = m.Create(ClientInfo{})
	assert.ErrorIs(t, err, ErrMaxSessions)
}

func TestLookupReturnsNotFoundForUnknownID(t *testing.T) {
	m := NewManager(Config{})
	_, err := m.Lookup("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupDoesNotRefreshLastAccessed(t *testing.T) {
	m := NewManager(Config{TTL: time.Hour})
	sess, err := m.Create(ClientInfo{})
	require.NoError(t, err)
	originalAccess := sess.LastAccessed

	time.Sleep(2 * time.Millisecond)
	looked, err := m.Lookup(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, originalAccess, looked.LastAccessed)
}

func TestRefreshUpdatesLastAccessed(t *testing.T) {
	m := NewManager(Config{TTL: time.Hour})
	sess, err := m.Create(ClientInfo{})
	require.NoError(t, err)
	originalAccess := sess.LastAccessed

	time.Sleep(2 * time.Millisecond)
	refreshed, err := m.Refresh(sess.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.LastAccessed.After(originalAccess))
}

func TestRefreshExpiredSessionReturnsNotFound(t *testing.T) {
	m := NewManager(Config{TTL: time.Millisecond})
	sess, err := m.Create(ClientInfo{})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = m.Refresh(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesSession(t *testing.T) {
	m := NewManager(Config{})
	sess, err := m.Create(ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, m.Delete(sess.ID))
	_, err = m.Lookup(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUnknownReturnsNotFound(t *testing.T) {
	m := NewManager(Config{})
	assert.ErrorIs(t, m.Delete("nope"), ErrNotFound)
}

func TestSweepEvictsOnlyExpired(t *testing.T) {
	m := NewManager(Config{TTL: time.Millisecond})
	expiring, err := m.Create(ClientInfo{})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	m2 := NewManager(Config{TTL: time.Hour})
	fresh, err := m2.Create(ClientInfo{})
	require.NoError(t, err)

	removed := m.Sweep()
	assert.Equal(t, 1, removed)
	_, err = m.Lookup(expiring.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The unrelated manager with a long TTL is unaffected.
	_, err = m2.Lookup(fresh.ID)
	assert.NoError(t, err)
}

func TestCountReflectsLiveSessions(t *testing.T) {
	m := NewManager(Config{})
	assert.Equal(t, 0, m.Count())

	_, err := m.Create(ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())
}

func TestDefaultsAppliedWhenZeroValued(t *testing.T) {
	m := NewManager(Config{})
	assert.Equal(t, 30*time.Minute, m.ttl)
	assert.Equal(t, 1000, m.capacity)
}
