package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mathhhys/softcodes-vsc/internal/secret"
)

// pendingEntry is the transient record of one in-flight authentication
// attempt, keyed by its state. The durable store holds the authoritative copy
// because the external browser redirect may arrive after a process restart;
// the in-memory map is only a fast-path cache.
type pendingEntry struct {
	CodeVerifier string `json:"code_verifier"`
	State        string `json:"state"`
	CreatedAt    string `json:"created_at"`
}

// savePending writes the entry to the durable store first, then mirrors it in
// memory. The durable write must land before the external redirect happens.
func (m *Manager) savePending(ctx context.Context, entry *pendingEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err = m.store.Set(ctx, pendingKeyPrefix+entry.State, string(raw)); err != nil {
		return err
	}
	m.mu.Lock()
	m.pending[entry.State] = entry
	m.mu.Unlock()
	return nil
}

// loadPending resolves a pending entry by state. The durable store is the
// single source of truth; the in-memory map never answers on its own.
func (m *Manager) loadPending(ctx context.Context, state string) (*pendingEntry, error) {
	raw, err := m.store.Get(ctx, pendingKeyPrefix+state)
	if err != nil || raw == "" {
		return nil, err
	}
	var entry pendingEntry
	if err = json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// deletePending removes both the durable and the cached copy. A pending entry
// never outlives one authentication attempt.
func (m *Manager) deletePending(ctx context.Context, state string) {
	if err := m.store.Delete(ctx, pendingKeyPrefix+state); err != nil {
		log.Warnf("failed to delete pending auth entry for state %s: %v", state, err)
	}
	m.mu.Lock()
	delete(m.pending, state)
	m.mu.Unlock()
}

// sweepPending removes pending entries older than pendingTTL. It runs on each
// new Authenticate call so abandoned browser flows do not accumulate forever.
// When the store can enumerate keys, entries left behind by earlier processes
// are swept as well; otherwise only the current process's entries are visible.
func (m *Manager) sweepPending(ctx context.Context) {
	states := make(map[string]bool)

	m.mu.Lock()
	for state := range m.pending {
		states[state] = true
	}
	m.mu.Unlock()

	if lister, ok := m.store.(secret.KeyLister); ok {
		if keys, err := lister.Keys(ctx); err == nil {
			for _, key := range keys {
				if strings.HasPrefix(key, pendingKeyPrefix) {
					states[strings.TrimPrefix(key, pendingKeyPrefix)] = true
				}
			}
		}
	}

	now := time.Now()
	for state := range states {
		entry, err := m.loadPending(ctx, state)
		if err != nil || entry == nil {
			m.deletePending(ctx, state)
			continue
		}
		createdAt, errParse := time.Parse(time.RFC3339, entry.CreatedAt)
		if errParse != nil || now.Sub(createdAt) > pendingTTL {
			log.Debugf("sweeping stale pending auth entry for state %s", state)
			m.deletePending(ctx, state)
		}
	}
}
