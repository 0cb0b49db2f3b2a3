// Package history provides bounded linear undo/redo over graph snapshots.
package history

import (
	"sync"

	"github.com/beeprep/waggle/internal/graph"
)

// DefaultLimit bounds the snapshot ring to cap memory.
const DefaultLimit = 200

type snapshot struct {
	nodes []graph.Node
	edges []graph.Edge
}

// Manager records deep-copy snapshots of a graph store and restores them on
// undo/redo. It implements the standard linear undo model: taking a snapshot
// truncates any redo entries past the current index, and the oldest entry is
// evicted once the ring exceeds its bound.
type Manager struct {
	mu    sync.Mutex
	store *graph.Store
	snaps []snapshot
	index int
	limit int
}

// New creates a manager over store, seeded with the store's current state so
// the first undo returns to it.
func New(store *graph.Store, limit int) *Manager {
	if limit <= 0 {
		limit = DefaultLimit
	}
	m := &Manager{store: store, limit: limit}
	nodes, edges := store.State()
	m.snaps = []snapshot{{nodes: nodes, edges: edges}}
	return m
}

// Hook returns a store mutation hook that snapshots on non-transient changes.
func (m *Manager) Hook() graph.Hook {
	return func(snap bool) {
		if snap {
			m.TakeSnapshot()
		}
	}
}

// TakeSnapshot pushes a deep copy of the store's current nodes/edges,
// dropping any redo entries and evicting the oldest snapshot when full.
func (m *Manager) TakeSnapshot() {
	nodes, edges := m.store.State()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snaps = append(m.snaps[:m.index+1], snapshot{nodes: nodes, edges: edges})
	if len(m.snaps) > m.limit {
		m.snaps = m.snaps[len(m.snaps)-m.limit:]
	}
	m.index = len(m.snaps) - 1
}

// Undo restores the previous snapshot. Reports false at the oldest entry.
func (m *Manager) Undo() bool {
	m.mu.Lock()
	if m.index == 0 {
		m.mu.Unlock()
		return false
	}
	m.index--
	snap := m.snaps[m.index]
	m.mu.Unlock()

	m.store.Restore(snap.nodes, snap.edges)
	return true
}

// Redo restores the next snapshot. Reports false at the newest entry.
func (m *Manager) Redo() bool {
	m.mu.Lock()
	if m.index >= len(m.snaps)-1 {
		m.mu.Unlock()
		return false
	}
	m.index++
	snap := m.snaps[m.index]
	m.mu.Unlock()

	m.store.Restore(snap.nodes, snap.edges)
	return true
}

// CanUndo reports whether an earlier snapshot exists.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index > 0
}

// CanRedo reports whether a later snapshot exists.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index < len(m.snaps)-1
}

// Reset clears the ring and seeds it with the store's current state. Used
// after loading a project so undo cannot cross project boundaries.
func (m *Manager) Reset() {
	nodes, edges := m.store.State()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = []snapshot{{nodes: nodes, edges: edges}}
	m.index = 0
}

// Len returns the number of snapshots in the ring.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

// Index returns the current position within the ring.
func (m *Manager) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}
