package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/beeprep/waggle/internal/apperr"
)

// Hook is called after every accepted mutation. snapshot is false for
// high-frequency transient updates (drag positions, restores) that must not
// flood the undo history; autosave listeners should react regardless.
type Hook func(snapshot bool)

// NodeTransform produces a replacement node collection from the current one.
// The input slice is a deep copy; transforms may mutate it freely.
type NodeTransform func([]Node) []Node

// EdgeTransform produces a replacement edge collection from the current one.
type EdgeTransform func([]Edge) []Edge

type mutation struct {
	snapshot bool
}

// Option adjusts how a single mutation is recorded.
type Option func(*mutation)

// NoSnapshot marks a mutation as transient so history listeners skip it.
func NoSnapshot() Option {
	return func(m *mutation) { m.snapshot = false }
}

// Store owns the canonical node/edge collections for one canvas session.
// It is an explicit, injectable container: tests instantiate isolated stores
// and production code passes one by reference.
//
// All reads return deep copies, so callers never alias live state. Mutators
// serialize through a single mutex; hook callbacks run outside the lock.
type Store struct {
	mu       sync.Mutex
	nodes    []Node
	edges    []Edge
	viewport Viewport
	locked   bool
	hooks    []Hook
}

// NewStore creates an empty store with a unit-zoom viewport.
func NewStore() *Store {
	return &Store{viewport: Viewport{Zoom: 1}}
}

// OnMutate registers a hook invoked after every accepted mutation.
// Hooks must be registered before the store is shared across goroutines.
func (s *Store) OnMutate(h Hook) {
	s.hooks = append(s.hooks, h)
}

func (s *Store) notify(snapshot bool) {
	for _, h := range s.hooks {
		h(snapshot)
	}
}

// Nodes returns a deep copy of the node collection.
func (s *Store) Nodes() []Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneNodes(s.nodes)
}

// Edges returns a copy of the edge collection.
func (s *Store) Edges() []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneEdges(s.edges)
}

// Node returns a deep copy of the node with the given id.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == id {
			return n.Clone(), true
		}
	}
	return Node{}, false
}

// Viewport returns the current viewport.
func (s *Store) Viewport() Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// SetViewport updates the viewport. Viewport moves are transient: they are
// persisted but never enter the undo history.
func (s *Store) SetViewport(v Viewport) {
	s.mu.Lock()
	s.viewport = v
	s.mu.Unlock()
	s.notify(false)
}

// SetLocked toggles the locked flag. While locked, Connect is a no-op.
func (s *Store) SetLocked(locked bool) {
	s.mu.Lock()
	s.locked = locked
	s.mu.Unlock()
}

// Locked reports whether the store is locked.
func (s *Store) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// SetNodes applies a transform to the current node collection.
func (s *Store) SetNodes(t NodeTransform, opts ...Option) {
	m := mutation{snapshot: true}
	for _, o := range opts {
		o(&m)
	}
	s.mu.Lock()
	s.nodes = t(CloneNodes(s.nodes))
	s.mu.Unlock()
	s.notify(m.snapshot)
}

// SetEdges applies a transform to the current edge collection.
func (s *Store) SetEdges(t EdgeTransform, opts ...Option) {
	m := mutation{snapshot: true}
	for _, o := range opts {
		o(&m)
	}
	s.mu.Lock()
	s.edges = t(CloneEdges(s.edges))
	s.mu.Unlock()
	s.notify(m.snapshot)
}

// UpdateNode applies fn to the node with the given id under the store lock.
// Reported false when the node does not exist. fn receives the live node, so
// readers never observe a partially applied update.
func (s *Store) UpdateNode(id string, fn func(*Node), opts ...Option) bool {
	m := mutation{snapshot: true}
	for _, o := range opts {
		o(&m)
	}
	s.mu.Lock()
	found := false
	for i := range s.nodes {
		if s.nodes[i].ID == id {
			fn(&s.nodes[i])
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.notify(m.snapshot)
	}
	return found
}

// AddNode appends a node. An empty id is assigned a fresh UUID. Returns the
// stored node.
func (s *Store) AddNode(n Node, opts ...Option) (Node, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	m := mutation{snapshot: true}
	for _, o := range opts {
		o(&m)
	}
	s.mu.Lock()
	for _, existing := range s.nodes {
		if existing.ID == n.ID {
			s.mu.Unlock()
			return Node{}, fmt.Errorf("graph: node %s: %w", n.ID, apperr.ErrConflict)
		}
	}
	s.nodes = append(s.nodes, n.Clone())
	s.mu.Unlock()
	s.notify(m.snapshot)
	return n, nil
}

// Connect adds an edge from sourceID to targetID. While the store is locked
// the call is a silent no-op (nil edge, nil error). Both endpoints must
// reference existing nodes.
func (s *Store) Connect(sourceID, targetID string) (*Edge, error) {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return nil, nil
	}
	if !s.hasNodeLocked(sourceID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("graph: connect source %s: %w", sourceID, apperr.ErrNotFound)
	}
	if !s.hasNodeLocked(targetID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("graph: connect target %s: %w", targetID, apperr.ErrNotFound)
	}
	for _, e := range s.edges {
		if e.Source == sourceID && e.Target == targetID {
			cp := e
			s.mu.Unlock()
			return &cp, nil
		}
	}
	edge := Edge{ID: uuid.NewString(), Source: sourceID, Target: targetID}
	s.edges = append(s.edges, edge)
	s.mu.Unlock()
	s.notify(true)
	return &edge, nil
}

func (s *Store) hasNodeLocked(id string) bool {
	for _, n := range s.nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// RemoveNodes deletes the given nodes and every edge touching them.
func (s *Store) RemoveNodes(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	nodes := s.nodes[:0]
	for _, n := range s.nodes {
		if _, ok := drop[n.ID]; !ok {
			nodes = append(nodes, n)
		}
	}
	s.nodes = nodes
	edges := s.edges[:0]
	for _, e := range s.edges {
		_, srcGone := drop[e.Source]
		_, tgtGone := drop[e.Target]
		if !srcGone && !tgtGone {
			edges = append(edges, e)
		}
	}
	s.edges = edges
	s.mu.Unlock()
	s.notify(true)
}

// RemoveEdges deletes the given edges.
func (s *Store) RemoveEdges(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	edges := s.edges[:0]
	for _, e := range s.edges {
		if _, ok := drop[e.ID]; !ok {
			edges = append(edges, e)
		}
	}
	s.edges = edges
	s.mu.Unlock()
	s.notify(true)
}

// State returns deep copies of the node and edge collections together, for
// snapshotting and serialization.
func (s *Store) State() ([]Node, []Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneNodes(s.nodes), CloneEdges(s.edges)
}

// Restore replaces the node and edge collections verbatim. Restores are
// transient with respect to history: the history manager itself drives them.
func (s *Store) Restore(nodes []Node, edges []Edge) {
	s.mu.Lock()
	s.nodes = CloneNodes(nodes)
	s.edges = CloneEdges(edges)
	s.mu.Unlock()
	s.notify(false)
}
