// Package canvasservice ties the graph store, history, resolver,
// orchestrator, and synchronizer into session-level canvas operations
// consumed by the HTTP and MCP layers.
package canvasservice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beeprep/waggle/internal/apperr"
	"github.com/beeprep/waggle/internal/generate"
	"github.com/beeprep/waggle/internal/graph"
	"github.com/beeprep/waggle/internal/history"
	"github.com/beeprep/waggle/internal/models"
	"github.com/beeprep/waggle/internal/persist"
	"github.com/beeprep/waggle/internal/resolve"
)

// Events receives canvas and generation notifications for client fan-out.
type Events interface {
	Publish(eventType string, data any)
	PublishGeneration(outputType, status string, progress int)
}

// ProjectLister lists stored projects. Optional: the remote backend exposes
// no listing endpoint, so it is only wired in local mode.
type ProjectLister interface {
	List() ([]models.ProjectSummary, error)
}

// CanvasView is the full canvas state returned to clients.
type CanvasView struct {
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Viewport  graph.Viewport `json:"viewport"`
	Nodes     []graph.Node   `json:"nodes"`
	Edges     []graph.Edge   `json:"edges"`
	Locked    bool           `json:"locked"`
}

// Service coordinates one canvas session.
type Service struct {
	store    *graph.Store
	history  *history.Manager
	resolver *resolve.Resolver
	orch     *generate.Orchestrator
	syncer   *persist.Synchronizer
	lister   ProjectLister
	events   Events
	logger   *slog.Logger
}

// New creates a canvas service. lister and events may be nil.
func New(store *graph.Store, hist *history.Manager, resolver *resolve.Resolver,
	orch *generate.Orchestrator, syncer *persist.Synchronizer,
	lister ProjectLister, events Events, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		history:  hist,
		resolver: resolver,
		orch:     orch,
		syncer:   syncer,
		lister:   lister,
		events:   events,
		logger:   logger,
	}
}

// Canvas returns the current canvas state.
func (s *Service) Canvas() CanvasView {
	nodes, edges := s.store.State()
	return CanvasView{
		ProjectID: s.syncer.ProjectID(),
		Name:      s.syncer.ProjectName(),
		Viewport:  s.store.Viewport(),
		Nodes:     nodes,
		Edges:     edges,
		Locked:    s.store.Locked(),
	}
}

// AddNode validates and adds a node. Generator nodes are created idle with a
// valid output type; their output type is immutable afterwards.
func (s *Service) AddNode(n graph.Node) (graph.Node, error) {
	switch data := n.Data.(type) {
	case graph.GeneratorData:
		if !models.ValidOutputType(data.OutputType) {
			return graph.Node{}, fmt.Errorf("canvas: invalid output type %q", data.OutputType)
		}
		n.Data = graph.GeneratorData{OutputType: data.OutputType, Status: models.GenerationIdle}
	case graph.AssetData:
		if data.Name == "" {
			return graph.Node{}, fmt.Errorf("canvas: asset node requires a name")
		}
	case nil:
		return graph.Node{}, fmt.Errorf("canvas: node data is required")
	}

	added, err := s.store.AddNode(n)
	if err != nil {
		return graph.Node{}, err
	}
	s.publish("canvas.updated", map[string]string{"node_id": added.ID})
	return added, nil
}

// AddAssetNode registers a local source file as an asset node. Re-registering
// the same source ref returns the existing node.
func (s *Service) AddAssetNode(name, sourceType, sourceRef string) (graph.Node, error) {
	assetCount := 0
	for _, n := range s.store.Nodes() {
		if data, ok := n.Data.(graph.AssetData); ok {
			if sourceRef != "" && data.SourceRef == sourceRef {
				return n, nil
			}
			assetCount++
		}
	}
	n := graph.Node{
		Kind:     graph.KindAsset,
		Position: graph.Position{X: 80, Y: 80 + float64(assetCount)*120},
		Data:     graph.AssetData{Name: name, SourceType: sourceType, SourceRef: sourceRef},
	}
	added, err := s.store.AddNode(n)
	if err != nil {
		return graph.Node{}, err
	}
	s.publish("asset.added", map[string]string{"node_id": added.ID, "name": name})
	return added, nil
}

// RemoveAssetNode deletes the asset node registered for sourceRef, if any.
// Returns false when no asset with that source ref exists.
func (s *Service) RemoveAssetNode(sourceRef string) bool {
	if sourceRef == "" {
		return false
	}
	for _, n := range s.store.Nodes() {
		if data, ok := n.Data.(graph.AssetData); ok && data.SourceRef == sourceRef {
			s.store.RemoveNodes(n.ID)
			s.publish("asset.removed", map[string]string{"node_id": n.ID})
			return true
		}
	}
	return false
}

// MoveNode updates a node position. Drag deltas are transient: persisted but
// kept out of the undo history.
func (s *Service) MoveNode(id string, pos graph.Position) error {
	ok := s.store.UpdateNode(id, func(n *graph.Node) {
		n.Position = pos
	}, graph.NoSnapshot())
	if !ok {
		return fmt.Errorf("canvas: node %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// RemoveNodes deletes nodes and their touching edges.
func (s *Service) RemoveNodes(ids ...string) {
	s.store.RemoveNodes(ids...)
	s.publish("canvas.updated", nil)
}

// Connect adds an edge between two existing nodes. While the canvas is
// locked, the call succeeds without effect and returns a nil edge.
func (s *Service) Connect(sourceID, targetID string) (*graph.Edge, error) {
	edge, err := s.store.Connect(sourceID, targetID)
	if err != nil {
		return nil, err
	}
	if edge != nil {
		s.publish("canvas.updated", map[string]string{"edge_id": edge.ID})
	}
	return edge, nil
}

// RemoveEdges deletes edges.
func (s *Service) RemoveEdges(ids ...string) {
	s.store.RemoveEdges(ids...)
	s.publish("canvas.updated", nil)
}

// SetViewport updates the viewport.
func (s *Service) SetViewport(v graph.Viewport) {
	s.store.SetViewport(v)
}

// SetLocked toggles edit locking.
func (s *Service) SetLocked(locked bool) {
	s.store.SetLocked(locked)
}

// Undo restores the previous canvas snapshot.
func (s *Service) Undo() bool {
	ok := s.history.Undo()
	if ok {
		s.publish("canvas.updated", nil)
	}
	return ok
}

// Redo restores the next canvas snapshot.
func (s *Service) Redo() bool {
	ok := s.history.Redo()
	if ok {
		s.publish("canvas.updated", nil)
	}
	return ok
}

// Generate resolves nodeID's upstream sources and starts a generation job
// for its output type, superseding any in-flight job of that type. A fresh
// unsaved project is saved first so the job can reference its id.
func (s *Service) Generate(ctx context.Context, nodeID string) error {
	node, ok := s.store.Node(nodeID)
	if !ok {
		return fmt.Errorf("canvas: node %s: %w", nodeID, apperr.ErrNotFound)
	}
	data, ok := node.Generator()
	if !ok {
		return fmt.Errorf("canvas: node %s: %w", nodeID, apperr.ErrNotGenerator)
	}

	projectID := s.syncer.ProjectID()
	if projectID == "" {
		if err := s.syncer.Save(ctx); err != nil {
			return fmt.Errorf("canvas: create project before generate: %w", err)
		}
		projectID = s.syncer.ProjectID()
	}
	if projectID == "" {
		return apperr.ErrNoProject
	}

	sources := s.resolver.Sources(nodeID)
	if len(sources) == 0 {
		return apperr.ErrNoSources
	}
	if err := s.checkSourceTypes(data.OutputType, sources); err != nil {
		return err
	}

	return s.orch.Generate(projectID, nodeID, data.OutputType, sources)
}

// checkSourceTypes enforces the generation matrix before submission: every
// resolved source whose artifact type is known locally must be an allowed
// source for the target type. Sources with unknown types pass through; the
// backend re-validates on its side.
func (s *Service) checkSourceTypes(target models.OutputType, sourceIDs []string) error {
	types := make(map[string]models.ArtifactType)
	for _, a := range s.syncer.Artifacts() {
		types[a.ID] = a.Type
	}
	for _, n := range s.store.Nodes() {
		switch data := n.Data.(type) {
		case graph.ArtifactData:
			if data.Artifact != nil {
				types[data.Artifact.ID] = data.Artifact.Type
			}
		case graph.GeneratorData:
			if data.ArtifactID != "" {
				types[data.ArtifactID] = data.OutputType
			}
		}
	}
	for _, id := range sourceIDs {
		typ, ok := types[id]
		if !ok {
			continue
		}
		if !models.CanGenerate(typ, target) {
			return fmt.Errorf("canvas: %s cannot be generated from %s: %w",
				target, typ, apperr.ErrNotAllowed)
		}
	}
	return nil
}

// CancelGeneration aborts the in-flight job for an output type. Idempotent.
func (s *Service) CancelGeneration(outputType models.OutputType) {
	s.orch.Cancel(outputType)
}

// GenerationStates returns every per-type generation record.
func (s *Service) GenerationStates() map[models.OutputType]generate.State {
	return s.orch.States()
}

// GenerationUpdated applies an orchestrator transition to the canvas: the
// generator node's status and artifact are written in a single store
// mutation, so clients never observe a completed status without its
// artifact. Implements generate.Sink.
func (s *Service) GenerationUpdated(outputType models.OutputType, st generate.State) {
	nodeID := st.NodeID
	if nodeID == "" {
		for _, n := range s.store.Nodes() {
			if data, ok := n.Generator(); ok && data.OutputType == outputType {
				nodeID = n.ID
				break
			}
		}
	}
	if nodeID != "" {
		opts := []graph.Option{graph.NoSnapshot()}
		if st.Status == models.GenerationCompleted || st.Status == models.GenerationFailed {
			opts = nil
		}
		s.store.UpdateNode(nodeID, func(n *graph.Node) {
			data, ok := n.Generator()
			if !ok {
				return
			}
			data.Status = st.Status
			data.Progress = st.Progress
			data.Error = st.Error
			data.ArtifactID = st.ArtifactID
			data.Artifact = st.Artifact.Clone()
			n.Data = data
		}, opts...)
	}
	if s.events != nil {
		s.events.PublishGeneration(string(outputType), string(st.Status), st.Progress)
	}
}

// OpenProject loads a project into the session, replacing the current canvas
// and resetting history so undo cannot cross project boundaries.
func (s *Service) OpenProject(ctx context.Context, id string) (*models.Project, error) {
	s.orch.CancelAll()
	p, err := s.syncer.LoadProject(ctx, id)
	if err != nil {
		return nil, err
	}
	s.history.Reset()
	s.publish("canvas.updated", map[string]string{"project_id": p.ID})
	return p, nil
}

// CreateProject starts a fresh named project and persists it immediately so
// it has an id.
func (s *Service) CreateProject(ctx context.Context, name string) (string, error) {
	s.orch.CancelAll()
	s.store.Restore(nil, nil)
	s.store.SetViewport(graph.Viewport{Zoom: 1})
	s.syncer.StartProject(name)
	s.history.Reset()
	if err := s.syncer.Save(ctx); err != nil {
		return "", err
	}
	s.publish("canvas.updated", nil)
	return s.syncer.ProjectID(), nil
}

// ListProjects lists stored projects (local mode only).
func (s *Service) ListProjects() ([]models.ProjectSummary, error) {
	if s.lister == nil {
		return nil, fmt.Errorf("canvas: project listing not available: %w", apperr.ErrNotFound)
	}
	return s.lister.List()
}

// Save persists the canvas immediately, flushing any pending autosave.
func (s *Service) Save(ctx context.Context) error {
	if err := s.syncer.Flush(ctx); err != nil {
		return err
	}
	s.publish("canvas.saved", map[string]string{"project_id": s.syncer.ProjectID()})
	return nil
}

// Refresh re-resolves node artifact references against the live artifact set
// without discarding unsaved structural edits.
func (s *Service) Refresh(ctx context.Context) error {
	if err := s.syncer.RefreshArtifacts(ctx); err != nil {
		return err
	}
	s.publish("canvas.updated", nil)
	return nil
}

func (s *Service) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}

var _ generate.Sink = (*Service)(nil)
