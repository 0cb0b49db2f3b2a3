// Package persist keeps the live canvas and the persisted project record in
// step: debounced autosave, upsert saves, and load-time reconciliation of
// node artifact references against the backend's live artifact set.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beeprep/waggle/internal/graph"
	"github.com/beeprep/waggle/internal/models"
)

// DefaultDebounce is the trailing-edge autosave window.
const DefaultDebounce = 3 * time.Second

// ProjectStore persists project records (remote API or local SQLite).
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpsertProject(ctx context.Context, p *models.Project) (string, error)
}

// ArtifactSource lists a project's live artifacts. May be absent in local
// mode, in which case stored artifact snapshots are used as-is.
type ArtifactSource interface {
	ListArtifacts(ctx context.Context, projectID string) ([]models.Artifact, []models.ArtifactEdge, error)
}

// canvasDocument is the serialized form of Project.CanvasState.
type canvasDocument struct {
	Viewport graph.Viewport `json:"viewport"`
	Nodes    []graph.Node   `json:"nodes"`
	Edges    []graph.Edge   `json:"edges"`
}

// Synchronizer serializes the graph store into the persisted project record
// and reconciles loaded records back into live graph state.
type Synchronizer struct {
	store     *graph.Store
	projects  ProjectStore
	artifacts ArtifactSource
	logger    *slog.Logger
	debounce  time.Duration

	mu        sync.Mutex
	projectID string
	name      string
	timer     *time.Timer
	saving    bool
	pending   bool
	suspended bool
	cache     []models.Artifact
}

// New creates a synchronizer. artifacts may be nil (local mode).
func New(store *graph.Store, projects ProjectStore, artifacts ArtifactSource, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:     store,
		projects:  projects,
		artifacts: artifacts,
		logger:    logger,
		debounce:  DefaultDebounce,
	}
}

// SetDebounce overrides the autosave window; used by tests.
func (s *Synchronizer) SetDebounce(d time.Duration) {
	s.mu.Lock()
	s.debounce = d
	s.mu.Unlock()
}

// Hook returns a store mutation hook that schedules an autosave on every
// mutation, including transient ones.
func (s *Synchronizer) Hook() graph.Hook {
	return func(bool) { s.ScheduleAutosave() }
}

// ProjectID returns the persisted project id ("" before the first save of a
// fresh project).
func (s *Synchronizer) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// ProjectName returns the current project name.
func (s *Synchronizer) ProjectName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// StartProject begins a fresh unsaved project with the given name. The first
// save will create the record and retain its id.
func (s *Synchronizer) StartProject(name string) {
	s.mu.Lock()
	s.projectID = ""
	s.name = name
	s.cache = nil
	s.mu.Unlock()
}

// KnowledgeCoreID returns the id of the project's knowledge core from the
// most recently fetched artifact set, or "".
func (s *Synchronizer) KnowledgeCoreID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.cache {
		if a.Type == models.ArtifactKnowledgeCore {
			return a.ID
		}
	}
	return ""
}

// Artifacts returns the most recently fetched artifact set.
func (s *Synchronizer) Artifacts() []models.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Artifact, len(s.cache))
	copy(out, s.cache)
	return out
}

// Save serializes {viewport, nodes, edges, name} and upserts the project:
// create-if-absent (the assigned id is retained), update otherwise. A save
// arriving while one is in flight is coalesced into a single follow-up.
func (s *Synchronizer) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.saving {
		s.pending = true
		s.mu.Unlock()
		return nil
	}
	s.saving = true
	id := s.projectID
	name := s.name
	s.mu.Unlock()

	nodes, edges := s.store.State()
	doc, err := json.Marshal(canvasDocument{
		Viewport: s.store.Viewport(),
		Nodes:    nodes,
		Edges:    edges,
	})
	if err != nil {
		s.finishSave("")
		return fmt.Errorf("sync: marshal canvas: %w", err)
	}

	savedID, err := s.projects.UpsertProject(ctx, &models.Project{
		ID:          id,
		Name:        name,
		CanvasState: doc,
	})
	if err != nil {
		s.finishSave("")
		return fmt.Errorf("sync: save project: %w", err)
	}
	s.finishSave(savedID)
	return nil
}

// finishSave resets the in-flight flag, records a newly assigned project id,
// and reschedules when mutations arrived mid-save.
func (s *Synchronizer) finishSave(savedID string) {
	s.mu.Lock()
	s.saving = false
	if savedID != "" && s.projectID == "" {
		s.projectID = savedID
	}
	reschedule := s.pending
	s.pending = false
	s.mu.Unlock()
	if reschedule {
		s.ScheduleAutosave()
	}
}

// ScheduleAutosave debounces repeated calls within the window to a single
// trailing save. Autosave is best-effort: failures are logged, never raised.
func (s *Synchronizer) ScheduleAutosave() {
	s.mu.Lock()
	if s.suspended {
		s.mu.Unlock()
		return
	}
	if s.saving {
		s.pending = true
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		s.mu.Unlock()
		return
	}
	s.timer = time.AfterFunc(s.debounce, s.autosave)
	s.mu.Unlock()
}

func (s *Synchronizer) autosave() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	if err := s.Save(context.Background()); err != nil {
		s.logger.Warn("sync: autosave failed", slog.String("error", err.Error()))
	} else {
		s.logger.Debug("sync: autosaved", slog.String("project_id", s.ProjectID()))
	}
}

// Flush cancels any scheduled autosave and saves immediately. An in-flight
// save is waited out first so the final write observes the latest state
// instead of being coalesced into a follow-up that may never run.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		busy := s.saving
		s.mu.Unlock()
		if !busy {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("sync: flush: %w", ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
	return s.Save(ctx)
}

// LoadProject fetches the canonical project record plus the live artifact set
// and reconciles them into the store. A stored canvas_state is the base
// layout with artifact references re-resolved against the live set; a project
// without one gets a synthesized default layout.
func (s *Synchronizer) LoadProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := s.projects.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	var artifacts []models.Artifact
	var artEdges []models.ArtifactEdge
	if s.artifacts != nil {
		artifacts, artEdges, err = s.artifacts.ListArtifacts(ctx, id)
		if err != nil {
			// Degrade to the stored snapshot rather than failing the load.
			s.logger.Warn("sync: artifact listing failed",
				slog.String("project_id", id), slog.String("error", err.Error()))
			artifacts, artEdges = nil, nil
		}
	}

	var doc canvasDocument
	hasState := len(p.CanvasState) > 0 && string(p.CanvasState) != "{}" && string(p.CanvasState) != "null"
	if hasState {
		if err := json.Unmarshal(p.CanvasState, &doc); err != nil {
			return nil, fmt.Errorf("sync: decode canvas state: %w", err)
		}
		if len(doc.Nodes) == 0 {
			hasState = false
		}
	}

	var nodes []graph.Node
	var edges []graph.Edge
	if hasState {
		nodes, edges = doc.Nodes, doc.Edges
		if s.artifacts != nil {
			nodes = reconcileNodes(nodes, artifacts, true)
		}
	} else {
		nodes, edges = defaultLayout(artifacts, artEdges)
		doc.Viewport = graph.Viewport{Zoom: 1}
	}
	if doc.Viewport.Zoom == 0 {
		doc.Viewport.Zoom = 1
	}

	s.mu.Lock()
	s.suspended = true
	s.projectID = p.ID
	s.name = p.Name
	s.cache = artifacts
	s.mu.Unlock()

	s.store.Restore(nodes, edges)
	s.store.SetViewport(doc.Viewport)

	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()

	s.logger.Info("sync: project loaded",
		slog.String("project_id", p.ID),
		slog.Int("nodes", len(nodes)),
		slog.Int("artifacts", len(artifacts)))
	return p, nil
}

// RefreshArtifacts re-resolves artifact references against the live artifact
// set without discarding unsaved structural edits: it only patches the
// artifact/status fields of nodes whose identity matches a known artifact.
// Nodes referencing artifacts absent from the listing are left untouched; a
// just-completed generation must survive a refresh against a listing that has
// not caught up with it yet.
func (s *Synchronizer) RefreshArtifacts(ctx context.Context) error {
	s.mu.Lock()
	id := s.projectID
	src := s.artifacts
	s.mu.Unlock()
	if src == nil {
		return nil
	}
	if id == "" {
		return nil
	}

	artifacts, _, err := src.ListArtifacts(ctx, id)
	if err != nil {
		return fmt.Errorf("sync: refresh artifacts: %w", err)
	}

	s.mu.Lock()
	s.cache = artifacts
	s.mu.Unlock()

	s.store.SetNodes(func(nodes []graph.Node) []graph.Node {
		return reconcileNodes(nodes, artifacts, false)
	}, graph.NoSnapshot())
	return nil
}

// reconcileNodes patches node artifact references from the live artifact set.
// Stale cached artifact copies are never trusted over the live source of
// truth. clearStale controls what happens to references the set does not
// know: on a full load they are dropped (the node keeps its structure but
// loses the attachment), on a refresh they are kept as-is.
func reconcileNodes(nodes []graph.Node, artifacts []models.Artifact, clearStale bool) []graph.Node {
	byID := make(map[string]*models.Artifact, len(artifacts))
	for i := range artifacts {
		byID[artifacts[i].ID] = &artifacts[i]
	}

	for i := range nodes {
		switch data := nodes[i].Data.(type) {
		case graph.ArtifactData:
			if data.Artifact == nil {
				continue
			}
			if live, ok := byID[data.Artifact.ID]; ok {
				data.Artifact = live.Clone()
			} else if clearStale {
				data.Artifact = nil
			} else {
				continue
			}
			nodes[i].Data = data

		case graph.GeneratorData:
			if data.ArtifactID == "" {
				continue
			}
			if live, ok := byID[data.ArtifactID]; ok {
				data.Artifact = live.Clone()
				data.Status = models.GenerationCompleted
				data.Progress = 100
				data.Error = ""
			} else if clearStale {
				data.Artifact = nil
				data.ArtifactID = ""
				data.Status = models.GenerationIdle
				data.Progress = 0
			} else {
				continue
			}
			nodes[i].Data = data
		}
	}
	return nodes
}

// defaultLayout synthesizes a canvas for a project with no stored structural
// state: the first source-bearing artifact, then one completed generator node
// per non-source artifact, connected source → generator. Artifact edges are
// honored so chained derivations connect to their actual parent.
func defaultLayout(artifacts []models.Artifact, artEdges []models.ArtifactEdge) ([]graph.Node, []graph.Edge) {
	var nodes []graph.Node
	var edges []graph.Edge

	nodeByArtifact := make(map[string]string)

	var coreNodeID string
	for i := range artifacts {
		if artifacts[i].Type == models.ArtifactKnowledgeCore {
			n := graph.Node{
				Kind:     graph.KindArtifact,
				Position: graph.Position{X: 80, Y: 240},
				Data:     graph.ArtifactData{Artifact: artifacts[i].Clone()},
			}
			n.ID = uuid.NewString()
			coreNodeID = n.ID
			nodeByArtifact[artifacts[i].ID] = n.ID
			nodes = append(nodes, n)
			break
		}
	}

	parentOf := make(map[string]string, len(artEdges))
	for _, e := range artEdges {
		parentOf[e.ChildArtifactID] = e.ParentArtifactID
	}

	row := 0
	for i := range artifacts {
		a := &artifacts[i]
		if !models.ValidOutputType(a.Type) {
			continue
		}
		n := graph.Node{
			Kind:     graph.KindGenerator,
			Position: graph.Position{X: 480, Y: 80 + float64(row)*160},
			Data: graph.GeneratorData{
				OutputType: a.Type,
				Status:     models.GenerationCompleted,
				ArtifactID: a.ID,
				Artifact:   a.Clone(),
				Progress:   100,
			},
		}
		n.ID = uuid.NewString()
		nodeByArtifact[a.ID] = n.ID
		nodes = append(nodes, n)
		row++

		sourceNode := coreNodeID
		if parentID, ok := parentOf[a.ID]; ok {
			if nid, ok := nodeByArtifact[parentID]; ok {
				sourceNode = nid
			}
		}
		if sourceNode != "" {
			edges = append(edges, graph.Edge{
				ID:           uuid.NewString(),
				Source:       sourceNode,
				Target:       n.ID,
				Relationship: "derived_from",
			})
		}
	}
	return nodes, edges
}
