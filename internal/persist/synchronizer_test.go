package persist

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beeprep/waggle/internal/graph"
	"github.com/beeprep/waggle/internal/models"
	"github.com/beeprep/waggle/internal/testutil"
)

// memStore is an in-memory ProjectStore with an optional save delay for
// overlap tests.
type memStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	saves    int
	delay    time.Duration
}

func newMemStore() *memStore {
	return &memStore{projects: make(map[string]*models.Project)}
}

func (m *memStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, context.Canceled
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpsertProject(ctx context.Context, p *models.Project) (string, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	m.projects[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memArtifacts struct {
	artifacts []models.Artifact
	edges     []models.ArtifactEdge
}

func (m *memArtifacts) ListArtifacts(ctx context.Context, projectID string) ([]models.Artifact, []models.ArtifactEdge, error) {
	return m.artifacts, m.edges, nil
}

func TestSaveCreatesAndRetainsID(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	s := New(store, ps, nil, nil)
	s.StartProject("bio 101")

	if _, err := store.AddNode(graph.Node{Kind: graph.KindProcess, Data: graph.ProcessData{Label: "x"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	id := s.ProjectID()
	if id == "" {
		t.Fatal("assigned id not retained")
	}

	// Second save updates the same record.
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.ProjectID() != id {
		t.Fatal("second save changed project id")
	}
	if len(ps.projects) != 1 {
		t.Fatalf("projects = %d, want 1", len(ps.projects))
	}
}

func TestSaveSerializesCanvas(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	s := New(store, ps, nil, nil)
	s.StartProject("p")

	store.AddNode(graph.Node{ID: "a", Kind: graph.KindProcess, Data: graph.ProcessData{Label: "a"}})
	store.SetViewport(graph.Viewport{X: 3, Y: 4, Zoom: 2})
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	p := ps.projects[s.ProjectID()]
	var doc canvasDocument
	if err := json.Unmarshal(p.CanvasState, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Nodes) != 1 || doc.Nodes[0].ID != "a" {
		t.Errorf("nodes = %+v", doc.Nodes)
	}
	if doc.Viewport.Zoom != 2 {
		t.Errorf("viewport = %+v", doc.Viewport)
	}
	if p.Name != "p" {
		t.Errorf("name = %q", p.Name)
	}
}

func TestAutosaveDebounce(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	s := New(store, ps, nil, nil)
	s.SetDebounce(30 * time.Millisecond)
	s.StartProject("p")
	store.OnMutate(s.Hook())

	// A burst of mutations within the window collapses to one save.
	for i := 0; i < 5; i++ {
		store.AddNode(graph.Node{Kind: graph.KindProcess, Data: graph.ProcessData{}})
		time.Sleep(5 * time.Millisecond)
	}
	if n := ps.saveCount(); n != 0 {
		t.Fatalf("saved %d times before the window elapsed", n)
	}

	time.Sleep(100 * time.Millisecond)
	if n := ps.saveCount(); n != 1 {
		t.Fatalf("saves = %d, want 1", n)
	}
}

func TestSaveOverlapCoalesces(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	ps.delay = 50 * time.Millisecond
	s := New(store, ps, nil, nil)
	s.SetDebounce(5 * time.Millisecond)
	s.StartProject("p")

	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	// Saves issued while one is in flight return immediately and are
	// coalesced into a single follow-up.
	for i := 0; i < 3; i++ {
		if err := s.Save(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	time.Sleep(150 * time.Millisecond)
	if n := ps.saveCount(); n != 2 {
		t.Fatalf("saves = %d, want 2 (original + one coalesced)", n)
	}
}

func TestLoadProjectRestoresState(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()

	doc, _ := json.Marshal(canvasDocument{
		Viewport: graph.Viewport{X: 1, Y: 2, Zoom: 1.5},
		Nodes: []graph.Node{
			{ID: "g", Kind: graph.KindGenerator, Data: graph.GeneratorData{
				OutputType: models.ArtifactQuiz, Status: models.GenerationCompleted,
				ArtifactID: "art-1", Progress: 100,
			}},
		},
	})
	ps.projects["p1"] = &models.Project{ID: "p1", Name: "bio", CanvasState: doc}

	arts := &memArtifacts{artifacts: []models.Artifact{*testutil.Artifact("art-1", "p1", models.ArtifactQuiz)}}
	s := New(store, ps, arts, nil)

	p, err := s.LoadProject(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "bio" || s.ProjectID() != "p1" {
		t.Errorf("project = %+v", p)
	}
	nodes := store.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("nodes = %d", len(nodes))
	}
	data := nodes[0].Data.(graph.GeneratorData)
	if data.Artifact == nil || data.Artifact.ID != "art-1" {
		t.Errorf("artifact not reconciled: %+v", data)
	}
	if store.Viewport().Zoom != 1.5 {
		t.Errorf("viewport = %+v", store.Viewport())
	}
}

func TestLoadProjectClearsStaleArtifactRef(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()

	doc, _ := json.Marshal(canvasDocument{
		Nodes: []graph.Node{
			{ID: "g", Kind: graph.KindGenerator, Data: graph.GeneratorData{
				OutputType: models.ArtifactQuiz, Status: models.GenerationCompleted,
				ArtifactID: "gone", Progress: 100,
			}},
		},
	})
	ps.projects["p1"] = &models.Project{ID: "p1", CanvasState: doc}

	s := New(store, ps, &memArtifacts{}, nil)
	if _, err := s.LoadProject(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}

	data := store.Nodes()[0].Data.(graph.GeneratorData)
	if data.Status != models.GenerationIdle || data.ArtifactID != "" {
		t.Errorf("stale reference survived: %+v", data)
	}
}

func TestLoadProjectSynthesizesDefaultLayout(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	ps.projects["p1"] = &models.Project{ID: "p1", CanvasState: json.RawMessage(`{}`)}

	arts := &memArtifacts{
		artifacts: []models.Artifact{
			*testutil.Artifact("core", "p1", models.ArtifactKnowledgeCore),
			*testutil.Artifact("quiz", "p1", models.ArtifactQuiz),
			*testutil.Artifact("cards", "p1", models.ArtifactFlashcards),
		},
		edges: []models.ArtifactEdge{
			{ParentArtifactID: "quiz", ChildArtifactID: "cards"},
		},
	}
	s := New(store, ps, arts, nil)
	if _, err := s.LoadProject(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}

	nodes := store.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("nodes = %d, want core + 2 generators", len(nodes))
	}

	var coreNodeID, quizNodeID, cardsNodeID string
	for _, n := range nodes {
		switch d := n.Data.(type) {
		case graph.ArtifactData:
			coreNodeID = n.ID
		case graph.GeneratorData:
			if d.Status != models.GenerationCompleted || d.Progress != 100 {
				t.Errorf("generator not completed: %+v", d)
			}
			if d.OutputType == models.ArtifactQuiz {
				quizNodeID = n.ID
			} else {
				cardsNodeID = n.ID
			}
		}
	}

	// quiz connects from the core; cards connects from quiz per the
	// derivation edge.
	wantEdges := map[string]string{quizNodeID: coreNodeID, cardsNodeID: quizNodeID}
	for _, e := range store.Edges() {
		if want, ok := wantEdges[e.Target]; !ok || e.Source != want {
			t.Errorf("edge %s -> %s unexpected", e.Source, e.Target)
		}
		delete(wantEdges, e.Target)
	}
	if len(wantEdges) != 0 {
		t.Errorf("missing edges for %v", wantEdges)
	}
}

func TestLoadProjectDoesNotTriggerAutosave(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	ps.projects["p1"] = &models.Project{ID: "p1", CanvasState: json.RawMessage(`{}`)}

	s := New(store, ps, &memArtifacts{}, nil)
	s.SetDebounce(10 * time.Millisecond)
	store.OnMutate(s.Hook())

	if _, err := s.LoadProject(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := ps.saveCount(); n != 0 {
		t.Fatalf("load scheduled %d autosaves", n)
	}
}

func TestKnowledgeCoreIDFromCache(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	ps.projects["p1"] = &models.Project{ID: "p1", CanvasState: json.RawMessage(`{}`)}

	arts := &memArtifacts{artifacts: []models.Artifact{
		*testutil.Artifact("quiz", "p1", models.ArtifactQuiz),
		*testutil.Artifact("core", "p1", models.ArtifactKnowledgeCore),
	}}
	s := New(store, ps, arts, nil)
	if s.KnowledgeCoreID() != "" {
		t.Fatal("core known before load")
	}
	if _, err := s.LoadProject(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	if got := s.KnowledgeCoreID(); got != "core" {
		t.Errorf("core id = %q", got)
	}
}

func TestFlushSavesImmediately(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	s := New(store, ps, nil, nil)
	s.SetDebounce(time.Hour)
	s.StartProject("p")
	store.OnMutate(s.Hook())

	store.AddNode(graph.Node{Kind: graph.KindProcess, Data: graph.ProcessData{}})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := ps.saveCount(); n != 1 {
		t.Fatalf("saves = %d, want 1", n)
	}

	// The pending timer was cancelled; nothing further fires.
	time.Sleep(30 * time.Millisecond)
	if n := ps.saveCount(); n != 1 {
		t.Fatalf("saves = %d after flush, want 1", n)
	}
}

func TestFlushWaitsOutInFlightSave(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	ps.delay = 100 * time.Millisecond
	s := New(store, ps, nil, nil)
	s.SetDebounce(time.Hour)
	s.StartProject("p")

	store.AddNode(graph.Node{ID: "a", Kind: graph.KindProcess, Data: graph.ProcessData{}})
	go s.Save(context.Background())
	time.Sleep(20 * time.Millisecond)

	// Mutate while the first save is in flight; the flush must not return
	// until this state is written.
	store.AddNode(graph.Node{ID: "b", Kind: graph.KindProcess, Data: graph.ProcessData{}})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := ps.saveCount(); n != 2 {
		t.Fatalf("saves = %d, want 2", n)
	}

	p, err := ps.GetProject(context.Background(), s.ProjectID())
	if err != nil {
		t.Fatal(err)
	}
	var doc canvasDocument
	if err := json.Unmarshal(p.CanvasState, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Nodes) != 2 {
		t.Fatalf("flushed %d nodes, want 2", len(doc.Nodes))
	}
}

func TestRefreshPatchesKnownArtifacts(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	arts := &memArtifacts{}
	s := New(store, ps, arts, nil)
	s.StartProject("p")
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	store.Restore([]graph.Node{
		{ID: "g", Kind: graph.KindGenerator, Data: graph.GeneratorData{
			OutputType: models.ArtifactQuiz, Status: models.GenerationRunning,
			ArtifactID: "art-1", Progress: 50,
		}},
	}, nil)
	arts.artifacts = []models.Artifact{*testutil.Artifact("art-1", "p", models.ArtifactQuiz)}

	if err := s.RefreshArtifacts(context.Background()); err != nil {
		t.Fatal(err)
	}
	data := store.Nodes()[0].Data.(graph.GeneratorData)
	if data.Status != models.GenerationCompleted || data.Artifact == nil || data.Artifact.ID != "art-1" {
		t.Errorf("known artifact not patched: %+v", data)
	}
	if len(s.Artifacts()) != 1 {
		t.Error("cache not updated")
	}
}

func TestRefreshKeepsNodesMissingFromListing(t *testing.T) {
	store := graph.NewStore()
	ps := newMemStore()
	arts := &memArtifacts{}
	s := New(store, ps, arts, nil)
	s.StartProject("p")
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A generation just completed locally; the listing has not caught up.
	art := testutil.Artifact("art-9", "p", models.ArtifactQuiz)
	store.Restore([]graph.Node{
		{ID: "g", Kind: graph.KindGenerator, Data: graph.GeneratorData{
			OutputType: models.ArtifactQuiz, Status: models.GenerationCompleted,
			ArtifactID: "art-9", Artifact: art, Progress: 100,
		}},
		{ID: "core", Kind: graph.KindArtifact, Data: graph.ArtifactData{
			Artifact: testutil.Artifact("core-1", "p", models.ArtifactKnowledgeCore),
		}},
	}, nil)

	if err := s.RefreshArtifacts(context.Background()); err != nil {
		t.Fatal(err)
	}

	data := store.Nodes()[0].Data.(graph.GeneratorData)
	if data.Status != models.GenerationCompleted || data.ArtifactID != "art-9" || data.Artifact == nil {
		t.Errorf("refresh discarded local completion: %+v", data)
	}
	core := store.Nodes()[1].Data.(graph.ArtifactData)
	if core.Artifact == nil || core.Artifact.ID != "core-1" {
		t.Errorf("refresh discarded artifact node attachment: %+v", core)
	}
}
