package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beeprep/waggle/internal/apperr"
	"github.com/beeprep/waggle/internal/canvasservice"
	"github.com/beeprep/waggle/internal/generate"
	"github.com/beeprep/waggle/internal/graph"
	"github.com/beeprep/waggle/internal/history"
	"github.com/beeprep/waggle/internal/models"
	"github.com/beeprep/waggle/internal/persist"
	"github.com/beeprep/waggle/internal/resolve"
	"github.com/beeprep/waggle/internal/testutil"
)

type memProjects struct {
	mu       sync.Mutex
	projects map[string]*models.Project
}

func (m *memProjects) GetProject(ctx context.Context, id string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProjects) UpsertProject(ctx context.Context, p *models.Project) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	m.projects[cp.ID] = &cp
	return cp.ID, nil
}

func newTestRouter(t *testing.T, api *testutil.FakeJobAPI, authEnabled bool, token string) (http.Handler, *canvasservice.Service) {
	t.Helper()
	if api == nil {
		api = &testutil.FakeJobAPI{}
	}
	store := graph.NewStore()
	hist := history.New(store, 0)
	store.OnMutate(hist.Hook())

	syncer := persist.New(store, &memProjects{projects: make(map[string]*models.Project)}, nil, nil)
	syncer.SetDebounce(time.Hour)
	syncer.StartProject("api test")

	resolver := resolve.New(store, syncer, nil)

	var svc *canvasservice.Service
	orch := generate.New(api, generate.SinkFunc(func(outputType models.OutputType, st generate.State) {
		svc.GenerationUpdated(outputType, st)
	}), nil, generate.WithPollInterval(2*time.Millisecond))
	t.Cleanup(orch.CancelAll)

	svc = canvasservice.New(store, hist, resolver, orch, syncer, nil, nil, nil)
	return NewRouter(svc, authEnabled, token, nil), svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCanvasLifecycle(t *testing.T) {
	h, _ := newTestRouter(t, nil, false, "")

	// Empty canvas.
	rec := doJSON(t, h, http.MethodGet, "/canvas", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /canvas = %d", rec.Code)
	}
	var view canvasservice.CanvasView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Nodes) != 0 || view.Viewport.Zoom != 1 {
		t.Errorf("fresh canvas = %+v", view)
	}

	// Add two nodes and connect them.
	rec = doJSON(t, h, http.MethodPost, "/canvas/nodes", graph.Node{
		ID: "a", Kind: graph.KindProcess, Data: graph.ProcessData{Label: "a"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add node = %d: %s", rec.Code, rec.Body)
	}
	doJSON(t, h, http.MethodPost, "/canvas/nodes", graph.Node{
		ID: "b", Kind: graph.KindProcess, Data: graph.ProcessData{Label: "b"},
	})

	rec = doJSON(t, h, http.MethodPost, "/canvas/edges", ConnectRequest{SourceID: "a", TargetID: "b"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("connect = %d: %s", rec.Code, rec.Body)
	}
	var edge graph.Edge
	json.Unmarshal(rec.Body.Bytes(), &edge)

	// Move a node.
	rec = doJSON(t, h, http.MethodPatch, "/canvas/nodes/a/position", MoveNodeRequest{Position: graph.Position{X: 9, Y: 8}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("move = %d", rec.Code)
	}

	// Remove the edge, then a node.
	if rec = doJSON(t, h, http.MethodDelete, "/canvas/edges/"+edge.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("remove edge = %d", rec.Code)
	}
	if rec = doJSON(t, h, http.MethodDelete, "/canvas/nodes/a", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("remove node = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/canvas", nil)
	json.Unmarshal(rec.Body.Bytes(), &view)
	if len(view.Nodes) != 1 || len(view.Edges) != 0 {
		t.Errorf("canvas after deletes = %+v", view)
	}
}

func TestAddNodeRejectsDuplicate(t *testing.T) {
	h, _ := newTestRouter(t, nil, false, "")
	node := graph.Node{ID: "a", Kind: graph.KindProcess, Data: graph.ProcessData{Label: "a"}}
	doJSON(t, h, http.MethodPost, "/canvas/nodes", node)
	if rec := doJSON(t, h, http.MethodPost, "/canvas/nodes", node); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate add = %d", rec.Code)
	}
}

func TestConnectErrors(t *testing.T) {
	h, _ := newTestRouter(t, nil, false, "")
	doJSON(t, h, http.MethodPost, "/canvas/nodes", graph.Node{ID: "a", Kind: graph.KindProcess, Data: graph.ProcessData{}})

	if rec := doJSON(t, h, http.MethodPost, "/canvas/edges", ConnectRequest{SourceID: "a", TargetID: "ghost"}); rec.Code != http.StatusNotFound {
		t.Errorf("missing target = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/canvas/edges", ConnectRequest{SourceID: "a"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d", rec.Code)
	}
}

func TestLockedConnectIsSilentNoOp(t *testing.T) {
	h, _ := newTestRouter(t, nil, false, "")
	doJSON(t, h, http.MethodPost, "/canvas/nodes", graph.Node{ID: "a", Kind: graph.KindProcess, Data: graph.ProcessData{}})
	doJSON(t, h, http.MethodPost, "/canvas/nodes", graph.Node{ID: "b", Kind: graph.KindProcess, Data: graph.ProcessData{}})

	if rec := doJSON(t, h, http.MethodPost, "/canvas/lock", LockRequest{Locked: true}); rec.Code != http.StatusNoContent {
		t.Fatalf("lock = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/canvas/edges", ConnectRequest{SourceID: "a", TargetID: "b"}); rec.Code != http.StatusNoContent {
		t.Fatalf("locked connect = %d, want 204", rec.Code)
	}

	var view canvasservice.CanvasView
	rec := doJSON(t, h, http.MethodGet, "/canvas", nil)
	json.Unmarshal(rec.Body.Bytes(), &view)
	if len(view.Edges) != 0 {
		t.Error("edge created while locked")
	}
	if !view.Locked {
		t.Error("locked flag not reported")
	}
}

func TestUndoRedoEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, nil, false, "")
	doJSON(t, h, http.MethodPost, "/canvas/nodes", graph.Node{ID: "a", Kind: graph.KindProcess, Data: graph.ProcessData{}})

	var view canvasservice.CanvasView
	rec := doJSON(t, h, http.MethodPost, "/canvas/undo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo = %d", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &view)
	if len(view.Nodes) != 0 {
		t.Error("undo did not revert")
	}

	rec = doJSON(t, h, http.MethodPost, "/canvas/redo", nil)
	json.Unmarshal(rec.Body.Bytes(), &view)
	if len(view.Nodes) != 1 {
		t.Error("redo did not restore")
	}
}

func TestGenerateEndpoint(t *testing.T) {
	api := &testutil.FakeJobAPI{
		Script: []models.Job{
			{Status: models.JobCompleted, Result: &models.JobResult{ArtifactID: "art-1"}},
		},
		Artifacts: map[string]*models.Artifact{
			"art-1": testutil.Artifact("art-1", "p", models.ArtifactQuiz),
		},
	}
	h, svc := newTestRouter(t, api, false, "")

	core := testutil.Artifact("core-1", "p", models.ArtifactKnowledgeCore)
	doJSON(t, h, http.MethodPost, "/canvas/nodes", testutil.ArtifactNode("coreNode", core))
	doJSON(t, h, http.MethodPost, "/canvas/nodes", testutil.GeneratorNode("gen", models.ArtifactQuiz))
	doJSON(t, h, http.MethodPost, "/canvas/edges", ConnectRequest{SourceID: "coreNode", TargetID: "gen"})

	rec := doJSON(t, h, http.MethodPost, "/generate", GenerateRequest{NodeID: "gen"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate = %d: %s", rec.Code, rec.Body)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := svc.GenerationStates()[models.ArtifactQuiz]; st.Status == models.GenerationCompleted {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	rec = doJSON(t, h, http.MethodGet, "/generate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("states = %d", rec.Code)
	}
	var states map[models.OutputType]generate.State
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatal(err)
	}
	if st := states[models.ArtifactQuiz]; st.Status != models.GenerationCompleted || st.ArtifactID != "art-1" {
		t.Errorf("state = %+v", st)
	}
}

func TestGenerateEndpointErrors(t *testing.T) {
	h, svc := newTestRouter(t, nil, false, "")

	if rec := doJSON(t, h, http.MethodPost, "/generate", GenerateRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty node id = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/generate", GenerateRequest{NodeID: "ghost"}); rec.Code != http.StatusNotFound {
		t.Errorf("missing node = %d", rec.Code)
	}

	doJSON(t, h, http.MethodPost, "/canvas/nodes", graph.Node{ID: "p", Kind: graph.KindProcess, Data: graph.ProcessData{}})
	if rec := doJSON(t, h, http.MethodPost, "/generate", GenerateRequest{NodeID: "p"}); rec.Code != http.StatusBadRequest {
		t.Errorf("non-generator = %d", rec.Code)
	}

	doJSON(t, h, http.MethodPost, "/canvas/nodes", testutil.GeneratorNode("lonely", models.ArtifactQuiz))
	if rec := doJSON(t, h, http.MethodPost, "/generate", GenerateRequest{NodeID: "lonely"}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("no sources = %d", rec.Code)
	}

	// A quiz may not source an exam generator.
	doJSON(t, h, http.MethodPost, "/canvas/nodes", testutil.GeneratorNode("quizGen", models.ArtifactQuiz))
	doJSON(t, h, http.MethodPost, "/canvas/nodes", testutil.GeneratorNode("examGen", models.ArtifactExam))
	doJSON(t, h, http.MethodPost, "/canvas/edges", ConnectRequest{SourceID: "quizGen", TargetID: "examGen"})
	svc.GenerationUpdated(models.ArtifactQuiz, generate.State{
		NodeID: "quizGen", Status: models.GenerationCompleted,
		ArtifactID: "q-art", Artifact: testutil.Artifact("q-art", "p", models.ArtifactQuiz), Progress: 100,
	})
	if rec := doJSON(t, h, http.MethodPost, "/generate", GenerateRequest{NodeID: "examGen"}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("disallowed source = %d", rec.Code)
	}
}

func TestCancelEndpointIdempotent(t *testing.T) {
	h, _ := newTestRouter(t, nil, false, "")
	for i := 0; i < 2; i++ {
		if rec := doJSON(t, h, http.MethodPost, "/generate/quiz/cancel", nil); rec.Code != http.StatusNoContent {
			t.Fatalf("cancel #%d = %d", i+1, rec.Code)
		}
	}
}

func TestProjectEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, nil, false, "")

	rec := doJSON(t, h, http.MethodPost, "/projects", CreateProjectRequest{Name: "bio"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project = %d: %s", rec.Code, rec.Body)
	}
	var created struct {
		ProjectID string `json:"project_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.ProjectID == "" {
		t.Fatal("no project id returned")
	}

	doJSON(t, h, http.MethodPost, "/canvas/nodes", graph.Node{ID: "x", Kind: graph.KindProcess, Data: graph.ProcessData{}})
	if rec := doJSON(t, h, http.MethodPost, "/projects/current/save", nil); rec.Code != http.StatusOK {
		t.Fatalf("save = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/projects/"+created.ProjectID+"/open", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("open = %d: %s", rec.Code, rec.Body)
	}
	var view canvasservice.CanvasView
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.ProjectID != created.ProjectID || len(view.Nodes) != 1 {
		t.Errorf("opened view = %+v", view)
	}

	if rec := doJSON(t, h, http.MethodPost, "/projects/ghost/open", nil); rec.Code != http.StatusNotFound {
		t.Errorf("open missing = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/projects", CreateProjectRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("create without name = %d", rec.Code)
	}
	// No local database wired, so listing is unavailable.
	if rec := doJSON(t, h, http.MethodGet, "/projects", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("list = %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h, _ := newTestRouter(t, nil, true, "sekrit")

	rec := doJSON(t, h, http.MethodGet, "/canvas", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/canvas", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/canvas", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rr.Code)
	}
}

func TestViewportEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, nil, false, "")
	if rec := doJSON(t, h, http.MethodPut, "/canvas/viewport", graph.Viewport{X: 10, Y: 20, Zoom: 1.5}); rec.Code != http.StatusNoContent {
		t.Fatalf("viewport = %d", rec.Code)
	}
	var view canvasservice.CanvasView
	rec := doJSON(t, h, http.MethodGet, "/canvas", nil)
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.Viewport.Zoom != 1.5 {
		t.Errorf("viewport = %+v", view.Viewport)
	}
}
