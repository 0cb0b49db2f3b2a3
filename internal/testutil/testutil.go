// Package testutil provides shared test helpers for building canvases,
// fake job backends, and temporary project databases.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/beeprep/waggle/internal/apperr"
	"github.com/beeprep/waggle/internal/graph"
	"github.com/beeprep/waggle/internal/models"
	"github.com/beeprep/waggle/internal/projectdb"
)

// TestDB creates a temporary SQLite project database that is automatically
// cleaned up.
func TestDB(t *testing.T) *projectdb.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "waggle-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := projectdb.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Artifact builds a minimal artifact with JSON content.
func Artifact(id, projectID string, typ models.ArtifactType) *models.Artifact {
	return &models.Artifact{
		ID:        id,
		ProjectID: projectID,
		Type:      typ,
		Content:   json.RawMessage(`{"title":"` + id + `"}`),
	}
}

// GeneratorNode builds an idle generator node for the given output type.
func GeneratorNode(id string, outputType models.OutputType) graph.Node {
	return graph.Node{
		ID:   id,
		Kind: graph.KindGenerator,
		Data: graph.GeneratorData{OutputType: outputType, Status: models.GenerationIdle},
	}
}

// ArtifactNode builds an artifact node pinned to the given artifact.
func ArtifactNode(id string, a *models.Artifact) graph.Node {
	return graph.Node{
		ID:   id,
		Kind: graph.KindArtifact,
		Data: graph.ArtifactData{Artifact: a},
	}
}

// ResultNode builds a result node referencing an artifact by id.
func ResultNode(id, artifactID string) graph.Node {
	return graph.Node{
		ID:   id,
		Kind: graph.KindResult,
		Data: graph.ResultData{Label: id, ArtifactID: artifactID},
	}
}

// FakeJobAPI is an in-memory job backend with scriptable per-poll statuses.
// Safe for concurrent use: orchestrator polls run on background goroutines.
type FakeJobAPI struct {
	mu sync.Mutex

	// Script is the sequence of job snapshots returned by successive GetJob
	// calls. The last entry repeats once exhausted.
	Script []models.Job

	// SubmitErr, when set, is returned by CreateJob.
	SubmitErr error

	// Artifacts served by GetArtifact, keyed by id.
	Artifacts map[string]*models.Artifact

	CreateCalls []models.JobRequest
	PollCount   int
	jobSeq      int
}

// CreateJob records the request and returns a synthetic job id.
func (f *FakeJobAPI) CreateJob(ctx context.Context, req models.JobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.CreateCalls = append(f.CreateCalls, req)
	f.jobSeq++
	return fmt.Sprintf("job-%d", f.jobSeq), nil
}

// GetJob replays the scripted snapshots in order.
func (f *FakeJobAPI) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.Script) == 0 {
		return nil, apperr.ErrNotFound
	}
	i := f.PollCount
	if i >= len(f.Script) {
		i = len(f.Script) - 1
	}
	f.PollCount++
	job := f.Script[i]
	job.ID = jobID
	return &job, nil
}

// GetArtifact serves from the Artifacts map.
func (f *FakeJobAPI) GetArtifact(ctx context.Context, projectID, artifactID string) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.Artifacts[artifactID]; ok {
		return a.Clone(), nil
	}
	return nil, apperr.ErrNotFound
}

// Polls returns the number of GetJob calls made so far.
func (f *FakeJobAPI) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PollCount
}

// Creates returns a copy of the recorded CreateJob requests.
func (f *FakeJobAPI) Creates() []models.JobRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.JobRequest, len(f.CreateCalls))
	copy(out, f.CreateCalls)
	return out
}
