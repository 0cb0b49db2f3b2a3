// Package backend implements the HTTP client for the job, artifact, and
// project APIs.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beeprep/waggle/internal/apperr"
	"github.com/beeprep/waggle/internal/generate"
	"github.com/beeprep/waggle/internal/models"
)

// Client talks to the backend REST API. A bearer token is attached when
// configured; absence of a token is tolerated (anonymous/local mode).
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("backend: %s %s: %w", method, path, apperr.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return &generate.SubmissionError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("backend: decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// errorMessage extracts {"detail": ...} or {"error": ...} from an error body.
func errorMessage(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(b, &payload) == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(b))
}

// CreateJob submits a job and returns its id. The backend may coalesce an
// identical in-progress job and return its id instead; callers treat both
// the same.
func (c *Client) CreateJob(ctx context.Context, req models.JobRequest) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("backend: job created without id")
	}
	return resp.JobID, nil
}

// GetJob fetches the current status of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListArtifacts fetches every artifact and artifact edge of a project.
func (c *Client) ListArtifacts(ctx context.Context, projectID string) ([]models.Artifact, []models.ArtifactEdge, error) {
	var resp struct {
		Artifacts []models.Artifact     `json:"artifacts"`
		Edges     []models.ArtifactEdge `json:"edges"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+projectID+"/artifacts", nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Artifacts, resp.Edges, nil
}

// GetArtifact fetches a single artifact from project storage. A completed job
// whose artifact is absent from the listing yields ErrNotFound.
func (c *Client) GetArtifact(ctx context.Context, projectID, artifactID string) (*models.Artifact, error) {
	artifacts, _, err := c.ListArtifacts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for i := range artifacts {
		if artifacts[i].ID == artifactID {
			return &artifacts[i], nil
		}
	}
	return nil, fmt.Errorf("backend: artifact %s: %w", artifactID, apperr.ErrNotFound)
}

// GetProject fetches a project record.
func (c *Client) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProject creates the project when it has no id yet, otherwise updates
// it. Returns the persisted project id.
func (c *Client) UpsertProject(ctx context.Context, p *models.Project) (string, error) {
	if p.ID == "" {
		var resp models.Project
		if err := c.do(ctx, http.MethodPost, "/api/projects", p, &resp); err != nil {
			return "", err
		}
		return resp.ID, nil
	}
	if err := c.do(ctx, http.MethodPut, "/api/projects/"+p.ID, p, nil); err != nil {
		return "", err
	}
	return p.ID, nil
}

var _ generate.JobAPI = (*Client)(nil)
