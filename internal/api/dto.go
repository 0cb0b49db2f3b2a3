package api

import (
	"github.com/beeprep/waggle/internal/canvasservice"
	"github.com/beeprep/waggle/internal/graph"
)

// CreateProjectRequest is the request body for creating a project.
type CreateProjectRequest struct {
	Name string `json:"name" example:"Biology 101" validate:"required"`
}

// ConnectRequest is the request body for adding an edge.
type ConnectRequest struct {
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
}

// MoveNodeRequest is the request body for updating a node position.
type MoveNodeRequest struct {
	Position graph.Position `json:"position"`
}

// GenerateRequest is the request body for triggering generation.
type GenerateRequest struct {
	NodeID string `json:"node_id" validate:"required"`
}

// LockRequest is the request body for toggling canvas locking.
type LockRequest struct {
	Locked bool `json:"locked"`
}

// CanvasView is the full canvas response type (aliased from the domain layer).
type CanvasView = canvasservice.CanvasView
