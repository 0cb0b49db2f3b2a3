package models

import (
	"encoding/json"
	"time"
)

// Project is the persisted unit: a named canvas. CanvasState holds the
// serialized {viewport, nodes, edges} document; it is opaque at this layer
// and interpreted by the persistence synchronizer.
type Project struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	CanvasState json.RawMessage `json:"canvas_state,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at,omitempty"`
}

// ProjectSummary is a lightweight representation returned by list operations.
type ProjectSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}
