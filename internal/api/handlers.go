package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beeprep/waggle/internal/apperr"
	"github.com/beeprep/waggle/internal/canvasservice"
	"github.com/beeprep/waggle/internal/graph"
	"github.com/beeprep/waggle/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *canvasservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *canvasservice.Service) *Handler {
	return &Handler{svc: svc}
}

// GetCanvas handles GET /api/canvas.
//
//	@Summary		Get the current canvas state
//	@Tags			canvas
//	@Produce		json
//	@Success		200	{object}	CanvasView
//	@Security		BearerAuth
//	@Router			/canvas [get]
func (h *Handler) GetCanvas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Canvas())
}

// AddNode handles POST /api/canvas/nodes.
//
//	@Summary		Add a node to the canvas
//	@Tags			canvas
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	graph.Node
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/nodes [post]
func (h *Handler) AddNode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var node graph.Node
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	added, err := h.svc.AddNode(node)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			writeError(w, http.StatusConflict, "node already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

// MoveNode handles PATCH /api/canvas/nodes/{id}/position.
//
//	@Summary		Update a node position
//	@Tags			canvas
//	@Accept			json
//	@Param			id	path	string	true	"Node id"
//	@Success		204	"Position updated"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/nodes/{id}/position [patch]
func (h *Handler) MoveNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req MoveNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.svc.MoveNode(id, req.Position); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveNode handles DELETE /api/canvas/nodes/{id}.
//
//	@Summary		Remove a node and its edges
//	@Tags			canvas
//	@Param			id	path	string	true	"Node id"
//	@Success		204	"Node removed"
//	@Security		BearerAuth
//	@Router			/canvas/nodes/{id} [delete]
func (h *Handler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	h.svc.RemoveNodes(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// Connect handles POST /api/canvas/edges.
//
//	@Summary		Connect two nodes
//	@Tags			canvas
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	graph.Edge
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/canvas/edges [post]
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SourceID == "" || req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "source_id and target_id are required")
		return
	}
	edge, err := h.svc.Connect(req.SourceID, req.TargetID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		slog.Error("connect failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if edge == nil {
		// Canvas is locked; the connect is a silent no-op.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

// RemoveEdge handles DELETE /api/canvas/edges/{id}.
//
//	@Summary		Remove an edge
//	@Tags			canvas
//	@Param			id	path	string	true	"Edge id"
//	@Success		204	"Edge removed"
//	@Security		BearerAuth
//	@Router			/canvas/edges/{id} [delete]
func (h *Handler) RemoveEdge(w http.ResponseWriter, r *http.Request) {
	h.svc.RemoveEdges(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// SetViewport handles PUT /api/canvas/viewport.
//
//	@Summary		Update the canvas viewport
//	@Tags			canvas
//	@Accept			json
//	@Success		204	"Viewport updated"
//	@Security		BearerAuth
//	@Router			/canvas/viewport [put]
func (h *Handler) SetViewport(w http.ResponseWriter, r *http.Request) {
	var v graph.Viewport
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.svc.SetViewport(v)
	w.WriteHeader(http.StatusNoContent)
}

// SetLock handles POST /api/canvas/lock.
//
//	@Summary		Toggle canvas edit locking
//	@Tags			canvas
//	@Accept			json
//	@Success		204	"Lock updated"
//	@Security		BearerAuth
//	@Router			/canvas/lock [post]
func (h *Handler) SetLock(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.svc.SetLocked(req.Locked)
	w.WriteHeader(http.StatusNoContent)
}

// Undo handles POST /api/canvas/undo.
//
//	@Summary		Undo the last canvas change
//	@Tags			canvas
//	@Produce		json
//	@Success		200	{object}	CanvasView
//	@Security		BearerAuth
//	@Router			/canvas/undo [post]
func (h *Handler) Undo(w http.ResponseWriter, _ *http.Request) {
	h.svc.Undo()
	writeJSON(w, http.StatusOK, h.svc.Canvas())
}

// Redo handles POST /api/canvas/redo.
//
//	@Summary		Redo the last undone canvas change
//	@Tags			canvas
//	@Produce		json
//	@Success		200	{object}	CanvasView
//	@Security		BearerAuth
//	@Router			/canvas/redo [post]
func (h *Handler) Redo(w http.ResponseWriter, _ *http.Request) {
	h.svc.Redo()
	writeJSON(w, http.StatusOK, h.svc.Canvas())
}

// Refresh handles POST /api/canvas/refresh.
//
//	@Summary		Re-resolve node artifacts against the live artifact set
//	@Tags			canvas
//	@Produce		json
//	@Success		200	{object}	CanvasView
//	@Security		BearerAuth
//	@Router			/canvas/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Refresh(r.Context()); err != nil {
		slog.Error("refresh failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "artifact refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Canvas())
}

// Generate handles POST /api/generate.
//
//	@Summary		Trigger generation for a generator node
//	@Tags			generation
//	@Accept			json
//	@Produce		json
//	@Success		202	{object}	map[string]any
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/generate [post]
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "node_id is required")
		return
	}
	if err := h.svc.Generate(r.Context(), req.NodeID); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, apperr.ErrNotGenerator):
			writeError(w, http.StatusBadRequest, "node is not a generator")
		case errors.Is(err, apperr.ErrNoSources):
			writeError(w, http.StatusUnprocessableEntity, "no resolvable sources")
		case errors.Is(err, apperr.ErrNotAllowed):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, apperr.ErrNoProject):
			writeError(w, http.StatusBadRequest, "no project selected")
		default:
			slog.Error("generate failed", slog.String("node_id", req.NodeID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"node_id": req.NodeID})
}

// GenerationStates handles GET /api/generate.
//
//	@Summary		Get all per-output-type generation states
//	@Tags			generation
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/generate [get]
func (h *Handler) GenerationStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GenerationStates())
}

// CancelGeneration handles POST /api/generate/{type}/cancel.
//
//	@Summary		Cancel the in-flight job for an output type
//	@Tags			generation
//	@Param			type	path	string	true	"Output type"
//	@Success		204		"Cancelled (idempotent)"
//	@Security		BearerAuth
//	@Router			/generate/{type}/cancel [post]
func (h *Handler) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	h.svc.CancelGeneration(models.OutputType(chi.URLParam(r, "type")))
	w.WriteHeader(http.StatusNoContent)
}

// ListProjects handles GET /api/projects.
//
//	@Summary		List stored projects
//	@Tags			projects
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/projects [get]
func (h *Handler) ListProjects(w http.ResponseWriter, _ *http.Request) {
	projects, err := h.svc.ListProjects()
	if err != nil {
		writeError(w, http.StatusNotImplemented, "project listing not available")
		return
	}
	if projects == nil {
		projects = []models.ProjectSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// CreateProject handles POST /api/projects.
//
//	@Summary		Create and open a fresh project
//	@Tags			projects
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	map[string]any
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects [post]
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	id, err := h.svc.CreateProject(r.Context(), req.Name)
	if err != nil {
		slog.Error("create project failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project_id": id})
}

// OpenProject handles POST /api/projects/{id}/open.
//
//	@Summary		Load a project into the canvas session
//	@Tags			projects
//	@Param			id	path	string	true	"Project id"
//	@Produce		json
//	@Success		200	{object}	CanvasView
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id}/open [post]
func (h *Handler) OpenProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.OpenProject(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		slog.Error("open project failed", slog.String("project_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Canvas())
}

// SaveProject handles POST /api/projects/current/save.
//
//	@Summary		Persist the canvas immediately
//	@Tags			projects
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/projects/current/save [post]
func (h *Handler) SaveProject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Save(r.Context()); err != nil {
		slog.Error("save failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": h.svc.Canvas().ProjectID})
}
