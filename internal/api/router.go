package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beeprep/waggle/internal/canvasservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *canvasservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Canvas state.
	r.Get("/canvas", h.GetCanvas)
	r.Post("/canvas/nodes", h.AddNode)
	r.Patch("/canvas/nodes/{id}/position", h.MoveNode)
	r.Delete("/canvas/nodes/{id}", h.RemoveNode)
	r.Post("/canvas/edges", h.Connect)
	r.Delete("/canvas/edges/{id}", h.RemoveEdge)
	r.Put("/canvas/viewport", h.SetViewport)
	r.Post("/canvas/lock", h.SetLock)

	// History.
	r.Post("/canvas/undo", h.Undo)
	r.Post("/canvas/redo", h.Redo)

	// Artifact reconciliation.
	r.Post("/canvas/refresh", h.Refresh)

	// Generation orchestration.
	r.Get("/generate", h.GenerationStates)
	r.Post("/generate", h.Generate)
	r.Post("/generate/{type}/cancel", h.CancelGeneration)

	// Projects.
	r.Get("/projects", h.ListProjects)
	r.Post("/projects", h.CreateProject)
	r.Post("/projects/{id}/open", h.OpenProject)
	r.Post("/projects/current/save", h.SaveProject)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
