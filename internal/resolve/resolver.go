// Package resolve walks the canvas graph to find the upstream artifacts a
// generator node should consume.
package resolve

import (
	"log/slog"

	"github.com/beeprep/waggle/internal/graph"
	"github.com/beeprep/waggle/internal/models"
)

// CoreLookup supplies the project-level knowledge core, used when an upstream
// asset has no consumable artifact and as the default for unconnected
// generators. An empty string means the project has no knowledge core.
type CoreLookup interface {
	KnowledgeCoreID() string
}

// CoreLookupFunc adapts a function to the CoreLookup interface.
type CoreLookupFunc func() string

// KnowledgeCoreID returns f().
func (f CoreLookupFunc) KnowledgeCoreID() string { return f() }

// Resolver resolves a node's upstream dependencies into an ordered,
// de-duplicated list of source artifact ids.
type Resolver struct {
	store  *graph.Store
	cores  CoreLookup
	logger *slog.Logger
}

// New creates a resolver over store. cores may be nil when no project-level
// knowledge core exists.
func New(store *graph.Store, cores CoreLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, cores: cores, logger: logger}
}

// Sources returns the artifact ids usable as generation input for nodeID, in
// first-seen order with duplicates removed. An empty result means no usable
// source exists; callers must treat that as a precondition failure rather
// than submit a job. The walk carries a visited set, so a wired cycle
// degrades to "no sources" instead of looping.
func (r *Resolver) Sources(nodeID string) []string {
	nodes := r.store.Nodes()
	edges := r.store.Edges()

	byID := make(map[string]graph.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	incoming := make(map[string][]string, len(edges))
	for _, e := range edges {
		incoming[e.Target] = append(incoming[e.Target], e.Source)
	}

	var out []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	visited := map[string]struct{}{nodeID: {}}
	var walk func(target string)
	walk = func(target string) {
		for _, srcID := range incoming[target] {
			if _, ok := visited[srcID]; ok {
				r.logger.Warn("resolve: cycle detected, skipping node",
					slog.String("node", srcID), slog.String("target", target))
				continue
			}
			visited[srcID] = struct{}{}

			src, ok := byID[srcID]
			if !ok {
				continue
			}
			switch data := src.Data.(type) {
			case graph.ArtifactData:
				if data.Artifact != nil && data.Artifact.Type == models.ArtifactKnowledgeCore {
					add(data.Artifact.ID)
				}
			case graph.ResultData:
				add(data.ArtifactID)
			case graph.GeneratorData:
				// Chaining: a completed upstream generator contributes its
				// own artifact (e.g. quiz feeding flashcards).
				if data.Status == models.GenerationCompleted && data.ArtifactID != "" {
					add(data.ArtifactID)
				} else {
					r.logger.Warn("resolve: upstream generator has no artifact yet, skipping",
						slog.String("node", srcID),
						slog.String("output_type", string(data.OutputType)))
				}
			case graph.AssetData:
				// Raw assets are not directly consumable; substitute the
				// project's distilled knowledge core when one exists.
				add(r.coreID())
			case graph.ProcessData:
				walk(srcID)
			}
		}
	}
	walk(nodeID)

	// Unconnected generators fall back to the project knowledge core.
	if len(incoming[nodeID]) == 0 {
		add(r.coreID())
	}
	return out
}

func (r *Resolver) coreID() string {
	if r.cores != nil {
		if id := r.cores.KnowledgeCoreID(); id != "" {
			return id
		}
	}
	// Last resort: scan the canvas for an artifact node carrying a core.
	for _, n := range r.store.Nodes() {
		if a := n.ArtifactRef(); a != nil && a.Type == models.ArtifactKnowledgeCore {
			return a.ID
		}
	}
	return ""
}
