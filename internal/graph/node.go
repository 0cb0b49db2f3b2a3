// Package graph implements the canvas graph model: nodes, edges, viewport,
// and the mutable store they live in.
package graph

import (
	"encoding/json"
	"fmt"

	"github.com/beeprep/waggle/internal/models"
)

// Kind discriminates node payload variants.
type Kind string

const (
	KindAsset     Kind = "asset"
	KindProcess   Kind = "process"
	KindResult    Kind = "result"
	KindArtifact  Kind = "artifactNode"
	KindGenerator Kind = "generator"
)

// Position is a node's 2-D canvas position.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the visible canvas region.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// NodeData is the tagged payload of a node. The concrete type is determined
// by the node's Kind; the union is closed within this package.
type NodeData interface {
	CloneData() NodeData
	isNodeData()
}

// AssetData is the payload of a raw source node (pdf, audio, markdown, ...).
// Assets are not directly consumable by generators; they must first be
// distilled into a knowledge core.
type AssetData struct {
	Name       string `json:"name"`
	SourceType string `json:"source_type"`
	SourceRef  string `json:"source_ref,omitempty"`
}

// ProcessData is the payload of an intermediate pipeline step node.
type ProcessData struct {
	Label string `json:"label"`
}

// ResultData is the payload of a node presenting a named pipeline output.
type ResultData struct {
	Label      string `json:"label"`
	ArtifactID string `json:"artifact_id,omitempty"`
}

// ArtifactData is the payload of a node that carries a server artifact
// directly, typically the project's knowledge core.
type ArtifactData struct {
	Artifact *models.Artifact `json:"artifact,omitempty"`
}

// GeneratorData is the payload of a generator node. OutputType is immutable
// after creation; the remaining fields track the generation lifecycle.
type GeneratorData struct {
	OutputType models.OutputType       `json:"output_type"`
	Status     models.GenerationStatus `json:"status"`
	ArtifactID string                  `json:"artifact_id,omitempty"`
	Artifact   *models.Artifact        `json:"artifact,omitempty"`
	Progress   int                     `json:"progress"`
	Error      string                  `json:"error,omitempty"`
}

func (AssetData) isNodeData()     {}
func (ProcessData) isNodeData()   {}
func (ResultData) isNodeData()    {}
func (ArtifactData) isNodeData()  {}
func (GeneratorData) isNodeData() {}

// CloneData returns a deep copy of the payload.
func (d AssetData) CloneData() NodeData   { return d }
func (d ProcessData) CloneData() NodeData { return d }
func (d ResultData) CloneData() NodeData  { return d }

// CloneData returns a deep copy including the cached artifact.
func (d ArtifactData) CloneData() NodeData {
	d.Artifact = d.Artifact.Clone()
	return d
}

// CloneData returns a deep copy including the cached artifact.
func (d GeneratorData) CloneData() NodeData {
	d.Artifact = d.Artifact.Clone()
	return d
}

// Node is a vertex in the pipeline graph.
type Node struct {
	ID       string
	Kind     Kind
	Position Position
	Data     NodeData
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	if n.Data != nil {
		n.Data = n.Data.CloneData()
	}
	return n
}

type nodeJSON struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the node with its kind-tagged payload.
func (n Node) MarshalJSON() ([]byte, error) {
	var data json.RawMessage
	if n.Data != nil {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return nil, fmt.Errorf("graph: marshal node %s data: %w", n.ID, err)
		}
		data = b
	}
	return json.Marshal(nodeJSON{ID: n.ID, Kind: n.Kind, Position: n.Position, Data: data})
}

// UnmarshalJSON decodes the payload variant selected by the kind tag.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("graph: unmarshal node: %w", err)
	}
	n.ID = raw.ID
	n.Kind = raw.Kind
	n.Position = raw.Position
	n.Data = nil
	if len(raw.Data) == 0 {
		return nil
	}

	decode := func(v NodeData) error {
		if err := json.Unmarshal(raw.Data, v); err != nil {
			return fmt.Errorf("graph: unmarshal %s node %s data: %w", raw.Kind, raw.ID, err)
		}
		return nil
	}

	switch raw.Kind {
	case KindAsset:
		var d AssetData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	case KindProcess:
		var d ProcessData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	case KindResult:
		var d ResultData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	case KindArtifact:
		var d ArtifactData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	case KindGenerator:
		var d GeneratorData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	default:
		return fmt.Errorf("graph: unknown node kind %q", raw.Kind)
	}
	return nil
}

// Generator returns the generator payload, or false when the node is not a
// generator.
func (n Node) Generator() (GeneratorData, bool) {
	d, ok := n.Data.(GeneratorData)
	return d, ok
}

// ArtifactRef returns the artifact held by artifact-bearing node variants
// (artifactNode, completed generator), or nil.
func (n Node) ArtifactRef() *models.Artifact {
	switch d := n.Data.(type) {
	case ArtifactData:
		return d.Artifact
	case GeneratorData:
		return d.Artifact
	}
	return nil
}
