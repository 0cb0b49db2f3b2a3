// Package models defines the domain types for Waggle.
package models

import (
	"encoding/json"
	"time"
)

// ArtifactType identifies the kind of content an artifact carries.
type ArtifactType string

const (
	ArtifactRawText       ArtifactType = "raw_text"
	ArtifactText          ArtifactType = "text"
	ArtifactKnowledgeCore ArtifactType = "knowledge_core"
	ArtifactQuiz          ArtifactType = "quiz"
	ArtifactExam          ArtifactType = "exam"
	ArtifactNotes         ArtifactType = "notes"
	ArtifactSlides        ArtifactType = "slides"
	ArtifactFlashcards    ArtifactType = "flashcards"
)

// OutputType is the artifact type a generator node produces.
type OutputType = ArtifactType

// OutputTypes lists every type a generator node may be created with.
var OutputTypes = []OutputType{
	ArtifactQuiz,
	ArtifactExam,
	ArtifactNotes,
	ArtifactSlides,
	ArtifactFlashcards,
}

// ValidOutputType reports whether t is a known generator output type.
func ValidOutputType(t OutputType) bool {
	for _, o := range OutputTypes {
		if o == t {
			return true
		}
	}
	return false
}

// AllowedGenerations maps a source artifact type to the output types that may
// be generated from it. Types absent from the map cannot be used as sources.
var AllowedGenerations = map[ArtifactType][]OutputType{
	ArtifactKnowledgeCore: {ArtifactQuiz, ArtifactExam, ArtifactNotes, ArtifactSlides, ArtifactFlashcards},
	ArtifactQuiz:          {ArtifactFlashcards},
}

// CanGenerate reports whether target may be generated from a source of type src.
func CanGenerate(src ArtifactType, target OutputType) bool {
	for _, t := range AllowedGenerations[src] {
		if t == target {
			return true
		}
	}
	return false
}

// Artifact is a server-owned content object referenced by id. The canvas only
// holds a reference plus an optional cached copy for display.
type Artifact struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id,omitempty"`
	Type      ArtifactType    `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// Clone returns a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Content != nil {
		cp.Content = append(json.RawMessage(nil), a.Content...)
	}
	return &cp
}

// ArtifactEdge is a server-side derivation relation between two artifacts.
type ArtifactEdge struct {
	ParentArtifactID string `json:"parent_artifact_id"`
	ChildArtifactID  string `json:"child_artifact_id"`
	RelationshipType string `json:"relationship_type,omitempty"`
}
