package models

import (
	"encoding/json"
	"testing"
)

func TestCanGenerate(t *testing.T) {
	cases := []struct {
		src    ArtifactType
		target OutputType
		want   bool
	}{
		{ArtifactKnowledgeCore, ArtifactQuiz, true},
		{ArtifactKnowledgeCore, ArtifactFlashcards, true},
		{ArtifactQuiz, ArtifactFlashcards, true},
		{ArtifactQuiz, ArtifactExam, false},
		{ArtifactFlashcards, ArtifactQuiz, false},
		{ArtifactRawText, ArtifactNotes, false},
	}
	for _, tc := range cases {
		if got := CanGenerate(tc.src, tc.target); got != tc.want {
			t.Errorf("CanGenerate(%s, %s) = %v, want %v", tc.src, tc.target, got, tc.want)
		}
	}
}

func TestValidOutputType(t *testing.T) {
	for _, o := range OutputTypes {
		if !ValidOutputType(o) {
			t.Errorf("%s not accepted", o)
		}
	}
	if ValidOutputType(ArtifactKnowledgeCore) {
		t.Error("knowledge_core is not a generator output")
	}
	if ValidOutputType("poems") {
		t.Error("unknown type accepted")
	}
}

func TestArtifactClone(t *testing.T) {
	var nilArt *Artifact
	if nilArt.Clone() != nil {
		t.Fatal("nil clone must be nil")
	}

	a := &Artifact{ID: "a1", Type: ArtifactQuiz, Content: json.RawMessage(`{"q":1}`)}
	cp := a.Clone()
	cp.Content[2] = 'x'
	if string(a.Content) != `{"q":1}` {
		t.Fatal("clone shares content buffer")
	}
}

func TestGenerationStatusTerminal(t *testing.T) {
	if GenerationIdle.Terminal() || GenerationPending.Terminal() || GenerationRunning.Terminal() {
		t.Error("non-terminal status reported terminal")
	}
	if !GenerationCompleted.Terminal() || !GenerationFailed.Terminal() {
		t.Error("terminal status not reported")
	}
}
