package models

// JobStatus is the lifecycle status a job reports from the backend.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// GenerationStatus is the per-output-type state tracked by the orchestrator
// and mirrored onto generator nodes. It extends JobStatus with "idle".
type GenerationStatus string

const (
	GenerationIdle      GenerationStatus = "idle"
	GenerationPending   GenerationStatus = "pending"
	GenerationRunning   GenerationStatus = "running"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

// Terminal reports whether the status ends a generation attempt.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// GeneratePayload is the frozen payload for "generate" jobs.
// SourceArtifactID carries the first source for backends that accept a single
// id; SourceArtifactIDs carries the full ordered list.
type GeneratePayload struct {
	TargetType        OutputType `json:"target_type"`
	SourceArtifactID  string     `json:"source_artifact_id,omitempty"`
	SourceArtifactIDs []string   `json:"source_artifact_ids,omitempty"`
}

// JobRequest is the body of POST /api/jobs.
type JobRequest struct {
	ProjectID string          `json:"project_id"`
	Type      string          `json:"type"`
	Payload   GeneratePayload `json:"payload"`
}

// JobResult is the result block of a completed job.
type JobResult struct {
	ArtifactID string `json:"artifact_id"`
}

// Job is the record returned by GET /api/jobs/{id}.
type Job struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id,omitempty"`
	Type         string     `json:"type,omitempty"`
	Status       JobStatus  `json:"status"`
	Result       *JobResult `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}
