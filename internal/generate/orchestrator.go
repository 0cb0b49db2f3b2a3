// Package generate drives asynchronous generation jobs: one state machine per
// output type with single-flight submission, polling, and cancellation.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beeprep/waggle/internal/apperr"
	"github.com/beeprep/waggle/internal/models"
)

const (
	// DefaultPollInterval is the fixed delay between job status polls.
	DefaultPollInterval = 2 * time.Second
	// DefaultMaxAttempts bounds the polling loop (150 × 2s = 5 minutes).
	DefaultMaxAttempts = 150
)

// JobAPI is the backend surface the orchestrator needs: job submission,
// status polling, and artifact retrieval.
type JobAPI interface {
	CreateJob(ctx context.Context, req models.JobRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	GetArtifact(ctx context.Context, projectID, artifactID string) (*models.Artifact, error)
}

// State is the per-output-type generation record.
type State struct {
	JobID      string                  `json:"job_id,omitempty"`
	NodeID     string                  `json:"node_id,omitempty"`
	Status     models.GenerationStatus `json:"status"`
	ArtifactID string                  `json:"artifact_id,omitempty"`
	Artifact   *models.Artifact        `json:"artifact,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Progress   int                     `json:"progress"`
}

// Sink receives every observable state transition. Implementations apply the
// update to the canvas (artifact attach + status flip as one mutation) and
// fan it out to clients.
type Sink interface {
	GenerationUpdated(outputType models.OutputType, st State)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(outputType models.OutputType, st State)

// GenerationUpdated calls f.
func (f SinkFunc) GenerationUpdated(t models.OutputType, st State) { f(t, st) }

type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
	nodeID string
	done   chan struct{}
}

// Option adjusts orchestrator behavior; primarily used by tests to shrink
// polling timings.
type Option func(*Orchestrator)

// WithPollInterval overrides the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.interval = d }
}

// WithMaxAttempts overrides the polling ceiling.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxAttempts = n }
}

// Orchestrator enforces single-flight generation per output type. Distinct
// output types poll fully concurrently with independent timers; starting a
// new job for a type cancels and supersedes the prior one.
type Orchestrator struct {
	api         JobAPI
	sink        Sink
	logger      *slog.Logger
	interval    time.Duration
	maxAttempts int

	mu      sync.Mutex
	flights map[models.OutputType]*flight
	states  map[models.OutputType]State
}

// New creates an orchestrator. sink may be nil when no listener is wired.
func New(api JobAPI, sink Sink, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		api:         api,
		sink:        sink,
		logger:      logger,
		interval:    DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
		flights:     make(map[models.OutputType]*flight),
		states:      make(map[models.OutputType]State),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current record for an output type (idle when untracked).
func (o *Orchestrator) State(t models.OutputType) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[t]
	if !ok {
		return State{Status: models.GenerationIdle}
	}
	return st
}

// States returns a copy of every tracked per-type record.
func (o *Orchestrator) States() map[models.OutputType]State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[models.OutputType]State, len(o.states))
	for t, st := range o.states {
		out[t] = st
	}
	return out
}

// Generate submits a generation job for outputType and begins polling it in
// the background. Any prior in-flight job for the same type is cancelled
// first. The sourceIDs precondition is the caller's responsibility (via the
// resolver); an empty list is an error, never a silent retry.
func (o *Orchestrator) Generate(projectID, nodeID string, outputType models.OutputType, sourceIDs []string) error {
	if projectID == "" {
		return apperr.ErrNoProject
	}
	if len(sourceIDs) == 0 {
		return apperr.ErrNoSources
	}
	if !models.ValidOutputType(outputType) {
		return fmt.Errorf("generate: unknown output type %q", outputType)
	}

	// Polling outlives the triggering request, so the flight context is
	// detached from it and cancelled only by Cancel or supersession.
	ctx, cancel := context.WithCancel(context.Background())
	f := &flight{ctx: ctx, cancel: cancel, nodeID: nodeID, done: make(chan struct{})}

	o.mu.Lock()
	if prev, ok := o.flights[outputType]; ok {
		prev.cancel()
	}
	o.flights[outputType] = f
	st := State{NodeID: nodeID, Status: models.GenerationPending, Progress: progressFor(models.JobPending)}
	o.states[outputType] = st
	o.mu.Unlock()
	o.emit(outputType, st)

	go o.run(f, projectID, outputType, sourceIDs)
	return nil
}

// Cancel aborts the in-flight job for outputType and resets its state to
// idle. With nothing in flight it is a pure no-op: nothing is overwritten
// and nothing is emitted, so terminal records survive stray cancels.
// Cancellation is never surfaced as a failure.
func (o *Orchestrator) Cancel(outputType models.OutputType) {
	o.mu.Lock()
	f, ok := o.flights[outputType]
	if !ok {
		o.mu.Unlock()
		return
	}
	f.cancel()
	delete(o.flights, outputType)
	st := State{NodeID: f.nodeID, Status: models.GenerationIdle}
	o.states[outputType] = st
	o.mu.Unlock()
	o.emit(outputType, st)
}

// Reset forces an output type back to idle so it can be regenerated,
// aborting any flight first. Unlike Cancel it overwrites terminal records.
func (o *Orchestrator) Reset(outputType models.OutputType) {
	o.mu.Lock()
	if f, ok := o.flights[outputType]; ok {
		f.cancel()
		delete(o.flights, outputType)
	}
	st := State{Status: models.GenerationIdle}
	o.states[outputType] = st
	o.mu.Unlock()
	o.emit(outputType, st)
}

// CancelAll aborts every in-flight job. Used on shutdown and project switch.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	types := make([]models.OutputType, 0, len(o.flights))
	for t := range o.flights {
		types = append(types, t)
	}
	o.mu.Unlock()
	for _, t := range types {
		o.Cancel(t)
	}
}

func (o *Orchestrator) run(f *flight, projectID string, outputType models.OutputType, sourceIDs []string) {
	defer close(f.done)

	req := models.JobRequest{
		ProjectID: projectID,
		Type:      "generate",
		Payload: models.GeneratePayload{
			TargetType:        outputType,
			SourceArtifactID:  sourceIDs[0],
			SourceArtifactIDs: sourceIDs,
		},
	}

	jobID, err := o.api.CreateJob(f.ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			o.settleIdle(f, outputType)
			return
		}
		o.logger.Error("generate: job submission failed",
			slog.String("output_type", string(outputType)),
			slog.String("error", err.Error()))
		o.settleFailed(f, outputType, submissionMessage(err))
		return
	}

	o.logger.Info("generate: job submitted",
		slog.String("output_type", string(outputType)),
		slog.String("job_id", jobID))
	o.update(f, outputType, func(st *State) {
		st.JobID = jobID
	})

	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		select {
		case <-f.ctx.Done():
			o.settleIdle(f, outputType)
			return
		case <-time.After(o.interval):
		}

		job, err := o.api.GetJob(f.ctx, jobID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				o.settleIdle(f, outputType)
				return
			}
			// Transient poll failures consume an attempt but do not end
			// the job; the ceiling still bounds total time.
			o.logger.Warn("generate: poll failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()))
			continue
		}

		switch job.Status {
		case models.JobPending:
			o.update(f, outputType, func(st *State) {
				st.Status = models.GenerationPending
				st.Progress = progressFor(models.JobPending)
			})

		case models.JobRunning:
			o.update(f, outputType, func(st *State) {
				st.Status = models.GenerationRunning
				st.Progress = progressFor(models.JobRunning)
			})

		case models.JobCompleted:
			o.finish(f, projectID, outputType, jobID, job)
			return

		case models.JobFailed:
			msg := job.ErrorMessage
			if msg == "" {
				msg = "generation failed"
			}
			o.settleFailed(f, outputType, msg)
			return

		default:
			o.logger.Warn("generate: unknown job status",
				slog.String("job_id", jobID),
				slog.String("status", string(job.Status)))
		}
	}

	o.logger.Error("generate: polling ceiling exceeded",
		slog.String("output_type", string(outputType)),
		slog.String("job_id", jobID))
	o.settleFailed(f, outputType, "generation timed out")
}

// finish handles a terminal completed status: the artifact must be fetchable,
// otherwise the claimed success is an integrity failure.
func (o *Orchestrator) finish(f *flight, projectID string, outputType models.OutputType, jobID string, job *models.Job) {
	if job.Result == nil || job.Result.ArtifactID == "" {
		o.logger.Error("generate: integrity failure, completed job has no artifact id",
			slog.String("job_id", jobID))
		o.settleFailed(f, outputType, "generation completed but produced no artifact")
		return
	}

	artifact, err := o.api.GetArtifact(f.ctx, projectID, job.Result.ArtifactID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			o.settleIdle(f, outputType)
			return
		}
		o.logger.Error("generate: integrity failure, artifact fetch failed",
			slog.String("job_id", jobID),
			slog.String("artifact_id", job.Result.ArtifactID),
			slog.String("error", err.Error()))
		o.settleFailed(f, outputType, "generation completed but artifact could not be fetched")
		return
	}

	o.mu.Lock()
	if o.flights[outputType] != f {
		o.mu.Unlock()
		return
	}
	delete(o.flights, outputType)
	st := State{
		JobID:      jobID,
		NodeID:     f.nodeID,
		Status:     models.GenerationCompleted,
		ArtifactID: artifact.ID,
		Artifact:   artifact,
		Progress:   progressFor(models.JobCompleted),
	}
	o.states[outputType] = st
	o.mu.Unlock()

	o.logger.Info("generate: completed",
		slog.String("output_type", string(outputType)),
		slog.String("artifact_id", artifact.ID))
	o.emit(outputType, st)
}

// update applies fn to the current state if f is still the live flight.
func (o *Orchestrator) update(f *flight, outputType models.OutputType, fn func(*State)) {
	o.mu.Lock()
	if o.flights[outputType] != f {
		o.mu.Unlock()
		return
	}
	st := o.states[outputType]
	prev := st
	fn(&st)
	o.states[outputType] = st
	o.mu.Unlock()
	if st != prev {
		o.emit(outputType, st)
	}
}

// settleIdle ends a cancelled flight silently. When the flight was already
// superseded or cancelled explicitly, the new owner has emitted its own state
// and nothing more is done here.
func (o *Orchestrator) settleIdle(f *flight, outputType models.OutputType) {
	o.mu.Lock()
	if o.flights[outputType] != f {
		o.mu.Unlock()
		return
	}
	delete(o.flights, outputType)
	st := State{Status: models.GenerationIdle}
	o.states[outputType] = st
	o.mu.Unlock()
	o.emit(outputType, st)
}

func (o *Orchestrator) settleFailed(f *flight, outputType models.OutputType, msg string) {
	o.mu.Lock()
	if o.flights[outputType] != f {
		o.mu.Unlock()
		return
	}
	delete(o.flights, outputType)
	st := o.states[outputType]
	st.Status = models.GenerationFailed
	st.Error = msg
	st.Progress = progressFor(models.JobFailed)
	st.Artifact = nil
	st.ArtifactID = ""
	o.states[outputType] = st
	o.mu.Unlock()
	o.emit(outputType, st)
}

func (o *Orchestrator) emit(outputType models.OutputType, st State) {
	if o.sink != nil {
		o.sink.GenerationUpdated(outputType, st)
	}
}

// progressFor maps a backend job status to a coarse progress estimate.
func progressFor(s models.JobStatus) int {
	switch s {
	case models.JobPending:
		return 10
	case models.JobRunning:
		return 50
	case models.JobCompleted:
		return 100
	default:
		return 0
	}
}

func submissionMessage(err error) string {
	var se *SubmissionError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return "job submission failed"
}

// SubmissionError carries a server-provided message from a failed job
// creation request.
type SubmissionError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job submission failed (status %d): %s", e.StatusCode, e.Message)
}
