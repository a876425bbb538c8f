package metrics

import "time"

// ResultLabel enumerates step and job result categories for counters.
// The values match the statuses stored in run history.
type ResultLabel string

const (
	ResultSucceeded ResultLabel = "succeeded"
	ResultFailed    ResultLabel = "failed"
	ResultSkipped   ResultLabel = "skipped"
	ResultCancelled ResultLabel = "cancelled"
)

// Recorder defines the observability hooks the engine and daemon emit.
// Implementations must tolerate nil receivers so injection stays optional.
type Recorder interface {
	ObserveStepDuration(action string, d time.Duration)
	ObserveJobDuration(platform string, d time.Duration)
	ObserveRunDuration(d time.Duration)
	IncStepResult(action string, result ResultLabel)
	IncJobResult(platform string, result ResultLabel)
	IncRunOutcome(outcome string)
	SetQueueDepth(n int)
	SetActiveRuns(n int)
	AddArtifactBytes(n int64)
	AddWheelsBuilt(platform string, n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are
// not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) ObserveJobDuration(string, time.Duration)  {}
func (NoopRecorder) ObserveRunDuration(time.Duration)          {}
func (NoopRecorder) IncStepResult(string, ResultLabel)         {}
func (NoopRecorder) IncJobResult(string, ResultLabel)          {}
func (NoopRecorder) IncRunOutcome(string)                      {}
func (NoopRecorder) SetQueueDepth(int)                         {}
func (NoopRecorder) SetActiveRuns(int)                         {}
func (NoopRecorder) AddArtifactBytes(int64)                    {}
func (NoopRecorder) AddWheelsBuilt(string, int)                {}
