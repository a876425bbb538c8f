package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyWorkflow   = "workflow"
	KeyJob        = "job"
	KeyJobStatus  = "job_status"
	KeyStep       = "step"
	KeyTarget     = "target"
	KeyPlatform   = "platform"
	KeyLabel      = "runner_label"
	KeyBranch     = "branch"
	KeySHA        = "sha"
	KeyRepo       = "repository"
	KeyArtifact   = "artifact"
	KeyPath       = "path"
	KeyDurationMS = "duration_ms"
	KeyScheduleID = "schedule_id"
	KeySchedule   = "schedule_name"
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyRemoteAddr = "remote_addr"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Workflow(name string) slog.Attr  { return slog.String(KeyWorkflow, name) }
func Job(name string) slog.Attr       { return slog.String(KeyJob, name) }
func JobStatus(s string) slog.Attr    { return slog.String(KeyJobStatus, s) }
func Step(name string) slog.Attr      { return slog.String(KeyStep, name) }
func Target(id string) slog.Attr      { return slog.String(KeyTarget, id) }
func Platform(p string) slog.Attr     { return slog.String(KeyPlatform, p) }
func Label(l string) slog.Attr        { return slog.String(KeyLabel, l) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func SHA(s string) slog.Attr          { return slog.String(KeySHA, s) }
func Repository(r string) slog.Attr   { return slog.String(KeyRepo, r) }
func Artifact(name string) slog.Attr  { return slog.String(KeyArtifact, name) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func ScheduleID(id string) slog.Attr  { return slog.String(KeyScheduleID, id) }
func ScheduleName(n string) slog.Attr { return slog.String(KeySchedule, n) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr       { return slog.Int(KeyStatus, code) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
