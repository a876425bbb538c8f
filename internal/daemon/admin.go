package daemon

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/history"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/metrics"
	"git.home.luguber.info/inful/wheelworks/internal/summary"
	"git.home.luguber.info/inful/wheelworks/internal/version"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// adminHandlers serves the operator-facing API: health, status, run history
// and metrics.
type adminHandlers struct {
	daemon *Daemon
}

func newAdminHandlers(d *Daemon) *adminHandlers {
	return &adminHandlers{daemon: d}
}

func (h *adminHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/runs", h.handleRuns)
	mux.HandleFunc("/runs/", h.handleRun)
	mux.Handle("/metrics", metrics.HTTPHandler(h.daemon.Registry()))
}

func (h *adminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
	})
}

// statusResponse is the /status payload.
type statusResponse struct {
	Status    Status       `json:"status"`
	Version   string       `json:"version"`
	Uptime    string       `json:"uptime"`
	Workflows []string     `json:"workflows"`
	Queue     queueStatus  `json:"queue"`
	Active    []RunRequest `json:"active"`
	Recent    []RunRequest `json:"recent"`
	LastRun   *history.Run `json:"last_run,omitempty"`
}

type queueStatus struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
	Workers  int `json:"workers"`
}

func (h *adminHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	d := h.daemon

	resp := statusResponse{
		Status:    d.Status(),
		Version:   version.Version,
		Uptime:    time.Since(d.StartTime()).Round(time.Second).String(),
		Workflows: d.WorkflowNames(),
		Queue: queueStatus{
			Depth:    d.queue.Depth(),
			Capacity: d.queue.Capacity(),
			Workers:  d.queue.Workers(),
		},
		Active: d.queue.Active(),
		Recent: d.queue.History(),
	}

	if runs, err := d.store.RecentRuns(r.Context(), 1); err == nil && len(runs) > 0 {
		resp.LastRun = runs[0]
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *adminHandlers) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			wwerrors.WriteHTTP(w, wwerrors.New(wwerrors.CategoryValidation, wwerrors.SeverityWarning,
				"limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := h.daemon.store.RecentRuns(r.Context(), limit)
	if err != nil {
		wwerrors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// jobDetail nests a job's step results under the job row.
type jobDetail struct {
	*history.JobRun
	Steps []history.StepResult `json:"steps,omitempty"`
}

func (h *adminHandlers) handleRun(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/runs/"), "/")
	if rest == "" {
		h.handleRuns(w, r)
		return
	}

	id := rest
	wantSummary := false
	if base, found := strings.CutSuffix(rest, "/summary"); found {
		id = base
		wantSummary = true
	}
	if strings.Contains(id, "/") {
		wwerrors.WriteHTTP(w, wwerrors.New(wwerrors.CategoryNotFound, wwerrors.SeverityWarning,
			"no such resource"))
		return
	}

	run, err := h.daemon.store.RunByID(r.Context(), id)
	if err != nil {
		wwerrors.WriteHTTP(w, err)
		return
	}
	jobs, err := h.daemon.store.JobsForRun(r.Context(), id)
	if err != nil {
		wwerrors.WriteHTTP(w, err)
		return
	}

	if wantSummary {
		h.writeRunSummary(w, run, jobs)
		return
	}

	details := make([]jobDetail, 0, len(jobs))
	for _, job := range jobs {
		steps, err := h.daemon.store.StepsForJob(r.Context(), id, job.Key)
		if err != nil {
			slog.Warn("Failed to load step results",
				logfields.RunID(id), logfields.Job(job.Key), logfields.Error(err))
		}
		details = append(details, jobDetail{JobRun: job, Steps: steps})
	}

	writeJSON(w, http.StatusOK, map[string]any{"run": run, "jobs": details})
}

// writeRunSummary renders the run's Markdown summary as a small HTML page.
func (h *adminHandlers) writeRunSummary(w http.ResponseWriter, run *history.Run, jobs []*history.JobRun) {
	md := summary.Compose(summary.RunData{Run: run, Jobs: jobs})
	body, err := summary.Render([]byte(md))
	if err != nil {
		wwerrors.WriteHTTP(w, wwerrors.Wrap(err, wwerrors.CategoryInternal, wwerrors.SeverityError,
			"render run summary"))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, summaryPage, run.ID, body)
}

const summaryPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>wheelworks run %s</title>
<style>
body { font-family: sans-serif; max-width: 56rem; margin: 2rem auto; padding: 0 1rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; }
</style>
</head>
<body>
%s
</body>
</html>
`
