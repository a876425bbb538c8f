package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/config"
	"git.home.luguber.info/inful/wheelworks/internal/event"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/metrics"
	"git.home.luguber.info/inful/wheelworks/internal/workflow"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// Trigger records what asked for a run.
type Trigger string

const (
	TriggerWebhook  Trigger = "webhook"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// QueueStatus tracks a queued run through its lifecycle.
type QueueStatus string

const (
	QueueStatusQueued    QueueStatus = "queued"
	QueueStatusRunning   QueueStatus = "running"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusCancelled QueueStatus = "cancelled"
)

// RunRequest is one queued workflow run. The run ID is assigned at enqueue
// time so webhook responses and the status API can reference the run before a
// worker picks it up.
type RunRequest struct {
	RunID      string        `json:"run_id"`
	Workflow   string        `json:"workflow"`
	Trigger    Trigger       `json:"trigger"`
	Status     QueueStatus   `json:"status"`
	Repo       string        `json:"repo,omitempty"`
	Branch     string        `json:"branch,omitempty"`
	SHA        string        `json:"sha,omitempty"`
	Error      string        `json:"error,omitempty"`
	QueuedAt   time.Time     `json:"queued_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`

	wf     *workflow.Workflow
	ref    config.WorkflowRef
	push   event.Push
	cancel context.CancelFunc
}

// RunExecutor executes one picked-up request. The daemon implements it; tests
// substitute stubs.
type RunExecutor interface {
	ExecuteRequest(ctx context.Context, req *RunRequest) error
}

// RunQueue feeds queued requests to a pool of workers. Enqueue never blocks;
// a full queue is reported to the caller instead of stalling webhook
// handlers.
type RunQueue struct {
	requests    chan *RunRequest
	maxSize     int
	mu          sync.RWMutex
	workers     int
	nextWorker  int
	shrink      chan struct{}
	active      map[string]*RunRequest
	history     []*RunRequest
	historySize int
	baseCtx     context.Context
	stopChan    chan struct{}
	wg          sync.WaitGroup
	exec        RunExecutor
	recorder    metrics.Recorder
}

// NewRunQueue creates a queue holding up to maxSize pending requests, served
// by the given number of workers once Start is called.
func NewRunQueue(maxSize, workers int, exec RunExecutor, recorder metrics.Recorder) *RunQueue {
	if maxSize <= 0 {
		maxSize = config.DefaultQueueSize
	}
	if workers <= 0 {
		workers = config.DefaultConcurrency
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	return &RunQueue{
		requests:    make(chan *RunRequest, maxSize),
		maxSize:     maxSize,
		workers:     workers,
		shrink:      make(chan struct{}, maxSize),
		active:      make(map[string]*RunRequest),
		history:     make([]*RunRequest, 0),
		historySize: 50,
		stopChan:    make(chan struct{}),
		exec:        exec,
		recorder:    recorder,
	}
}

// Start spawns the workers.
func (q *RunQueue) Start(ctx context.Context) {
	slog.Info("Starting run queue",
		slog.Int("workers", q.workers), slog.Int("max_size", q.maxSize))

	q.mu.Lock()
	q.baseCtx = ctx
	n := q.workers
	for i := 0; i < n; i++ {
		q.spawnLocked()
	}
	q.mu.Unlock()
}

func (q *RunQueue) spawnLocked() {
	id := fmt.Sprintf("worker-%d", q.nextWorker)
	q.nextWorker++
	q.wg.Add(1)
	go q.worker(q.baseCtx, id)
}

// SetWorkers grows or shrinks the worker pool. Shrinking takes effect as
// workers finish their current run.
func (q *RunQueue) SetWorkers(n int) {
	if n <= 0 {
		n = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.baseCtx == nil {
		// Not started yet; Start will spawn the new count.
		q.workers = n
		return
	}
	for q.workers < n {
		q.workers++
		q.spawnLocked()
	}
	for q.workers > n {
		select {
		case q.shrink <- struct{}{}:
			q.workers--
		default:
			// Retire signals are still pending; keep the current count
			// honest and let them drain first.
			return
		}
	}
}

// Stop shuts the queue down, cancelling active runs and waiting for workers
// to exit.
func (q *RunQueue) Stop(ctx context.Context) {
	slog.Info("Stopping run queue")

	close(q.stopChan)

	q.mu.Lock()
	for _, req := range q.active {
		if req.cancel != nil {
			req.cancel()
		}
	}
	q.mu.Unlock()

	q.wg.Wait()
	slog.Info("Run queue stopped")
}

// Enqueue adds a request without blocking. A full queue is an error the
// caller surfaces to whoever triggered the run.
func (q *RunQueue) Enqueue(req *RunRequest) error {
	if req == nil {
		return errors.New("request cannot be nil")
	}
	if req.RunID == "" {
		return errors.New("request run ID is required")
	}

	q.mu.Lock()
	req.Status = QueueStatusQueued
	req.QueuedAt = time.Now()
	q.mu.Unlock()

	select {
	case q.requests <- req:
		q.recorder.SetQueueDepth(len(q.requests))
		slog.Info("Run enqueued",
			logfields.RunID(req.RunID), logfields.Workflow(req.Workflow),
			slog.String("trigger", string(req.Trigger)))
		return nil
	default:
		return wwerrors.New(wwerrors.CategoryDaemon, wwerrors.SeverityWarning,
			"run queue is full")
	}
}

// Depth returns the number of pending requests.
func (q *RunQueue) Depth() int {
	return len(q.requests)
}

// Capacity returns the queue size limit.
func (q *RunQueue) Capacity() int {
	return q.maxSize
}

// Workers returns the target worker count.
func (q *RunQueue) Workers() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.workers
}

// Active returns snapshots of the currently running requests.
func (q *RunQueue) Active() []RunRequest {
	q.mu.RLock()
	defer q.mu.RUnlock()

	active := make([]RunRequest, 0, len(q.active))
	for _, req := range q.active {
		active = append(active, *req)
	}
	return active
}

// History returns snapshots of recently finished requests, oldest first.
func (q *RunQueue) History() []RunRequest {
	q.mu.RLock()
	defer q.mu.RUnlock()

	history := make([]RunRequest, 0, len(q.history))
	for _, req := range q.history {
		history = append(history, *req)
	}
	return history
}

func (q *RunQueue) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()

	slog.Debug("Run worker started", slog.String("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Run worker stopped by context", slog.String("worker_id", workerID))
			return
		case <-q.stopChan:
			slog.Debug("Run worker stopped by stop signal", slog.String("worker_id", workerID))
			return
		case <-q.shrink:
			slog.Debug("Run worker retired", slog.String("worker_id", workerID))
			return
		case req := <-q.requests:
			if req != nil {
				q.recorder.SetQueueDepth(len(q.requests))
				q.process(ctx, req, workerID)
			}
		}
	}
}

func (q *RunQueue) process(ctx context.Context, req *RunRequest, workerID string) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	q.mu.Lock()
	req.cancel = cancel
	req.StartedAt = &started
	req.Status = QueueStatusRunning
	q.active[req.RunID] = req
	q.recorder.SetActiveRuns(len(q.active))
	q.mu.Unlock()

	slog.Info("Run started",
		logfields.RunID(req.RunID), logfields.Workflow(req.Workflow),
		slog.String("worker", workerID))

	err := q.exec.ExecuteRequest(runCtx, req)

	finished := time.Now()
	q.mu.Lock()
	req.FinishedAt = &finished
	req.Duration = finished.Sub(started)
	switch {
	case err == nil:
		req.Status = QueueStatusCompleted
	case errors.Is(err, context.Canceled):
		req.Status = QueueStatusCancelled
		req.Error = err.Error()
	default:
		req.Status = QueueStatusFailed
		req.Error = err.Error()
	}
	delete(q.active, req.RunID)
	q.addToHistoryLocked(req)
	q.recorder.SetActiveRuns(len(q.active))
	q.mu.Unlock()

	if err != nil {
		slog.Error("Run finished with error",
			logfields.RunID(req.RunID), logfields.Workflow(req.Workflow),
			slog.Duration("duration", req.Duration), logfields.Error(err))
	} else {
		slog.Info("Run finished",
			logfields.RunID(req.RunID), logfields.Workflow(req.Workflow),
			slog.Duration("duration", req.Duration))
	}
}

// addToHistoryLocked appends to the bounded history ring. Callers hold q.mu.
func (q *RunQueue) addToHistoryLocked(req *RunRequest) {
	q.history = append(q.history, req)
	if len(q.history) > q.historySize {
		copy(q.history, q.history[len(q.history)-q.historySize:])
		q.history = q.history[:q.historySize]
	}
}
