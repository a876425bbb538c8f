package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/retry"
	"git.home.luguber.info/inful/wheelworks/internal/util/slugify"
)

// NATSOptions configures the JetStream notifier.
type NATSOptions struct {
	URL string
	// SubjectPrefix is completed with the run status: <prefix>.<status>.
	SubjectPrefix string
	// Stream is the JetStream stream capturing the subjects.
	Stream string
	// KVBucket holds the latest event per workflow.
	KVBucket string
}

func (o *NATSOptions) applyDefaults() {
	if o.SubjectPrefix == "" {
		o.SubjectPrefix = "wheelworks.runs"
	}
	if o.Stream == "" {
		o.Stream = "WHEELWORKS_RUNS"
	}
	if o.KVBucket == "" {
		o.KVBucket = "wheelworks-latest"
	}
}

// NATSNotifier publishes run events to JetStream and keeps the latest run per
// workflow in a KV bucket.
type NATSNotifier struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	opts   NATSOptions
	policy retry.Policy
}

// NewNATSNotifier connects and provisions the stream and KV bucket.
func NewNATSNotifier(opts NATSOptions, policy retry.Policy) (*NATSNotifier, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("NATS URL is required")
	}
	opts.applyDefaults()

	conn, err := nats.Connect(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	n := &NATSNotifier{conn: conn, js: js, opts: opts, policy: policy}
	if err := n.initStream(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := n.initKVBucket(); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("NATS notifier initialized",
		slog.String("url", opts.URL),
		slog.String("subject_prefix", opts.SubjectPrefix),
		slog.String("kv_bucket", opts.KVBucket))
	return n, nil
}

// initStream gets or creates the stream capturing the run subjects.
func (n *NATSNotifier) initStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := n.js.Stream(ctx, n.opts.Stream); err == nil {
		return nil
	}

	_, err := n.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        n.opts.Stream,
		Description: "wheelworks run lifecycle events",
		Subjects:    []string{n.opts.SubjectPrefix + ".>"},
		MaxAge:      30 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	slog.Info("Created JetStream stream", slog.String("stream", n.opts.Stream))
	return nil
}

// initKVBucket gets or creates the latest-run bucket.
func (n *NATSNotifier) initKVBucket() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := n.js.KeyValue(ctx, n.opts.KVBucket)
	if err == nil {
		n.kv = kv
		return nil
	}

	kv, err = n.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      n.opts.KVBucket,
		Description: "latest wheelworks run per workflow",
		History:     1,
	})
	if err != nil {
		return fmt.Errorf("failed to create KV bucket: %w", err)
	}

	n.kv = kv
	slog.Info("Created KV bucket for latest runs", slog.String("bucket", n.opts.KVBucket))
	return nil
}

// Publish sends the event to <prefix>.<status> and updates the latest-run
// key for the workflow. Transient publish failures are retried per the
// notifier's policy.
func (n *NATSNotifier) Publish(ctx context.Context, ev *Event) error {
	ev.Timestamp = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := n.subjectFor(ev.Status)

	if err := n.withRetry(ctx, func() error {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := n.js.Publish(pubCtx, subject, data)
		return err
	}); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	kvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := n.kv.Put(kvCtx, slugify.Slug(ev.Workflow), data); err != nil {
		// The stream publish already succeeded; a stale latest-run key
		// is not worth failing the notification.
		slog.Warn("Updating latest-run key failed",
			logfields.Workflow(ev.Workflow), logfields.Error(err))
	}

	slog.Debug("Published run event",
		logfields.RunID(ev.RunID), logfields.JobStatus(ev.Status),
		slog.String("subject", subject))
	return nil
}

func (n *NATSNotifier) subjectFor(status string) string {
	return n.opts.SubjectPrefix + "." + status
}

// LatestRun returns the most recent event recorded for a workflow, nil when
// none exists.
func (n *NATSNotifier) LatestRun(ctx context.Context, workflowName string) (*Event, error) {
	getCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	entry, err := n.kv.Get(getCtx, slugify.Slug(workflowName))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(entry.Value(), &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest run: %w", err)
	}
	return &ev, nil
}

func (n *NATSNotifier) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= n.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.policy.Delay(attempt)):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// Close closes the NATS connection.
func (n *NATSNotifier) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}
