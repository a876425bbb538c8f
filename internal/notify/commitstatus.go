package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"git.home.luguber.info/inful/wheelworks/internal/logfields"
)

// CommitStatusReporter posts run conclusions back to the commit that
// triggered them, as a GitHub commit status.
type CommitStatusReporter struct {
	client *github.Client
	// StatusContext labels the status line on the commit.
	StatusContext string
	// TargetURL links the status to the daemon's run page when set.
	TargetURL string
}

// NewCommitStatusReporter builds a reporter from an access token. An optional
// base URL points at a GitHub Enterprise instance.
func NewCommitStatusReporter(token, baseURL string) (*CommitStatusReporter, error) {
	if token == "" {
		return nil, fmt.Errorf("commit status token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	client := github.NewClient(tc)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid forge base URL: %w", err)
		}
	}

	return &CommitStatusReporter{
		client:        client,
		StatusContext: "wheelworks",
	}, nil
}

// Publish posts the event as a commit status. Events without a commit or with
// a repository the reporter cannot address are skipped quietly: not every run
// originates from a forge.
func (r *CommitStatusReporter) Publish(ctx context.Context, ev *Event) error {
	state := statusState(ev.Status)
	if state == "" || ev.SHA == "" {
		return nil
	}
	owner, repo, ok := splitRepoURL(ev.Repo)
	if !ok {
		slog.Debug("Skipping commit status for unaddressable repository",
			logfields.Repository(ev.Repo))
		return nil
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Context:     github.String(r.StatusContext + "/" + ev.Workflow),
		Description: github.String(statusDescription(ev)),
	}
	if r.TargetURL != "" {
		status.TargetURL = github.String(strings.TrimSuffix(r.TargetURL, "/") + "/runs/" + ev.RunID)
	}

	_, _, err := r.client.Repositories.CreateStatus(ctx, owner, repo, ev.SHA, status)
	if err != nil {
		return fmt.Errorf("failed to create commit status: %w", err)
	}
	slog.Debug("Posted commit status",
		logfields.RunID(ev.RunID), logfields.SHA(ev.SHA), slog.String("state", state))
	return nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (r *CommitStatusReporter) Close() error { return nil }

// statusState maps run statuses to the commit status vocabulary. Statuses
// with no sensible mapping return "".
func statusState(status string) string {
	switch status {
	case "running":
		return "pending"
	case "succeeded":
		return "success"
	case "failed":
		return "failure"
	case "cancelled":
		return "error"
	default:
		return ""
	}
}

func statusDescription(ev *Event) string {
	switch ev.Status {
	case "running":
		return "wheel build running"
	case "succeeded":
		if ev.Wheels > 0 {
			return fmt.Sprintf("built %d wheels", ev.Wheels)
		}
		return "wheel build succeeded"
	case "failed":
		return fmt.Sprintf("%d of %d jobs failed", ev.JobsFailed, ev.JobsTotal)
	default:
		return "wheel build " + ev.Status
	}
}

// splitRepoURL extracts owner and repository from a clone URL or an
// owner/repo shorthand.
func splitRepoURL(repo string) (owner, name string, ok bool) {
	path := repo
	if u, err := url.Parse(repo); err == nil && u.Host != "" {
		path = u.Path
	} else if at := strings.Index(repo, "@"); at >= 0 && strings.Contains(repo, ":") {
		// scp-like syntax: git@host:owner/repo.git
		if colon := strings.Index(repo, ":"); colon > at {
			path = repo[colon+1:]
		}
	}
	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
