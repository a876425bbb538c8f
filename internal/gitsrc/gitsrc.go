package gitsrc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/retry"
)

// Options describes one checkout.
type Options struct {
	URL    string
	Branch string
	// SHA pins the exact commit. Empty means the branch head.
	SHA   string
	Dest  string
	Depth int
	Token string
	// Progress receives transfer output from go-git, usually the step log.
	Progress io.Writer
}

// Result reports what was materialized.
type Result struct {
	Path   string
	SHA    string
	Branch string
}

// Client performs checkouts with a shared retry policy.
type Client struct {
	policy retry.Policy
}

// NewClient creates a checkout client.
func NewClient(policy retry.Policy) *Client {
	return &Client{policy: policy}
}

// Checkout materializes opts.URL into opts.Dest.
func (c *Client) Checkout(ctx context.Context, opts Options) (*Result, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("checkout: repository URL is empty")
	}
	if opts.Dest == "" {
		return nil, fmt.Errorf("checkout: destination is empty")
	}
	if src, ok := localPath(opts.URL); ok {
		slog.Debug("Copying local working tree",
			logfields.Repository(opts.URL), logfields.Path(opts.Dest))
		return copyWorktree(src, opts.Dest)
	}
	return c.clone(ctx, opts)
}

func (c *Client) clone(ctx context.Context, opts Options) (*Result, error) {
	cloneOpts := &gogit.CloneOptions{
		URL:      opts.URL,
		Progress: opts.Progress,
	}
	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.ReferenceName("refs/heads/" + opts.Branch)
		cloneOpts.SingleBranch = true
	}
	// A shallow clone cannot reach commits behind the branch tip, so an
	// exact-commit checkout always clones full history.
	if opts.Depth > 0 && opts.SHA == "" {
		cloneOpts.Depth = opts.Depth
	}
	if opts.Token != "" {
		// Forges accept any username when the password is a token.
		cloneOpts.Auth = &http.BasicAuth{Username: "token", Password: opts.Token}
	}

	var result *Result
	err := c.withRetry(ctx, "clone", opts.URL, func() error {
		if err := os.RemoveAll(opts.Dest); err != nil {
			return fmt.Errorf("clear destination: %w", err)
		}
		repo, err := gogit.PlainCloneContext(ctx, opts.Dest, false, cloneOpts)
		if err != nil {
			return err
		}
		sha, err := checkoutCommit(repo, opts.SHA)
		if err != nil {
			return err
		}
		result = &Result{Path: opts.Dest, SHA: sha, Branch: opts.Branch}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Checked out repository",
		logfields.Repository(opts.URL), logfields.Branch(opts.Branch),
		logfields.SHA(result.SHA), logfields.Path(opts.Dest))
	return result, nil
}

// checkoutCommit moves the worktree to sha when set and returns the commit
// the worktree ends up at.
func checkoutCommit(repo *gogit.Repository, sha string) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if sha == "" || head.Hash().String() == sha {
		return head.Hash().String(), nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: plumbing.NewHash(sha)}); err != nil {
		return "", fmt.Errorf("checkout %s: %w", sha, err)
	}
	return sha, nil
}
