package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/wheelworks/internal/artifact"
	"git.home.luguber.info/inful/wheelworks/internal/buildlog"
	"git.home.luguber.info/inful/wheelworks/internal/bwheel"
	"git.home.luguber.info/inful/wheelworks/internal/event"
	"git.home.luguber.info/inful/wheelworks/internal/gitsrc"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/pyenv"
	"git.home.luguber.info/inful/wheelworks/internal/pytag"
	"git.home.luguber.info/inful/wheelworks/internal/workflow"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// ActionContext carries everything a builtin action may need for one step.
type ActionContext struct {
	RunID    string
	JobName  string
	Event    event.Push
	Platform pytag.Platform

	Workspace string // job directory
	Source    string // checkout destination, the default step cwd
	WorkDir   string // effective cwd after working-directory

	With map[string]string // step inputs, matrix-interpolated
	Env  map[string]string // effective step environment

	Log         io.Writer        // job log, already tee'd into the output tail
	Exec        bwheel.ExecFunc  // process executor for actions that spawn programs
	SummaryPath string           // step summary file, "" when summaries are off
}

// ActionResult is what an action hands back to the job loop.
type ActionResult struct {
	// Env is exported to all subsequent steps of the job.
	Env map[string]string
	// PathDirs are prepended to PATH for all subsequent steps.
	PathDirs []string

	Wheels    []string
	Report    *buildlog.Report
	Artifacts []*artifact.Artifact
}

// Action is a builtin step implementation resolved from a step's uses: name.
type Action interface {
	Name() string
	Run(ctx context.Context, ac *ActionContext) (*ActionResult, error)
}

// Deps are the collaborators the builtin actions are constructed from.
type Deps struct {
	Git       *gitsrc.Client
	Python    *pyenv.Finder
	Targets   *pytag.Registry // nil means the default registry
	Artifacts *artifact.Store

	// BuilderCommand overrides the wheel builder invocation, nil keeps the
	// default python -m invocation.
	BuilderCommand []string
	// CloneDepth is the default shallow-clone depth for checkouts, 0 full.
	CloneDepth int
	// Token authenticates clones from private repositories.
	Token string
}

// Registry resolves uses: names to builtin actions. Unknown names are a
// validation error, reported before any step runs.
type Registry struct {
	actions map[string]Action
}

// NewRegistry builds the builtin action set from its dependencies.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{actions: make(map[string]Action)}
	r.Register(&checkoutAction{git: deps.Git, depth: deps.CloneDepth, token: deps.Token})
	r.Register(&setupPythonAction{finder: deps.Python})
	r.Register(&buildWheelsAction{targets: deps.Targets, command: deps.BuilderCommand})
	r.Register(&uploadArtifactAction{store: deps.Artifacts})
	return r
}

// Register adds or replaces an action under its name.
func (r *Registry) Register(a Action) {
	r.actions[a.Name()] = a
}

// Lookup resolves a uses: name.
func (r *Registry) Lookup(name string) (Action, error) {
	if a, ok := r.actions[name]; ok {
		return a, nil
	}
	return nil, wwerrors.New(wwerrors.CategoryValidation, wwerrors.SeverityError,
		fmt.Sprintf("unknown action %q", name)).
		WithContext("known", strings.Join(r.Names(), ", "))
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CheckUses verifies that every uses: step in the workflow names a registered
// action. Workflow validation cannot do this; the registry owns the names.
func (r *Registry) CheckUses(wf *workflow.Workflow) error {
	var unknown []string
	for _, id := range wf.JobIDs() {
		for i, step := range wf.Jobs[id].Steps {
			if step.Uses == "" {
				continue
			}
			if _, ok := r.actions[step.Uses]; !ok {
				unknown = append(unknown, fmt.Sprintf("jobs.%s.steps[%d]: unknown action %q", id, i, step.Uses))
			}
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	return wwerrors.New(wwerrors.CategoryValidation, wwerrors.SeverityError,
		strings.Join(unknown, "; ")).
		WithContext("known", strings.Join(r.Names(), ", "))
}

type checkoutAction struct {
	git   *gitsrc.Client
	depth int
	token string
}

func (a *checkoutAction) Name() string { return "checkout" }

// checkoutSource derives what to clone from the push event and the step
// inputs. An explicit ref that differs from the event branch drops the event
// commit pin, because that commit lives on the other branch.
func checkoutSource(push event.Push, with map[string]string) (url, branch, sha string) {
	url = with["repository"]
	if url == "" {
		url = push.Repo
	}
	branch = push.Branch()
	sha = push.SHA
	if ref := with["ref"]; ref != "" && ref != branch {
		branch = ref
		sha = ""
	}
	return url, branch, sha
}

func (a *checkoutAction) Run(ctx context.Context, ac *ActionContext) (*ActionResult, error) {
	url, branch, sha := checkoutSource(ac.Event, ac.With)

	depth := a.depth
	if v := ac.With["fetch-depth"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, wwerrors.New(wwerrors.CategoryValidation, wwerrors.SeverityError,
				fmt.Sprintf("checkout: invalid fetch-depth %q", v))
		}
		depth = n
	}

	dest := ac.Source
	if p := ac.With["path"]; p != "" {
		dest = filepath.Join(ac.Workspace, p)
	}
	token := a.token
	if t := ac.With["token"]; t != "" {
		token = t
	}

	res, err := a.git.Checkout(ctx, gitsrc.Options{
		URL:      url,
		Branch:   branch,
		SHA:      sha,
		Dest:     dest,
		Depth:    depth,
		Token:    token,
		Progress: ac.Log,
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(ac.Log, "checked out %s at %s\n", url, shortSHA(res.SHA))

	env := map[string]string{"WHEELWORKS_SHA": res.SHA}
	if res.Branch != "" {
		env["WHEELWORKS_BRANCH"] = res.Branch
	}
	return &ActionResult{Env: env}, nil
}

type setupPythonAction struct {
	finder *pyenv.Finder
}

func (a *setupPythonAction) Name() string { return "setup-python" }

func (a *setupPythonAction) Run(ctx context.Context, ac *ActionContext) (*ActionResult, error) {
	spec := ac.With["python-version"]
	if spec == "" {
		spec = "3"
	}
	req, err := pyenv.ParseRequest(spec)
	if err != nil {
		return nil, wwerrors.Wrap(err, wwerrors.CategoryValidation, wwerrors.SeverityError,
			"setup-python")
	}
	interp, err := a.finder.Find(ctx, req)
	if err != nil {
		return nil, err
	}

	shimDir := filepath.Join(ac.Workspace, "pyshim")
	env, exportErr := interp.Export(shimDir)
	result := &ActionResult{Env: env}
	if exportErr != nil {
		slog.Warn("Interpreter shim unavailable, relying on WHEELWORKS_PYTHON",
			logfields.Job(ac.JobName), logfields.Error(exportErr))
	} else {
		result.PathDirs = []string{shimDir}
	}
	fmt.Fprintf(ac.Log, "using python %s at %s\n", interp.Version, interp.Path)
	return result, nil
}

type buildWheelsAction struct {
	targets *pytag.Registry
	command []string
}

func (a *buildWheelsAction) Name() string { return "build-wheels" }

func (a *buildWheelsAction) Run(ctx context.Context, ac *ActionContext) (*ActionResult, error) {
	res, err := bwheel.Run(ctx, ac.Exec, bwheel.Options{
		With:     ac.With,
		Env:      ac.Env,
		Platform: ac.Platform,
		WorkDir:  ac.WorkDir,
		Python:   ac.Env["WHEELWORKS_PYTHON"],
		Registry: a.targets,
		Command:  a.command,
		Output:   ac.Log,
	})
	result := &ActionResult{}
	if res != nil {
		result.Wheels = res.Wheels
		result.Report = &res.Report
		a.writeSummary(ac, res)
	}
	return result, err
}

// writeSummary appends the built wheels to the step summary fragment.
func (a *buildWheelsAction) writeSummary(ac *ActionContext, res *bwheel.Result) {
	if ac.SummaryPath == "" || len(res.Wheels) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "### Wheels for %s\n\n", ac.Platform)
	for _, w := range res.Wheels {
		fmt.Fprintf(&b, "- `%s`\n", filepath.Base(w))
	}
	f, err := os.OpenFile(ac.SummaryPath, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(b.String())
}

type uploadArtifactAction struct {
	store *artifact.Store
}

func (a *uploadArtifactAction) Name() string { return "upload-artifact" }

func (a *uploadArtifactAction) Run(ctx context.Context, ac *ActionContext) (*ActionResult, error) {
	name := ac.With["name"]
	if name == "" {
		name = "artifact"
	}
	pathSpec := ac.With["path"]
	if pathSpec == "" {
		return nil, wwerrors.New(wwerrors.CategoryValidation, wwerrors.SeverityError,
			"upload-artifact: path input is required")
	}

	art, err := a.store.Upload(ctx, ac.RunID, name, ac.WorkDir, strings.Fields(pathSpec))
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(ac.Log, "uploaded artifact %s: %d files, %d bytes\n", name, len(art.Files), art.TotalSize())
	return &ActionResult{Artifacts: []*artifact.Artifact{art}}, nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
