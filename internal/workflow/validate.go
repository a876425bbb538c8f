package workflow

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

var (
	exprRe      = regexp.MustCompile(`\$\{\{([^{}]*)\}\}`)
	matrixRefRe = regexp.MustCompile(`^matrix\.([A-Za-z_][A-Za-z0-9_-]*)$`)
)

// Validate checks the structure of the definition: at least one job, every
// step exactly one of uses/run, sane matrix shape, valid trigger globs. All
// problems are reported at once, path-qualified (jobs.build.steps[2]: ...).
// Action names in uses fields are checked by the engine, which owns the
// registry.
func (w *Workflow) Validate() error {
	var issues []string
	report := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if len(w.Jobs) == 0 {
		report("jobs: at least one job is required")
	}
	if w.On != nil && w.On.Push != nil {
		for _, pattern := range w.On.Push.Branches {
			if _, err := path.Match(pattern, "probe"); err != nil {
				report("on.push.branches: invalid pattern %q", pattern)
			}
		}
	}
	validateEnv(report, "env", w.Env)
	// Matrix context does not exist at workflow scope, so any expression in
	// the workflow env would reach the steps as literal text.
	for key, value := range w.Env {
		checkExpressions(report, "env."+key, nil, value)
	}

	for _, id := range w.jobIDsForValidation() {
		job := w.Jobs[id]
		prefix := "jobs." + id
		if !identRe.MatchString(id) {
			report("%s: job identifier must match %s", prefix, identRe)
		}
		if job == nil {
			report("%s: empty job", prefix)
			continue
		}
		job.validate(report, prefix)
	}

	if len(issues) == 0 {
		return nil
	}
	return fmt.Errorf("invalid workflow: %s", strings.Join(issues, "; "))
}

// jobIDsForValidation returns declaration order when known, falling back to
// map order for definitions built in code.
func (w *Workflow) jobIDsForValidation() []string {
	if len(w.jobOrder) == len(w.Jobs) {
		return w.jobOrder
	}
	ids := make([]string, 0, len(w.Jobs))
	for id := range w.Jobs {
		ids = append(ids, id)
	}
	return ids
}

func (j *Job) validate(report func(string, ...any), prefix string) {
	if j.RunsOn == "" {
		report("%s: runs-on is required", prefix)
	}
	if j.TimeoutMinutes < 0 {
		report("%s: timeout-minutes cannot be negative", prefix)
	}
	validateEnv(report, prefix+".env", j.Env)
	if j.Strategy != nil {
		j.Strategy.validate(report, prefix+".strategy")
	}

	axes := j.matrixAxes()
	checkExpressions(report, prefix+".name", axes, j.Name)
	checkExpressions(report, prefix+".runs-on", axes, j.RunsOn)
	for key, value := range j.Env {
		checkExpressions(report, prefix+".env."+key, axes, value)
	}

	if len(j.Steps) == 0 {
		report("%s: at least one step is required", prefix)
	}
	seenIDs := map[string]bool{}
	for i := range j.Steps {
		step := &j.Steps[i]
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		hasUses, hasRun := step.Uses != "", step.Run != ""
		switch {
		case hasUses && hasRun:
			report("%s: uses and run are mutually exclusive", sp)
		case !hasUses && !hasRun:
			report("%s: exactly one of uses or run is required", sp)
		}
		if !hasUses && len(step.With) > 0 {
			report("%s: with requires uses", sp)
		}
		if step.ID != "" {
			if !identRe.MatchString(step.ID) {
				report("%s: step id must match %s", sp, identRe)
			} else if seenIDs[step.ID] {
				report("%s: duplicate step id %q", sp, step.ID)
			}
			seenIDs[step.ID] = true
		}
		if step.TimeoutMinutes < 0 {
			report("%s: timeout-minutes cannot be negative", sp)
		}
		validateEnv(report, sp+".env", step.Env)

		checkExpressions(report, sp+".name", axes, step.Name)
		checkExpressions(report, sp+".run", axes, step.Run)
		checkExpressions(report, sp+".working-directory", axes, step.WorkingDirectory)
		for key, value := range step.Env {
			checkExpressions(report, sp+".env."+key, axes, value)
		}
		for key, value := range step.With {
			checkExpressions(report, sp+".with."+key, axes, value)
		}
	}
}

// matrixAxes collects the keys a job's matrix can interpolate: the declared
// axes plus any extra keys include entries introduce.
func (j *Job) matrixAxes() map[string]bool {
	axes := map[string]bool{}
	if j.Strategy == nil || j.Strategy.Matrix == nil {
		return axes
	}
	for _, axis := range j.Strategy.Matrix.Order {
		axes[axis] = true
	}
	for _, incl := range j.Strategy.Matrix.Include {
		for key := range incl {
			axes[key] = true
		}
	}
	return axes
}

// checkExpressions reports ${{ ... }} references expansion cannot resolve.
// Only matrix.<axis> references of the enclosing job have a value; anything
// else would pass through to the shell as literal text.
func checkExpressions(report func(string, ...any), prefix string, axes map[string]bool, s string) {
	for _, m := range exprRe.FindAllStringSubmatch(s, -1) {
		ref := strings.TrimSpace(m[1])
		sub := matrixRefRe.FindStringSubmatch(ref)
		if sub == nil {
			report("%s: unsupported expression %q (only matrix.<axis> is available)", prefix, ref)
			continue
		}
		if !axes[sub[1]] {
			report("%s: expression references undeclared matrix axis %q", prefix, sub[1])
		}
	}
}

func (s *Strategy) validate(report func(string, ...any), prefix string) {
	if s.MaxParallel < 0 {
		report("%s: max-parallel cannot be negative", prefix)
	}
	if s.Matrix == nil {
		return
	}
	m := s.Matrix
	for _, axis := range m.Order {
		if !identRe.MatchString(axis) {
			report("%s.matrix: axis name %q must match %s", prefix, axis, identRe)
		}
		if len(m.Axes[axis]) == 0 {
			report("%s.matrix.%s: axis needs at least one value", prefix, axis)
		}
	}
	for i, excl := range m.Exclude {
		if len(excl) == 0 {
			report("%s.matrix.exclude[%d]: empty entry", prefix, i)
		}
		for key := range excl {
			if _, ok := m.Axes[key]; !ok {
				report("%s.matrix.exclude[%d]: unknown axis %q", prefix, i, key)
			}
		}
	}
	for i, incl := range m.Include {
		if len(incl) == 0 {
			report("%s.matrix.include[%d]: empty entry", prefix, i)
		}
	}
}

func validateEnv(report func(string, ...any), prefix string, env StringMap) {
	for key := range env {
		if key == "" || strings.ContainsAny(key, "= \t") {
			report("%s: invalid variable name %q", prefix, key)
		}
	}
}
