package commands

import (
	"errors"
	"fmt"

	"git.home.luguber.info/inful/wheelworks/internal/matrix"
	"git.home.luguber.info/inful/wheelworks/internal/runner"
)

// ValidateCmd implements the 'validate' command: structural checks on one or
// more workflow files without running anything.
type ValidateCmd struct {
	Files []string `arg:"" help:"Workflow definition files" type:"existingfile"`
}

func (v *ValidateCmd) Run(_ *Global, _ *CLI) error {
	// A zero-dependency registry is enough to know the builtin action names.
	registry := runner.NewRegistry(runner.Deps{})

	var errs []error
	for _, path := range v.Files {
		if err := validateFile(registry, path); err != nil {
			fmt.Printf("%s: %v\n", path, err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
	}
	return errors.Join(errs...)
}

func validateFile(registry *runner.Registry, path string) error {
	wf, err := loadWorkflow(path)
	if err != nil {
		return err
	}
	if err := registry.CheckUses(wf); err != nil {
		return err
	}

	entries := 0
	for _, id := range wf.JobIDs() {
		expanded, err := matrix.Expand(wf.Jobs[id].Strategy)
		if err != nil {
			return fmt.Errorf("jobs.%s.strategy.matrix: %w", id, err)
		}
		entries += len(expanded)
	}

	name := wf.Name
	if name == "" {
		name = "(unnamed)"
	}
	trigger := "manual only"
	if wf.Triggered() {
		trigger = "push"
	}
	fmt.Printf("%s: ok (%s: %d jobs, %d matrix entries, trigger: %s)\n",
		path, name, len(wf.Jobs), entries, trigger)
	return nil
}
