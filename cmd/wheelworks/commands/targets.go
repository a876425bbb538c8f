package commands

import (
	"fmt"

	"git.home.luguber.info/inful/wheelworks/internal/bwheel"
	"git.home.luguber.info/inful/wheelworks/internal/pytag"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// TargetsCmd implements the 'targets' command: it lists the build targets a
// selector matches, with the same resolution the build-wheels action uses, so
// a skip pattern can be checked before committing it to a workflow.
type TargetsCmd struct {
	Platform string `help:"Platform to enumerate (linux|macos|windows). Defaults to the host."`
	All      bool   `help:"Enumerate every platform."`
	Build    string `help:"Build selector: whitespace-separated glob patterns."`
	Skip     string `help:"Skip selector: whitespace-separated glob patterns."`
}

func (t *TargetsCmd) Run(_ *Global, _ *CLI) error {
	// Flags win over WHEELWORKS_*/CIBW_* variables, matching the action.
	sel, err := bwheel.ResolveSelector(map[string]string{
		"build": t.Build,
		"skip":  t.Skip,
	}, environMap())
	if err != nil {
		return err
	}

	registry := pytag.DefaultRegistry()
	platforms, err := t.platforms(registry)
	if err != nil {
		return err
	}

	total := 0
	matched := 0
	for _, platform := range platforms {
		targets := registry.TargetsFor(platform)
		total += len(targets)
		for _, target := range sel.Apply(targets) {
			matched++
			if t.All {
				fmt.Printf("%-8s %s\n", platform, target.ID())
			} else {
				fmt.Println(target.ID())
			}
		}
	}
	fmt.Printf("%d of %d targets match %q\n", matched, total, sel.String())
	return nil
}

func (t *TargetsCmd) platforms(registry *pytag.Registry) ([]pytag.Platform, error) {
	if t.All {
		return registry.Platforms(), nil
	}
	if t.Platform == "" {
		return []pytag.Platform{pytag.HostPlatform()}, nil
	}
	platform := pytag.Platform(t.Platform)
	for _, known := range registry.Platforms() {
		if platform == known {
			return []pytag.Platform{platform}, nil
		}
	}
	return nil, wwerrors.New(wwerrors.CategoryValidation, wwerrors.SeverityError,
		fmt.Sprintf("unknown platform %q (linux, macos, windows)", t.Platform))
}
