package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/wheelworks/internal/artifact"
	"git.home.luguber.info/inful/wheelworks/internal/history"
)

// GCCmd implements the 'gc' command: it prunes run history down to the
// newest runs, drops artifact manifests of the pruned runs, and then removes
// store objects nothing references anymore.
type GCCmd struct {
	KeepRuns int `default:"100" help:"How many recent runs to keep"`
}

func (g *GCCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.History.DB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	artifacts, err := artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pruned, err := store.Prune(ctx, g.KeepRuns)
	if err != nil {
		return err
	}

	// Whatever survived the prune is the keep set; manifests of any other
	// run are dropped so their objects become collectable.
	kept, err := store.RecentRuns(ctx, g.KeepRuns)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(kept))
	for _, run := range kept {
		keep[run.ID] = true
	}

	withArtifacts, err := artifacts.Runs()
	if err != nil {
		return err
	}
	droppedRefs := 0
	for _, runID := range withArtifacts {
		if keep[runID] {
			continue
		}
		if err := artifacts.DeleteRun(runID); err != nil {
			return err
		}
		droppedRefs++
	}

	removed, err := artifacts.GC(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("pruned %d runs, dropped artifacts of %d runs, removed %d objects\n",
		pruned, droppedRefs, removed)
	return nil
}
