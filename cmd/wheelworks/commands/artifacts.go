package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"git.home.luguber.info/inful/wheelworks/internal/artifact"
)

// ArtifactsCmd groups the artifact store subcommands.
type ArtifactsCmd struct {
	List  ArtifactsListCmd  `cmd:"" help:"List artifacts stored for a run"`
	Fetch ArtifactsFetchCmd `cmd:"" help:"Copy an artifact's files into a directory"`
}

// ArtifactsListCmd lists a run's artifacts, or all runs with artifacts when
// no run is given.
type ArtifactsListCmd struct {
	RunID string `arg:"" optional:"" help:"Run whose artifacts to list"`
}

func (a *ArtifactsListCmd) Run(_ *Global, root *CLI) error {
	store, err := openArtifactStore(root)
	if err != nil {
		return err
	}

	if a.RunID == "" {
		runs, err := store.Runs()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no artifacts stored")
			return nil
		}
		for _, id := range runs {
			fmt.Println(id)
		}
		return nil
	}

	artifacts, err := store.List(a.RunID)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		fmt.Printf("no artifacts for run %s\n", a.RunID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFILES\tWHEELS\tBYTES")
	for _, art := range artifacts {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", art.Name, len(art.Files), art.WheelCount(), art.TotalSize())
	}
	return w.Flush()
}

// ArtifactsFetchCmd copies an artifact out of the store.
type ArtifactsFetchCmd struct {
	RunID string `arg:"" help:"Run the artifact belongs to"`
	Name  string `arg:"" optional:"" default:"wheels" help:"Artifact name"`
	Dest  string `short:"o" default:"." help:"Destination directory"`
}

func (a *ArtifactsFetchCmd) Run(_ *Global, root *CLI) error {
	store, err := openArtifactStore(root)
	if err != nil {
		return err
	}

	written, err := store.Fetch(context.Background(), a.RunID, a.Name, a.Dest)
	if err != nil {
		return err
	}
	for _, path := range written {
		fmt.Println(path)
	}
	return nil
}

func openArtifactStore(root *CLI) (*artifact.Store, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	return artifact.NewStore(cfg.Artifacts.Dir)
}
