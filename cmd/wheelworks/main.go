package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/wheelworks/cmd/wheelworks/commands"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/version"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("wheelworks"),
		kong.Description("Runs declarative workflows that build Python wheels across an OS matrix and stores the results."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)

	if err := ctx.Run(&commands.Global{Logger: slog.Default()}, &cli); err != nil {
		slog.Error("Command failed", logfields.Error(err))
		os.Exit(wwerrors.ExitCode(err))
	}
}
