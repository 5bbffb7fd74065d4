package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/terra-clan/commitment-engine/pkg/client"
)

var CLI struct {
	Version kong.VersionFlag
	Server  string        `help:"Base URL of the commitment-engine API." default:"http://localhost:8080" env:"COMMITMENT_ENGINE_URL"`
	Timeout time.Duration `help:"Request timeout." default:"30s"`

	List     ListCmd     `cmd:"" help:"List commitments, newest first."`
	Create   CreateCmd   `cmd:"" help:"Create a commitment."`
	Show     ShowCmd     `cmd:"" help:"Show a commitment."`
	Entries  EntriesCmd  `cmd:"" help:"List progress entries of a commitment."`
	Complete CompleteCmd `cmd:"" help:"Complete today's regions of a commitment."`
	Progress ProgressCmd `cmd:"" help:"Show progress and the day plan of a commitment."`
	Watch    WatchCmd    `cmd:"" help:"Stream progress events of a commitment."`
	Images   ImagesCmd   `cmd:"" help:"List catalog images."`
	Image    ImageCmd    `cmd:"" help:"Show one catalog image."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("commitctl"),
		kong.Description("Command line client for commitment-engine"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	appCtx := &Context{
		Client: client.NewClient(CLI.Server, client.WithTimeout(CLI.Timeout)),
		Out:    os.Stdout,
	}

	if err := ctx.Run(appCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
