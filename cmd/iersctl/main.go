package main

import (
	"fmt"
	"os"

	"github.com/iers-platform/iers/cmd/iersctl/cli"
	"github.com/iers-platform/iers/internal/app"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(cli.ExitCommandError)
	}
	rt := &cli.Runtime{Config: cfg, Logger: app.NewLoggerTo(cfg, os.Stderr)}
	if err := cli.NewRootCommand(rt).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
