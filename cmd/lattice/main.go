package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	commands := []*cli.Command{
		runCmd(),
		packCmd(),
		inspectCmd(),
		serveCmd(),
		versionCmd(),
	}
	if c := generateCmd(); c != nil {
		commands = append(commands, c)
	}

	app := &cli.Command{
		Name:  "lattice",
		Usage: "Graph inference runtime CLI",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: commands,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
