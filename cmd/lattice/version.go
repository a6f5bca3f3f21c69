package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/delegate"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version and build information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("lattice %s\n", version.String())
			fmt.Printf("delegates: %s\n", delegate.Names())
			feat := kernel.Features()
			fmt.Printf("cpu: avx2=%v avx512=%v\n", feat.HasAVX2, feat.HasAVX512)
			return nil
		},
	}
}
