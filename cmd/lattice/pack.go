package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/pkg/lgf"
)

func packCmd() *cli.Command {
	var (
		specPath string
		outPath  string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Build an .lgf container from a JSON graph description",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "spec",
				Aliases:     []string{"s"},
				Usage:       "path to graph description JSON",
				Destination: &specPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output .lgf path",
				Destination: &outPath,
				Required:    true,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyCommonConfig(cmd, cfg)
			log := setupLogger()

			raw, err := os.ReadFile(specPath)
			if err != nil {
				return err
			}
			def, err := lgf.ParseGraphDef(raw)
			if err != nil {
				return err
			}
			if err := lgf.WriteFile(outPath, def); err != nil {
				return err
			}

			stat, err := os.Stat(outPath)
			if err != nil {
				return err
			}
			log.Info("container written",
				"path", outPath,
				"bytes", stat.Size(),
				"tensors", len(def.Tensors),
				"nodes", len(def.Nodes),
			)
			fmt.Printf("wrote %s (%d bytes)\n", outPath, stat.Size())
			return nil
		},
	}
}
