//go:build runner

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/delegate"
	"github.com/samcharles93/lattice/internal/executor"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/internal/loader"
	"github.com/samcharles93/lattice/internal/runner"
)

func generateCmd() *cli.Command {
	var (
		seedSpec string
		stopSpec string
		steps    int64
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Run the autoregressive generation loop over a graph",
		Flags: append(append(commonGraphFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "seed",
				Usage:       "seed token ids, comma separated",
				Destination: &seedSpec,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "stop",
				Usage:       "stop token ids, comma separated",
				Destination: &stopSpec,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Usage:       "maximum generation steps",
				Value:       64,
				Destination: &steps,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyCommonConfig(cmd, cfg)
			if cfg.MaxSteps != nil && !cmd.IsSet("steps") {
				steps = *cfg.MaxSteps
			}
			log := setupLogger()

			if graphPath == "" {
				return fmt.Errorf("--graph is required")
			}
			seed, err := parseIDs(seedSpec)
			if err != nil {
				return fmt.Errorf("--seed: %w", err)
			}
			stop, err := parseIDs(stopSpec)
			if err != nil {
				return fmt.Errorf("--stop: %w", err)
			}
			if len(stop) == 0 {
				stop = cfg.StopIDs
			}

			ldr := loader.New(kernel.NewRuntimeRegistry(), loader.Options{
				Delegates: delegate.Available(),
				Plan:      loader.PlanOptions{DisableReuse: noBufferReuse},
				Logger:    log,
			})
			plan, err := ldr.LoadFile(graphPath)
			if err != nil {
				return err
			}
			defer func() { _ = plan.Close() }()

			r := &runner.Runner{
				Exec:     executor.New(executor.Options{Logger: log}),
				Plan:     plan,
				StopIDs:  stop,
				MaxSteps: int(steps),
			}
			toks, stats, err := r.Run(ctx, seed, func(tok int32) {
				fmt.Printf("%d ", tok)
			})
			fmt.Println()
			if err != nil {
				return err
			}
			log.Info("generation finished",
				"tokens", len(toks),
				"steps", stats.StepsRun,
				"tps", fmt.Sprintf("%.1f", stats.TPS),
			)
			return nil
		},
	}
}

func parseIDs(spec string) ([]int32, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	out := make([]int32, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, err
		}
		out[i] = int32(n)
	}
	return out, nil
}
