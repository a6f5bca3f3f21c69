package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/delegate"
	"github.com/samcharles93/lattice/internal/executor"
	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/internal/loader"
)

func runCmd() *cli.Command {
	var inputSpecs []string

	return &cli.Command{
		Name:  "run",
		Usage: "Execute a graph once and print its outputs",
		Flags: append(append(commonGraphFlags(), loggingFlags()...),
			&cli.StringSliceFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "input tensor as name=v1,v2,... (repeatable)",
				Destination: &inputSpecs,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyCommonConfig(cmd, cfg)
			log := setupLogger()

			if graphPath == "" {
				return fmt.Errorf("--graph is required")
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

			inputs, err := parseInputs(plan, inputSpecs)
			if err != nil {
				return err
			}

			exec := executor.New(executor.Options{Logger: log})
			res, err := exec.Run(ctx, plan, inputs)
			if err != nil {
				return err
			}

			for _, out := range res.Outputs {
				fmt.Printf("%s = %s\n", out.Name, formatValue(out))
			}
			log.Info("run completed", "duration", res.Duration)
			return nil
		},
	}
}

// parseInputs converts name=v1,v2 flag values into host tensors, using the
// graph's declared dtypes.
func parseInputs(plan *loader.Plan, specs []string) ([]executor.Value, error) {
	g := plan.Graph
	inputs := make([]executor.Value, 0, len(specs))
	for _, spec := range specs {
		name, list, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --input %q (want name=v1,v2,...)", spec)
		}
		idx := g.TensorIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("graph has no tensor %q", name)
		}

		parts := strings.Split(list, ",")
		v := executor.Value{Name: name}
		switch g.Tensors[idx].DType {
		case graph.F32:
			v.F32 = make([]float32, len(parts))
			for i, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
				if err != nil {
					return nil, fmt.Errorf("input %q element %d: %w", name, i, err)
				}
				v.F32[i] = float32(f)
			}
		case graph.I32:
			v.I32 = make([]int32, len(parts))
			for i, p := range parts {
				n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
				if err != nil {
					return nil, fmt.Errorf("input %q element %d: %w", name, i, err)
				}
				v.I32[i] = int32(n)
			}
		}
		inputs = append(inputs, v)
	}
	return inputs, nil
}

func formatValue(v executor.Value) string {
	var sb strings.Builder
	sb.WriteByte('[')
	switch {
	case v.F32 != nil:
		for i, f := range v.F32 {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
		}
	case v.I32 != nil:
		for i, n := range v.I32 {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.FormatInt(int64(n), 10))
		}
	}
	sb.WriteByte(']')
	return sb.String()
}
