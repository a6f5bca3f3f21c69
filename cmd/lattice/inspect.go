package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/pkg/lgf"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the structure of an .lgf container",
		Flags: append(commonGraphFlags(), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if graphPath == "" {
				return fmt.Errorf("--graph is required")
			}

			f, err := lgf.Open(graphPath)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			h := f.Header
			fmt.Printf("lgf v%d.%d  %d bytes  %d sections  flags=0x%x\n",
				h.Major, h.Minor, h.FileSize, h.SectionCount, h.Flags)
			for i, s := range f.Sections {
				fmt.Printf("  section %d: type=0x%04x v%d offset=%d size=%d\n",
					i, s.Type, s.Version, s.Offset, s.Size)
			}

			def, err := f.GraphDef()
			if err != nil {
				return err
			}
			if def.Name != "" {
				fmt.Printf("graph: %s\n", def.Name)
			}
			fmt.Printf("tensors: %d  nodes: %d  inputs: %v  outputs: %v\n",
				len(def.Tensors), len(def.Nodes), def.Inputs, def.Outputs)
			for i, n := range def.Nodes {
				fmt.Printf("  node %d: %s %v -> %v\n", i, n.Op, n.Inputs, n.Outputs)
			}
			consts := 0
			for i := range def.Tensors {
				if def.Tensors[i].Const {
					consts++
				}
			}
			fmt.Printf("constant tensors: %d (%d payload bytes)\n", consts, len(f.TensorData()))
			return nil
		},
	}
}
