//go:build !runner

package main

import "github.com/urfave/cli/v3"

// The generation runner is an optional build component; without the runner
// tag the command is simply not linked.
func generateCmd() *cli.Command {
	return nil
}
