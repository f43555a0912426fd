package main

import (
	"os"

	"github.com/spf13/cobra"

	"codemode/internal/execution"
	"codemode/internal/logging"
)

// newKernelCmd runs the stdio kernel the subprocess executor spawns. All
// logging goes to stderr; stdout is reserved for the JSON-RPC channel.
func newKernelCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "kernel",
		Short:  "Run the stdio execution kernel",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			logging.SetOutput(os.Stderr)
			if flagVerbose {
				logging.SetLevel(logging.LevelDebug)
			}
			kernel := execution.NewKernel(logging.NewComponentLogger("kernel"))
			return kernel.Serve(ctx, os.Stdin, os.Stdout)
		},
	}
}
