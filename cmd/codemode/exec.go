package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"codemode/internal/session"
)

// newExecCmd runs one snippet in a fresh session. Exit code 0 on success,
// 2 when the snippet itself failed, 1 for session failures.
func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec [code]",
		Short: "Execute a code snippet (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(args)
			if err != nil {
				return err
			}
			return withSession(func(ctx context.Context, sess *session.Session) error {
				result, err := sess.Run(ctx, code, 0)
				if err != nil {
					return err
				}
				if result.Stdout != "" {
					fmt.Print(result.Stdout)
				}
				if result.Stderr != "" {
					fmt.Fprint(os.Stderr, result.Stderr)
				}
				if result.Error != nil {
					fmt.Fprintln(os.Stderr, red(result.Error.Kind)+": "+result.Error.Message)
					if result.Error.Trace != "" {
						fmt.Fprintln(os.Stderr, gray(result.Error.Trace))
					}
					os.Exit(2)
				}
				if result.Value != nil {
					encoded, err := json.MarshalIndent(result.Value, "", "  ")
					if err != nil {
						return err
					}
					fmt.Println(string(encoded))
				}
				fmt.Fprintln(os.Stderr, gray(fmt.Sprintf("(%dms)", result.DurationMS)))
				return nil
			})
		},
	}
}

func readCode(args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
