package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"codemode/internal/session"
)

func newDepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Manage declared dependencies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List declared dependency specs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				specs, err := sess.ListDeps(ctx)
				if err != nil {
					return err
				}
				if len(specs) == 0 {
					fmt.Println(gray("no deps declared"))
					return nil
				}
				for _, spec := range specs {
					fmt.Println(spec)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <spec>",
		Short: "Declare and install a dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				status, err := sess.AddDep(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(green(status+" ") + args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Drop a dependency declaration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				removed, err := sess.RemoveDep(ctx, args[0])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Println(yellow("not declared: ") + args[0])
					return nil
				}
				fmt.Println(green("removed ") + args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Install every declared dependency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				result, err := sess.SyncDeps(ctx)
				if err != nil {
					return err
				}
				for _, spec := range result.Installed {
					fmt.Println(green("installed ") + spec)
				}
				for _, spec := range result.AlreadyPresent {
					fmt.Println(gray("present ") + spec)
				}
				for spec, reason := range result.Failed {
					fmt.Println(red("failed ") + spec + ": " + reason)
				}
				if !result.OK() {
					return fmt.Errorf("%d deps failed to install", len(result.Failed))
				}
				return nil
			})
		},
	})

	return cmd
}
