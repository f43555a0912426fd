package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codemode/internal/session"
)

func newArtifactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Manage stored artifacts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				records, err := sess.ListArtifacts(ctx)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println(gray("no artifacts stored"))
					return nil
				}
				for _, record := range records {
					fmt.Printf("%s  %s\n", green(record.Name), record.Description)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <name>",
		Short: "Print an artifact's payload to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				artifact, err := sess.LoadArtifact(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(artifact.Data)
				return err
			})
		},
	})

	var description string
	save := &cobra.Command{
		Use:   "save <name> <file>",
		Short: "Store a file as an artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return withSession(func(ctx context.Context, sess *session.Session) error {
				if err := sess.SaveArtifact(ctx, args[0], data, description, nil); err != nil {
					return err
				}
				fmt.Println(green("saved ") + args[0])
				return nil
			})
		},
	}
	save.Flags().StringVar(&description, "description", "", "artifact description")
	cmd.AddCommand(save)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Delete an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				removed, err := sess.DeleteArtifact(ctx, args[0])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Println(yellow("not found: ") + args[0])
					return nil
				}
				fmt.Println(green("deleted ") + args[0])
				return nil
			})
		},
	})

	return cmd
}
