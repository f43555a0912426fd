package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"codemode/internal/session"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect registered tools",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered tools and their operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				entries, err := sess.ListTools(ctx)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println(gray("no tools registered"))
					return nil
				}
				for _, tool := range entries {
					fmt.Printf("%s  %s\n", green(tool.Name), tool.Description)
					for _, callable := range tool.Callables {
						fmt.Printf("  %s  %s\n", callable.Name, gray(callable.Description))
					}
				}
				return nil
			})
		},
	})

	var limit int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search tools by name, description and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				hits, err := sess.SearchTools(ctx, args[0], limit)
				if err != nil {
					return err
				}
				for _, tool := range hits {
					fmt.Printf("%s  %s\n", green(tool.Name), tool.Description)
				}
				return nil
			})
		},
	}
	search.Flags().IntVar(&limit, "limit", 5, "max results")
	cmd.AddCommand(search)

	return cmd
}
