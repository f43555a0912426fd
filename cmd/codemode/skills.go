package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codemode/internal/session"
)

func newSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage stored skills",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored skills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				entries, err := sess.ListSkills(ctx)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println(gray("no skills stored"))
					return nil
				}
				for _, skill := range entries {
					if skill.Error != "" {
						fmt.Printf("%s  %s\n", red(skill.Name), gray("corrupt: "+skill.Error))
						continue
					}
					fmt.Printf("%s  %s\n", green(skill.Name), skill.Description)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <name>",
		Short: "Show a skill's source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				skill, err := sess.GetSkill(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(gray("# " + skill.Name + ": " + skill.Description))
				fmt.Print(skill.Source)
				return nil
			})
		},
	})

	var description string
	var overwrite bool
	add := &cobra.Command{
		Use:   "add <name> <file>",
		Short: "Store a skill from a source file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return withSession(func(ctx context.Context, sess *session.Session) error {
				skill, err := sess.AddSkill(ctx, args[0], string(source), description, overwrite)
				if err != nil {
					return err
				}
				fmt.Println(green("stored ") + skill.Name)
				return nil
			})
		},
	}
	add.Flags().StringVar(&description, "description", "", "skill description")
	add.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing skill")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				removed, err := sess.RemoveSkill(ctx, args[0])
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

	var limit int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search skills by description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, sess *session.Session) error {
				hits, err := sess.SearchSkills(ctx, args[0], limit)
				if err != nil {
					return err
				}
				for _, hit := range hits {
					fmt.Printf("%s  %s\n", green(hit.Name), hit.Description)
				}
				return nil
			})
		},
	}
	search.Flags().IntVar(&limit, "limit", 5, "max results")
	cmd.AddCommand(search)

	return cmd
}
