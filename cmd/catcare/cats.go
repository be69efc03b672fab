package main

import (
	"github.com/spf13/cobra"
)

func newCatsCmd(get func() *app) *cobra.Command {
	catsCmd := &cobra.Command{
		Use:   "cats",
		Short: "Manage cat profiles",
	}
	catsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List your cats",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a := get()
				list, err := a.cats.List(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(list)
			},
		},
		&cobra.Command{
			Use:   "show <cat-id>",
			Short: "Show one cat",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a := get()
				cat, err := a.cats.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(cat)
			},
		},
		&cobra.Command{
			Use:   "delete <cat-id>",
			Short: "Delete a cat profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return get().cats.Delete(cmd.Context(), args[0])
			},
		},
	)
	return catsCmd
}
