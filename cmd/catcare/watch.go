package main

import (
	"github.com/spf13/cobra"
)

func newWatchCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <diagnosis-id>",
		Short: "Wait for the category of an existing diagnosis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			category, err := a.poll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(category)
		},
	}
}
