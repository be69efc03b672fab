package main

import (
	"io"

	"github.com/spf13/cobra"
)

func newRootCmd(out io.Writer) *cobra.Command {
	var flags globalFlags
	var current *app

	root := &cobra.Command{
		Use:   "catcare",
		Short: "Eye diagnosis client for the catcare backend",
		Long: `Talk to the catcare backend from the command line: upload an eye image,
wait for the classification, answer the follow-up questions and chat about
the result.

Credentials come from --email/--password or CATCARE_EMAIL/CATCARE_PASSWORD.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd.OutOrStdout(), flags)
			if err != nil {
				return err
			}
			current = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if current != nil {
				current.close()
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "backend base url (default $CATCARE_API_BASE_URL)")
	root.PersistentFlags().StringVar(&flags.email, "email", "", "account email")
	root.PersistentFlags().StringVar(&flags.password, "password", "", "account password")

	get := func() *app { return current }
	root.AddCommand(
		newDiagnoseCmd(get),
		newWatchCmd(get),
		newChatCmd(get),
		newCatsCmd(get),
	)
	return root
}
