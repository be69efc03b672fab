package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newChatCmd(get func() *app) *cobra.Command {
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask the chatbot about a diagnosis",
	}

	var diagnosisID string
	startCmd := &cobra.Command{
		Use:   "start <question>",
		Short: "Open a chat session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			session, err := a.chat.CreateSession(cmd.Context(), strings.Join(args, " "), diagnosisID)
			if err != nil {
				return err
			}
			return a.print(session)
		},
	}
	startCmd.Flags().StringVarP(&diagnosisID, "diagnosis-id", "d", "", "diagnosis the conversation is about")

	sendCmd := &cobra.Command{
		Use:   "send <session-id> <question>",
		Short: "Ask a follow-up question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			reply, err := a.chat.Send(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.print(reply)
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the conversation of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			conversations, err := a.chat.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(conversations)
		},
	}

	chatCmd.AddCommand(startCmd, sendCmd, historyCmd)
	return chatCmd
}
