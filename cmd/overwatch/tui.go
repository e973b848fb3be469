// ABOUTME: tui subcommand: interactive terminal chat against the backend.
package main

import (
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/2389-research/overwatch/dashboard"
	"github.com/2389-research/overwatch/tui"
)

func newTUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Chat interactively in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The alt screen owns the terminal while the program runs.
			a.logger = slog.New(slog.DiscardHandler)
			renderer, err := a.terminalRenderer()
			if err != nil {
				return err
			}
			panel := dashboard.NewPanel(dashboard.PanelMain, a.client(), renderer, a.logger)

			ctx := cmd.Context()
			p := tea.NewProgram(tui.NewChatModel(ctx, panel), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = p.Run()
			return err
		},
	}
}
