// ABOUTME: chat subcommand: sends one message and prints the streamed reply.
// ABOUTME: Renders ANSI markdown through a dashboard panel, or echoes raw deltas with --raw.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389-research/overwatch/dashboard"
	"github.com/2389-research/overwatch/markdown"
	"github.com/2389-research/overwatch/stream"
)

func newChatCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask the backend about current events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			if raw {
				return a.chatRaw(cmd.Context(), cmd.OutOrStdout(), message)
			}
			return a.chat(cmd.Context(), cmd.OutOrStdout(), message)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print text deltas as they arrive instead of rendered markdown")
	return cmd
}

// printSurface writes the final render to out and failures to errOut.
// A plain terminal cannot repaint, so it asks the panel for the final render only.
type printSurface struct {
	out    io.Writer
	errOut io.Writer
}

var (
	_ dashboard.Surface   = printSurface{}
	_ dashboard.FinalOnly = printSurface{}
)

func (s printSurface) Start()          {}
func (s printSurface) Replace(string)  {}
func (s printSurface) FinalOnly() bool { return true }

func (s printSurface) Finish(output string, incomplete bool) {
	fmt.Fprint(s.out, output)
	if incomplete {
		fmt.Fprintln(s.errOut, "(response ended early)")
	}
}

func (s printSurface) Fail(message string) {
	fmt.Fprintln(s.errOut, markdown.StripControl(message))
}

func (a *app) chat(ctx context.Context, out io.Writer, message string) error {
	renderer, err := a.terminalRenderer()
	if err != nil {
		return err
	}
	panel := dashboard.NewPanel(dashboard.PanelMain, a.client(), renderer, a.logger)
	res, err := panel.Chat(ctx, message, printSurface{out: out, errOut: a.errOut})
	if err != nil {
		return err
	}
	a.logger.Debug("chat finished", "session", res.SessionID, "outcome", res.Outcome)
	return nil
}

func (a *app) chatRaw(ctx context.Context, out io.Writer, message string) error {
	session, err := a.client().ChatStream(ctx, message)
	if err != nil {
		return err
	}
	defer session.Close()

	for {
		evt, err := session.Next()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			fmt.Fprintln(a.errOut, "(response ended early)")
			return nil
		}
		if err != nil {
			return err
		}
		switch e := evt.(type) {
		case stream.Chunk:
			fmt.Fprint(out, markdown.StripControl(e.Text))
		case stream.Error:
			fmt.Fprintln(out)
			return &stream.ProtocolError{Message: e.Message}
		case stream.Complete:
			fmt.Fprintln(out)
			return nil
		}
	}
}
