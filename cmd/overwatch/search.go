// ABOUTME: search subcommand: runs a web search preview and lists the discovered events.
// ABOUTME: With --integrate the discovered events are added to the backend afterwards.
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389-research/overwatch/dashboard"
	"github.com/2389-research/overwatch/markdown"
	"github.com/2389-research/overwatch/model"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		maxEvents int
		integrate bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the web for new security events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("max-events") {
				maxEvents = a.cfg.MaxSearchEvents
			}
			c := a.client()
			panel := dashboard.NewPanel(dashboard.PanelMain, c, nil, a.logger)
			out := cmd.OutOrStdout()

			result, err := panel.Search(cmd.Context(), strings.Join(args, " "), maxEvents, searchPrinter{out: out, errOut: a.errOut})
			if err != nil {
				return err
			}
			if !integrate || len(result.Events) == 0 {
				return nil
			}
			res, err := result.Integrate(cmd.Context(), c)
			if err != nil {
				return fmt.Errorf("add events: %w", err)
			}
			fmt.Fprintf(out, "Added %d events (%d total).\n", res.AddedCount, res.TotalEvents)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "maximum events to discover (default from config)")
	cmd.Flags().BoolVar(&integrate, "integrate", false, "add the discovered events to the backend")
	return cmd
}

// searchPrinter implements dashboard.SearchSurface for plain text output.
// Backend text is stripped of control sequences before printing.
type searchPrinter struct {
	out    io.Writer
	errOut io.Writer
}

func (p searchPrinter) Status(message string) {
	fmt.Fprintf(p.errOut, "... %s\n", markdown.StripControl(message))
}

func (p searchPrinter) Item(n int, event model.SecurityEvent) {
	fmt.Fprintf(p.out, "#%d [%s] %s\n", n, markdown.StripControl(strings.ToUpper(event.Severity)), markdown.StripControl(event.Title))
	if event.Location != "" {
		fmt.Fprintf(p.out, "    %s\n", markdown.StripControl(event.Location))
	}
}

func (p searchPrinter) Complete(result *dashboard.SearchResult) {
	if result.Truncated {
		fmt.Fprintf(p.out, "Search ended early. Found %d events.\n", len(result.Events))
		return
	}
	fmt.Fprintf(p.out, "Search completed! Found %d events.\n", len(result.Events))
}

func (p searchPrinter) Fail(message string) {
	fmt.Fprintln(p.errOut, markdown.StripControl(message))
}
