// ABOUTME: events subcommand: lists backend events with dashboard filters and sorting applied.
// ABOUTME: Prints a lipgloss table with summary metrics, or JSON with --json.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/2389-research/overwatch/dashboard"
	"github.com/2389-research/overwatch/markdown"
	"github.com/2389-research/overwatch/model"
)

type eventsOptions struct {
	types      []string
	severities []string
	region     string
	search     string
	sort       string
	asJSON     bool
	charts     bool
}

func newEventsCmd(a *app) *cobra.Command {
	var opts eventsOptions
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List security events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state := dashboard.NewState(nil, nil, a.logger)
			if err := state.Refresh(cmd.Context(), a.client()); err != nil {
				return err
			}
			opts.apply(state)

			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(state.Visible())
			}
			printEvents(cmd.OutOrStdout(), state)
			if opts.charts {
				printCharts(cmd.OutOrStdout(), state)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.types, "type", nil, "only show these categories (repeatable)")
	f.StringSliceVar(&opts.severities, "severity", nil, "only show these severities (repeatable)")
	f.StringVar(&opts.region, "region", "", "only show events whose location contains this text")
	f.StringVar(&opts.search, "search", "", "only show events matching this text")
	f.StringVar(&opts.sort, "sort", string(dashboard.SortNewest), "newest, oldest, or severity")
	f.BoolVar(&opts.asJSON, "json", false, "print events as JSON")
	f.BoolVar(&opts.charts, "charts", false, "also print counts by severity and top regions")

	cmd.AddCommand(newDeleteEventCmd(a))
	return cmd
}

func newDeleteEventCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := dashboard.NewState(nil, nil, a.logger)
			id := model.EventID(args[0])
			if err := state.DeleteEvent(cmd.Context(), a.client(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted event %s.\n", id)
			return nil
		},
	}
}

// apply narrows the default all-selected filters to the requested values.
func (o eventsOptions) apply(state *dashboard.State) {
	f := state.Filters()
	if len(o.types) > 0 {
		f.Types = make(map[string]bool, len(o.types))
		for _, t := range o.types {
			f.Types[t] = true
		}
	}
	if len(o.severities) > 0 {
		f.Severities = make(map[string]bool, len(o.severities))
		for _, s := range o.severities {
			f.Severities[strings.ToLower(s)] = true
		}
	}
	f.Region = strings.TrimSpace(o.region)
	f.Search = strings.TrimSpace(o.search)
	state.SetFilters(f)
	state.SetSort(dashboard.ParseSortOrder(o.sort))
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

func printEvents(w io.Writer, state *dashboard.State) {
	m := state.Metrics()
	fmt.Fprintf(w, "Total %d  High severity %d  Regions %d\n", m.Total, m.HighSeverity, m.ActiveRegions)

	events := state.Visible()
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found for current filters.")
		return
	}

	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, eventRow(e))
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TIME", "SEVERITY", "CATEGORY", "TITLE", "LOCATION").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Rows(rows...)
	fmt.Fprintln(w, t.String())
}

func eventRow(e model.SecurityEvent) []string {
	when := e.Timestamp
	if t := e.Time(); !t.IsZero() {
		when = t.Format("2006-01-02 15:04")
	}
	row := []string{string(e.ID), when, strings.ToUpper(e.Severity), e.Category, e.Title, e.Location}
	for i := range row {
		row[i] = markdown.StripControl(row[i])
	}
	return row
}

func printCharts(w io.Writer, state *dashboard.State) {
	fmt.Fprintln(w, "By severity:")
	for _, p := range state.SeverityChart() {
		fmt.Fprintf(w, "  %-10s %d\n", p.Label, p.Count)
	}
	fmt.Fprintln(w, "Top regions:")
	for _, p := range state.RegionChart() {
		fmt.Fprintf(w, "  %-20s %d\n", markdown.StripControl(p.Label), p.Count)
	}
}
