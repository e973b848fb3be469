// ABOUTME: State is the dashboard's client-side model: events, filters, sort order, charts, and chat panels.
// ABOUTME: Views read projections from it; handlers mutate it through explicit methods.
package dashboard

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/2389-research/overwatch/markdown"
	"github.com/2389-research/overwatch/model"
)

// Panel names.
const (
	PanelMain    = "main"
	PanelOverlay = "overlay"
)

// TopRegions is how many regions the region chart shows.
const TopRegions = 6

// SortOrder selects how the event list is ordered.
type SortOrder string

const (
	SortNewest   SortOrder = "newest"
	SortOldest   SortOrder = "oldest"
	SortSeverity SortOrder = "severity"
)

// ParseSortOrder maps a name to a SortOrder. Unknown names sort newest first.
func ParseSortOrder(s string) SortOrder {
	switch SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case SortOldest:
		return SortOldest
	case SortSeverity:
		return SortSeverity
	default:
		return SortNewest
	}
}

// Filters select which events are shown. An event passes when its category
// and severity are both selected, its location contains Region, and its
// title, description, or location contains Search. Matching ignores case.
type Filters struct {
	Types      map[string]bool
	Severities map[string]bool
	Region     string
	Search     string
}

// Match reports whether e passes the filters.
func (f Filters) Match(e model.SecurityEvent) bool {
	if !f.Types[e.Category] {
		return false
	}
	if !f.Severities[e.Severity] {
		return false
	}
	if f.Region != "" && !strings.Contains(strings.ToLower(e.Location), strings.ToLower(f.Region)) {
		return false
	}
	if f.Search != "" {
		text := strings.ToLower(e.Title + " " + e.Description + " " + e.Location)
		if !strings.Contains(text, strings.ToLower(f.Search)) {
			return false
		}
	}
	return true
}

func (f Filters) clone() Filters {
	out := Filters{
		Types:      make(map[string]bool, len(f.Types)),
		Severities: make(map[string]bool, len(f.Severities)),
		Region:     f.Region,
		Search:     f.Search,
	}
	for k, v := range f.Types {
		out.Types[k] = v
	}
	for k, v := range f.Severities {
		out.Severities[k] = v
	}
	return out
}

// ChartPoint is one bar or slice of a chart.
type ChartPoint struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Metrics are the summary counters above the event list.
type Metrics struct {
	Total         int `json:"total"`
	HighSeverity  int `json:"high_severity"`
	ActiveRegions int `json:"active_regions"`
}

// EventSource loads the stored event list. *client.Client implements it.
type EventSource interface {
	Events(ctx context.Context) ([]model.SecurityEvent, error)
}

// EventDeleter removes a stored event. *client.Client implements it.
type EventDeleter interface {
	DeleteEvent(ctx context.Context, id model.EventID) error
}

// State is safe for concurrent use.
type State struct {
	mu      sync.RWMutex
	events  []model.SecurityEvent
	filters Filters
	sort    SortOrder

	panels map[string]*Panel
	logger *slog.Logger
}

// NewState creates a State with the main and overlay chat panels.
func NewState(streamer Streamer, renderer *markdown.Renderer, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	s := &State{
		sort:   SortNewest,
		logger: logger.With("component", "dashboard"),
		panels: map[string]*Panel{
			PanelMain:    NewPanel(PanelMain, streamer, renderer, logger),
			PanelOverlay: NewPanel(PanelOverlay, streamer, renderer, logger),
		},
	}
	s.filters = defaultFilters(nil)
	return s
}

func defaultFilters(events []model.SecurityEvent) Filters {
	f := Filters{Types: map[string]bool{}, Severities: map[string]bool{}}
	for _, e := range events {
		f.Types[e.Category] = true
	}
	for _, sev := range model.Severities {
		f.Severities[sev] = true
	}
	return f
}

// Panel returns the named panel, or nil.
func (s *State) Panel(name string) *Panel {
	return s.panels[name]
}

// SetEvents replaces the event list and resets filters to select every
// category present and every severity.
func (s *State) SetEvents(events []model.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = slices.Clone(events)
	s.filters = defaultFilters(s.events)
}

// Refresh reloads events from src.
func (s *State) Refresh(ctx context.Context, src EventSource) error {
	events, err := src.Events(ctx)
	if err != nil {
		return fmt.Errorf("refresh events: %w", err)
	}
	s.SetEvents(events)
	s.logger.Debug("events refreshed", "count", len(events))
	return nil
}

// DeleteEvent removes the event from the backend and, on success, from the list.
func (s *State) DeleteEvent(ctx context.Context, dst EventDeleter, id model.EventID) error {
	if err := dst.DeleteEvent(ctx, id); err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = slices.DeleteFunc(s.events, func(e model.SecurityEvent) bool { return e.ID == id })
	return nil
}

// Events returns every loaded event, unfiltered.
func (s *State) Events() []model.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Categories returns the distinct categories of the loaded events, sorted.
func (s *State) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, e := range s.events {
		if !seen[e.Category] {
			seen[e.Category] = true
			out = append(out, e.Category)
		}
	}
	slices.Sort(out)
	return out
}

// Filters returns a copy of the current filters.
func (s *State) Filters() Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters.clone()
}

// SetFilters replaces the current filters.
func (s *State) SetFilters(f Filters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = f.clone()
}

// ToggleType flips whether category is selected.
func (s *State) ToggleType(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters.Types[category] = !s.filters.Types[category]
}

// ToggleSeverity flips whether severity is selected.
func (s *State) ToggleSeverity(severity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters.Severities[severity] = !s.filters.Severities[severity]
}

// SelectAllTypes selects or clears every known category.
func (s *State) SelectAllTypes(selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		s.filters.Types[e.Category] = selected
	}
}

// SelectAllSeverities selects or clears every severity.
func (s *State) SelectAllSeverities(selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sev := range model.Severities {
		s.filters.Severities[sev] = selected
	}
}

// SetRegion sets the location substring filter.
func (s *State) SetRegion(region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters.Region = strings.TrimSpace(region)
}

// SetSearch sets the free-text filter.
func (s *State) SetSearch(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters.Search = strings.TrimSpace(text)
}

// SetSort sets the event list order.
func (s *State) SetSort(order SortOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sort = order
}

// Sort returns the event list order.
func (s *State) Sort() SortOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sort
}

func (s *State) filtered() []model.SecurityEvent {
	var out []model.SecurityEvent
	for _, e := range s.events {
		if s.filters.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Visible returns the filtered events in the current sort order.
func (s *State) Visible() []model.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filtered()
	SortEvents(out, s.sort)
	return out
}

// SortEvents orders events in place. Ties keep their input order.
func SortEvents(events []model.SecurityEvent, order SortOrder) {
	switch order {
	case SortOldest:
		slices.SortStableFunc(events, func(a, b model.SecurityEvent) int {
			return a.Time().Compare(b.Time())
		})
	case SortSeverity:
		slices.SortStableFunc(events, func(a, b model.SecurityEvent) int {
			return cmp.Compare(model.SeverityRank(b.Severity), model.SeverityRank(a.Severity))
		})
	default:
		slices.SortStableFunc(events, func(a, b model.SecurityEvent) int {
			return b.Time().Compare(a.Time())
		})
	}
}

// Metrics counts the filtered events.
func (s *State) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.filtered()
	m := Metrics{Total: len(events)}
	locations := map[string]bool{}
	for _, e := range events {
		if e.Severity == model.SeverityHigh || e.Severity == model.SeverityCritical {
			m.HighSeverity++
		}
		locations[e.Location] = true
	}
	m.ActiveRegions = len(locations)
	return m
}

// SeverityChart counts filtered events per severity, most severe first.
func (s *State) SeverityChart() []ChartPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int{}
	for _, e := range s.filtered() {
		counts[e.Severity]++
	}
	out := make([]ChartPoint, 0, len(model.Severities))
	for i := len(model.Severities) - 1; i >= 0; i-- {
		sev := model.Severities[i]
		out = append(out, ChartPoint{Label: sev, Count: counts[sev]})
	}
	return out
}

// RegionChart returns the TopRegions regions with the most filtered events.
// Regions with equal counts keep first-seen order.
func (s *State) RegionChart() []ChartPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ChartPoint
	index := map[string]int{}
	for _, e := range s.filtered() {
		region := e.Region()
		i, ok := index[region]
		if !ok {
			i = len(out)
			index[region] = i
			out = append(out, ChartPoint{Label: region})
		}
		out[i].Count++
	}
	slices.SortStableFunc(out, func(a, b ChartPoint) int { return cmp.Compare(b.Count, a.Count) })
	if len(out) > TopRegions {
		out = out[:TopRegions]
	}
	return out
}
