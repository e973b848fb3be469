// ABOUTME: SecurityEvent is the dashboard's event record as served by the backend and search agent.
// ABOUTME: Also defines the severity scale and a tolerant ID type that accepts JSON strings or numbers.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity levels used by the backend, lowest to highest.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Severities lists every known severity in ascending order.
var Severities = []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// SeverityRank orders severities for sorting. Unknown values rank 0.
func SeverityRank(severity string) int {
	switch strings.ToLower(severity) {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// EventID is an event identifier. Stored events carry integer IDs while
// search-agent events carry string IDs, so both JSON forms are accepted.
type EventID string

// UnmarshalJSON accepts a JSON string, a JSON number, or null.
func (id *EventID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("event id: %w", err)
		}
		*id = EventID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	*id = EventID(n.String())
	return nil
}

// SecurityEvent is one security event shown on the map and in the event list.
// Lat and Lon are nil when unknown since 0 is a valid coordinate.
type SecurityEvent struct {
	ID          EventID  `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Location    string   `json:"location,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
	Source      string   `json:"source,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
}

// timestampLayouts are tried in order; the backend emits ISO-8601 with and
// without a zone designator.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses the event timestamp. Unparseable timestamps yield the zero time.
func (e SecurityEvent) Time() time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Region is the first comma-separated component of the location.
func (e SecurityEvent) Region() string {
	region, _, _ := strings.Cut(e.Location, ",")
	return strings.TrimSpace(region)
}
