// ABOUTME: Tests for SecurityEvent decoding helpers: flexible IDs, timestamps, regions, severity rank.
package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIDAcceptsStringsAndNumbers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want EventID
	}{
		{"string", `{"id":"web_search_1"}`, "web_search_1"},
		{"number", `{"id":42}`, "42"},
		{"null", `{"id":null}`, ""},
		{"missing", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var evt SecurityEvent
			require.NoError(t, json.Unmarshal([]byte(tt.in), &evt))
			assert.Equal(t, tt.want, evt.ID)
		})
	}
}

func TestEventIDRejectsObjects(t *testing.T) {
	var evt SecurityEvent
	err := json.Unmarshal([]byte(`{"id":{"x":1}}`), &evt)
	assert.Error(t, err)
}

func TestSecurityEventTime(t *testing.T) {
	evt := SecurityEvent{Timestamp: "2024-03-01T10:20:30.123456"}
	assert.Equal(t, time.Date(2024, 3, 1, 10, 20, 30, 123456000, time.UTC), evt.Time())

	evt = SecurityEvent{Timestamp: "2024-03-01T10:20:30Z"}
	assert.Equal(t, 2024, evt.Time().Year())

	evt = SecurityEvent{Timestamp: "yesterday"}
	assert.True(t, evt.Time().IsZero())
}

func TestSecurityEventRegion(t *testing.T) {
	assert.Equal(t, "Kyiv", SecurityEvent{Location: "Kyiv, Ukraine"}.Region())
	assert.Equal(t, "Global", SecurityEvent{Location: "Global"}.Region())
	assert.Equal(t, "", SecurityEvent{}.Region())
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityRank("critical"), SeverityRank("high"))
	assert.Greater(t, SeverityRank("HIGH"), SeverityRank("medium"))
	assert.Greater(t, SeverityRank("medium"), SeverityRank("low"))
	assert.Equal(t, 0, SeverityRank("unknown"))
}

func TestSecurityEventCoordinates(t *testing.T) {
	var evt SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(`{"title":"Null Island","lat":0,"lon":0}`), &evt))
	require.NotNil(t, evt.Lat)
	require.NotNil(t, evt.Lon)

	out, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"lat":0`)
	assert.Contains(t, string(out), `"lon":0`)

	out, err = json.Marshal(SecurityEvent{Title: "Unplaced"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "lat")
}
