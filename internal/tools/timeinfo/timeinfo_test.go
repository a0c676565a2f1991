package timeinfo

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func fixedTool() *Tool {
	t := New()
	t.now = func() time.Time {
		return time.Date(2026, time.March, 9, 15, 30, 0, 0, time.UTC)
	}
	return t
}

func TestExecuteDefaultsToUTC(t *testing.T) {
	out, err := fixedTool().Execute(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		ISO      string `json:"iso"`
		Unix     int64  `json:"unix"`
		Weekday  string `json:"weekday"`
		Timezone string `json:"timezone"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.ISO != "2026-03-09T15:30:00Z" {
		t.Errorf("iso = %q", got.ISO)
	}
	if got.Weekday != "Monday" {
		t.Errorf("weekday = %q", got.Weekday)
	}
	if got.Timezone != "UTC" {
		t.Errorf("timezone = %q", got.Timezone)
	}
	if got.Unix != time.Date(2026, time.March, 9, 15, 30, 0, 0, time.UTC).Unix() {
		t.Errorf("unix = %d", got.Unix)
	}
}

func TestExecuteNamedTimezone(t *testing.T) {
	out, err := fixedTool().Execute(context.Background(), json.RawMessage(`{"timezone":"America/New_York"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		ISO      string `json:"iso"`
		Timezone string `json:"timezone"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.Timezone != "America/New_York" {
		t.Errorf("timezone = %q", got.Timezone)
	}
	// March 9 2026 is after the US DST transition; UTC-4.
	if !strings.HasSuffix(got.ISO, "-04:00") {
		t.Errorf("iso = %q, want an EDT offset", got.ISO)
	}
}

func TestExecuteUnknownTimezone(t *testing.T) {
	_, err := fixedTool().Execute(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus_Mons"}`), nil)
	if err == nil || !strings.Contains(err.Error(), "unknown timezone") {
		t.Errorf("err = %v", err)
	}
}
