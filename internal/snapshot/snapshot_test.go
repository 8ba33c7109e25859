package snapshot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"taskbot/internal/timeutil"
)

func TestEncodeDue(t *testing.T) {
	cases := []struct {
		hours float64
		want  string
	}{
		{-5, "2021/03/07 23:59 -5"},
		{0, "2021/03/07 23:59 0"},
		{5.5, "2021/03/07 23:59 5.5"},
		{1, "2021/03/07 23:59 1"},
	}
	for _, c := range cases {
		due := time.Date(2021, 3, 7, 23, 59, 0, 0, timeutil.FixedOffset(c.hours))
		if got := EncodeDue(due); got != c.want {
			t.Fatalf("EncodeDue(offset %v) = %q, want %q", c.hours, got, c.want)
		}
	}
}

func TestDecodeDueSameZone(t *testing.T) {
	loc := timeutil.FixedOffset(-5)
	got, err := DecodeDue("2021/03/07 23:59 -5", loc)
	if err != nil {
		t.Fatalf("DecodeDue: %v", err)
	}
	want := time.Date(2021, 3, 7, 23, 59, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("DecodeDue = %v, want %v", got, want)
	}
	if got.Hour() != 23 || got.Minute() != 59 {
		t.Fatalf("wall clock = %02d:%02d", got.Hour(), got.Minute())
	}
}

func TestDecodeDueConvertsToNewZone(t *testing.T) {
	// Stored under UTC-5, loaded into a guild now at UTC+1: the absolute
	// instant is preserved, the wall clock shifts by six hours.
	cet := timeutil.FixedOffset(1)
	got, err := DecodeDue("2021/03/07 18:00 -5", cet)
	if err != nil {
		t.Fatalf("DecodeDue: %v", err)
	}
	if !got.Equal(time.Date(2021, 3, 7, 18, 0, 0, 0, timeutil.FixedOffset(-5))) {
		t.Fatalf("instant changed: %v", got)
	}
	if got.Day() != 8 || got.Hour() != 0 {
		t.Fatalf("wall clock in new zone = %v, want 2021/03/08 00:00", got)
	}
}

func TestDecodeDueFractionalOffset(t *testing.T) {
	ist := timeutil.FixedOffset(5.5)
	got, err := DecodeDue("2021/03/07 12:00 5.5", ist)
	if err != nil {
		t.Fatalf("DecodeDue: %v", err)
	}
	if got.Hour() != 12 || timeutil.OffsetHours(got) != 5.5 {
		t.Fatalf("got %v (offset %v)", got, timeutil.OffsetHours(got))
	}
}

func TestDecodeDueErrors(t *testing.T) {
	loc := time.UTC
	for _, s := range []string{
		"",
		"2021/03/07",
		"2021/03/07 23:59 not-a-number",
		"garbage -5",
	} {
		if _, err := DecodeDue(s, loc); err == nil {
			t.Fatalf("DecodeDue(%q): expected error", s)
		}
	}
}

func TestEncodeDecodeDueRoundTrip(t *testing.T) {
	loc := timeutil.FixedOffset(-5)
	want := time.Date(2021, 12, 31, 6, 30, 0, 0, loc)
	got, err := DecodeDue(EncodeDue(want), loc)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("round trip = %v, want %v", got, want)
	}
}

func TestSnapshotFieldNames(t *testing.T) {
	rec := GuildRecord{
		ID:                   1,
		TargetChannelID:      2,
		ReceiveAnnouncements: true,
		Locale:               "en-US",
		TZOffset:             -5,
		Teams: []TeamRecord{{
			RoleID: 3,
			Notify: NotifyRecord{Batch: true, Early: true, EarlyTime: 60, Exact: true},
			Tasks:  []TaskRecord{{Content: "c", Tags: []string{}, DueDatetime: "2021/01/02 23:59 -5"}},
		}},
		ControlRoles: []ControlRoleRecord{{RoleID: 4, Perms: map[string]bool{"delete tasks": true}}},
	}
	data, err := Encode([]GuildRecord{rec})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, key := range []string{
		`"id"`, `"target_channel_id"`, `"receive_announcements"`, `"locale"`,
		`"tz_offset"`, `"teams"`, `"control_roles"`, `"role_id"`, `"notify"`,
		`"batch"`, `"early"`, `"early_time"`, `"exact"`, `"tasks"`,
		`"content"`, `"tags"`, `"due_datetime"`, `"perms"`,
	} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("encoded snapshot missing %s: %s", key, data)
		}
	}

	var doc []map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("snapshot is not a JSON array: %v", err)
	}
}

func TestEncodeNilIsEmptyArray(t *testing.T) {
	data, err := Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("Encode(nil) = %s", data)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	in := []GuildRecord{{
		ID:       9,
		Locale:   "de",
		TZOffset: 1,
		Teams: []TeamRecord{{
			RoleID: 5,
			Notify: NotifyRecord{Batch: true, EarlyTime: 30},
			Tasks:  []TaskRecord{{Content: "x", Tags: []string{"Café"}, DueDatetime: "2021/06/01 10:00 1"}},
		}},
	}}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != 9 || len(out[0].Teams) != 1 {
		t.Fatalf("Decode = %+v", out)
	}
	task := out[0].Teams[0].Tasks[0]
	if task.Content != "x" || task.Tags[0] != "Café" || task.DueDatetime != "2021/06/01 10:00 1" {
		t.Fatalf("task = %+v", task)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatalf("expected error")
	}
}
