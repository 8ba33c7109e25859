package timeutil

import (
	"testing"
	"time"
)

func TestDateOfUsesOwnLocation(t *testing.T) {
	// 2021-01-01 01:00 in UTC+2 is still 2020-12-31 23:00 UTC.
	loc := FixedOffset(2)
	instant := time.Date(2021, 1, 1, 1, 0, 0, 0, loc)

	if got := DateOf(instant); got != (Date{2021, time.January, 1}) {
		t.Fatalf("DateOf in zone = %v", got)
	}
	if got := DateOf(instant.In(time.UTC)); got != (Date{2020, time.December, 31}) {
		t.Fatalf("DateOf in UTC = %v", got)
	}
}

func TestDateAddDaysNormalizes(t *testing.T) {
	cases := []struct {
		in   Date
		n    int
		want Date
	}{
		{Date{2021, time.January, 31}, 1, Date{2021, time.February, 1}},
		{Date{2020, time.December, 31}, 1, Date{2021, time.January, 1}},
		{Date{2020, time.February, 28}, 1, Date{2020, time.February, 29}}, // leap year
		{Date{2021, time.March, 1}, -1, Date{2021, time.February, 28}},
		{Date{2021, time.June, 15}, 0, Date{2021, time.June, 15}},
	}
	for _, c := range cases {
		if got := c.in.AddDays(c.n); got != c.want {
			t.Fatalf("%v.AddDays(%d) = %v, want %v", c.in, c.n, got, c.want)
		}
	}
}

func TestDateBefore(t *testing.T) {
	cases := []struct {
		a, b Date
		want bool
	}{
		{Date{2020, time.December, 31}, Date{2021, time.January, 1}, true},
		{Date{2021, time.January, 1}, Date{2021, time.February, 1}, true},
		{Date{2021, time.January, 1}, Date{2021, time.January, 2}, true},
		{Date{2021, time.January, 2}, Date{2021, time.January, 1}, false},
		{Date{2021, time.January, 1}, Date{2021, time.January, 1}, false},
	}
	for _, c := range cases {
		if got := c.a.Before(c.b); got != c.want {
			t.Fatalf("%v.Before(%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestDateString(t *testing.T) {
	d := Date{2021, time.March, 7}
	if got := d.String(); got != "2021/03/07" {
		t.Fatalf("String = %q", got)
	}
}

func TestDateAt(t *testing.T) {
	loc := FixedOffset(-5)
	got := Date{2021, time.January, 2}.At(23, 59, loc)
	want := time.Date(2021, 1, 2, 23, 59, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("At = %v, want %v", got, want)
	}
}
