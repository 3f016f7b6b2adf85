package schedule

import (
	"testing"
	"time"
)

func at(day, hour, minute int) time.Time {
	// Сентябрь 2025: 1-е — понедельник.
	return time.Date(2025, 9, day, hour, minute, 0, 0, time.UTC)
}

func TestParseAndMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		expr  string
		match []time.Time
		skip  []time.Time
	}{
		{
			name:  "every six hours",
			expr:  "0 */6 * * *",
			match: []time.Time{at(1, 0, 0), at(1, 6, 0), at(1, 18, 0)},
			skip:  []time.Time{at(1, 3, 0), at(1, 6, 1)},
		},
		{
			name:  "fixed time",
			expr:  "30 2 * * *",
			match: []time.Time{at(5, 2, 30)},
			skip:  []time.Time{at(5, 2, 29), at(5, 3, 30)},
		},
		{
			name:  "minute list and range",
			expr:  "0,15,30-35 12 * * *",
			match: []time.Time{at(2, 12, 0), at(2, 12, 15), at(2, 12, 33)},
			skip:  []time.Time{at(2, 12, 40)},
		},
		{
			name: "weekday only",
			expr: "0 9 * * 1",
			// 1 и 8 сентября 2025 — понедельники.
			match: []time.Time{at(1, 9, 0), at(8, 9, 0)},
			skip:  []time.Time{at(2, 9, 0)},
		},
		{
			name:  "sunday as seven",
			expr:  "0 9 * * 7",
			match: []time.Time{at(7, 9, 0)},
			skip:  []time.Time{at(8, 9, 0)},
		},
		{
			name: "dom or dow when both set",
			expr: "0 0 15 * 1",
			// 15-е (понедельник тоже подходит отдельно): классическая cron-семантика ИЛИ.
			match: []time.Time{at(15, 0, 0), at(8, 0, 0)},
			skip:  []time.Time{at(16, 0, 0)},
		},
		{
			name:  "month restriction",
			expr:  "0 0 1 9 *",
			match: []time.Time{at(1, 0, 0)},
			skip:  []time.Time{time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			expr, err := Parse(tc.expr)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.expr, err)
			}
			for _, ts := range tc.match {
				if !expr.Matches(ts) {
					t.Errorf("%q must match %s", tc.expr, ts)
				}
			}
			for _, ts := range tc.skip {
				if expr.Matches(ts) {
					t.Errorf("%q must not match %s", tc.expr, ts)
				}
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		"",
		"0 0 * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"*/0 * * * *",
		"a * * * *",
		"5-1 * * * *",
	} {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) must fail", expr)
		}
	}
}
