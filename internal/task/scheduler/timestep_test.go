package scheduler

import (
	"testing"
	"time"
)

func TestStepsUntil(t *testing.T) {
	t.Parallel()

	at := func(y int, mo time.Month, d, h, m, s int) time.Time {
		return time.Date(y, mo, d, h, m, s, 0, time.UTC)
	}
	cases := []struct {
		name         string
		hour, minute int
		now          time.Time
		step         time.Duration
		want         int
	}{
		{"same day", 14, 30, at(2026, 5, 4, 14, 0, 0), time.Minute, 30},
		{"rolls to tomorrow", 14, 30, at(2026, 5, 4, 15, 0, 0), time.Minute, 1410},
		{"equal minute rolls", 14, 30, at(2026, 5, 4, 14, 30, 0), time.Minute, 1440},
		{"half rounds to even up", 14, 30, at(2026, 5, 4, 14, 0, 30), time.Minute, 30},
		{"half rounds to even down", 14, 30, at(2026, 5, 4, 14, 1, 30), time.Minute, 28},
		{"month rollover", 0, 10, at(2026, 1, 31, 23, 50, 0), time.Minute, 20},
		{"year rollover", 0, 0, at(2026, 12, 31, 23, 58, 0), time.Minute, 2},
		{"second steps", 14, 30, at(2026, 5, 4, 14, 0, 0), time.Second, 1800},
		{"default step", 14, 30, at(2026, 5, 4, 14, 0, 0), 0, 30},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := StepsUntil(tc.hour, tc.minute, tc.now, tc.step); got != tc.want {
				t.Fatalf("StepsUntil(%02d:%02d, %s) = %d, want %d", tc.hour, tc.minute, tc.now.Format(time.RFC3339), got, tc.want)
			}
		})
	}
}

func TestStepsUntilRoundTrip(t *testing.T) {
	t.Parallel()

	step := time.Minute
	now := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	got := time.Duration(StepsUntil(14, 30, now, step)) * step
	if diff := got - 30*time.Minute; diff > step || diff < -step {
		t.Fatalf("14:30 from 14:00 converts back to %v", got)
	}

	now = time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)
	got = time.Duration(StepsUntil(14, 30, now, step)) * step
	if diff := got - (24*time.Hour - 30*time.Minute); diff > step || diff < -step {
		t.Fatalf("14:30 from 15:00 converts back to %v", got)
	}
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		hour, minute int
		now, want    time.Time
	}{
		{
			"later today",
			9, 15,
			time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC),
		},
		{
			"end of month",
			1, 0,
			time.Date(2026, 4, 30, 22, 0, 0, 0, time.UTC),
			time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC),
		},
		{
			"leap day",
			6, 0,
			time.Date(2028, 2, 28, 7, 0, 0, 0, time.UTC),
			time.Date(2028, 2, 29, 6, 0, 0, 0, time.UTC),
		},
		{
			"non leap february",
			6, 0,
			time.Date(2026, 2, 28, 7, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			"new year",
			0, 0,
			time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
			time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"seconds past the target minute",
			12, 0,
			time.Date(2026, 7, 1, 12, 0, 45, 0, time.UTC),
			time.Date(2026, 7, 2, 12, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NextOccurrence(tc.hour, tc.minute, tc.now); !got.Equal(tc.want) {
				t.Fatalf("NextOccurrence = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestNextRuns(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)

	got := NextRuns(EveryN(2), time.Minute, time.UTC, from, 3)
	want := []time.Time{from.Add(2 * time.Minute), from.Add(4 * time.Minute), from.Add(6 * time.Minute)}
	if len(got) != len(want) {
		t.Fatalf("every: got %v", got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("every[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	got = NextRuns(AtClock(9, 0), time.Minute, time.UTC, from, 3)
	days := []int{31, 1, 2}
	for i, d := range days {
		if got[i].Day() != d || got[i].Hour() != 9 {
			t.Fatalf("clock[%d] = %s", i, got[i])
		}
	}

	if got := NextRuns(Never(), time.Minute, time.UTC, from, 3); got != nil {
		t.Fatalf("never: got %v", got)
	}
}

func TestModeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ts   TimeSpec
		is   IdleSpec
		want string
	}{
		{EveryStep(), DontCare(), "periodic"},
		{EveryN(4), AfterSteps(2), "periodic"},
		{AtClock(6, 0), Immediate(), "clock"},
		{Never(), AfterSteps(3), "idle_wait"},
		{Never(), Immediate(), "none"},
		{Never(), DontCare(), "none"},
	}
	for _, tc := range tests {
		if got := ModeOf(tc.ts, tc.is).String(); got != tc.want {
			t.Errorf("ModeOf(%s, %s) = %s, want %s", tc.ts, tc.is, got, tc.want)
		}
	}
}

func TestNextOccurrenceAcrossDST(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	utc := func(mo time.Month, d, h, m int) time.Time {
		return time.Date(2026, mo, d, h, m, 0, 0, time.UTC)
	}
	cases := []struct {
		name         string
		hour, minute int
		now, want    time.Time
		steps        int
	}{
		// 2026-11-01 01:00-01:59 happens twice: EDT (UTC-4), then EST (UTC-5).
		{"repeated hour, second copy", 1, 30, utc(11, 1, 6, 10), utc(11, 1, 6, 30), 20},
		{"repeated hour, first copy", 1, 30, utc(11, 1, 5, 10), utc(11, 1, 5, 30), 20},
		{"after first copy the later copy is next", 1, 30, utc(11, 1, 5, 30), utc(11, 1, 6, 30), 60},
		{"25h day", 2, 0, utc(10, 31, 6, 30), utc(11, 1, 7, 0), 1470},
		// 2026-03-08 02:00-02:59 does not exist.
		{"skipped hour moves to next day", 2, 30, utc(3, 8, 6, 0), utc(3, 9, 6, 30), 1470},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			now := tc.now.In(ny)
			if got := NextOccurrence(tc.hour, tc.minute, now); !got.Equal(tc.want) {
				t.Fatalf("NextOccurrence(%02d:%02d, %s) = %s, want %s", tc.hour, tc.minute, now, got, tc.want.In(ny))
			}
			if got := StepsUntil(tc.hour, tc.minute, now, time.Minute); got != tc.steps {
				t.Fatalf("StepsUntil = %d, want %d", got, tc.steps)
			}
		})
	}
}

func TestNextOccurrenceInvalidClock(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	if got := NextOccurrence(24, 0, now); !got.IsZero() {
		t.Fatalf("NextOccurrence(24:00) = %s, want zero", got)
	}
	if got := StepsUntil(24, 0, now, time.Minute); got != 0 {
		t.Fatalf("StepsUntil(24:00) = %d, want 0", got)
	}
}
