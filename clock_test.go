/*
Copyright © 2026 the Multirate authors.
This file is part of Multirate.

Multirate is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Multirate is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Multirate.  If not, see <http://www.gnu.org/licenses/>.
*/

package multirate

import (
	"testing"
	"time"
)

var testStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// testClock builds a clock over a 12-hour period with category steps of
// 1, 2, and 3 hours, so the supermesh step is 1 hour.
func testClock(t *testing.T) *Clock {
	t.Helper()
	tds := map[Category]*TimeDomain{
		"fast":   {Start: testStart, Step: time.Hour, N: 12},
		"medium": {Start: testStart, Step: 2 * time.Hour, N: 6},
		"slow":   {Start: testStart, Step: 3 * time.Hour, N: 4},
	}
	c, err := NewClock([]Category{"fast", "medium", "slow"}, tds)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClockSchedule(t *testing.T) {
	c := testClock(t)

	if c.Timestep() != time.Hour {
		t.Errorf("supermesh step: want %v, have %v", time.Hour, c.Timestep())
	}
	if c.Length() != 12 {
		t.Errorf("length: want 12, have %d", c.Length())
	}

	// Category c with increment k runs on ticks where (i+1) mod k == 0.
	wantRun := map[Category][]int{
		"fast":   {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
		"medium": {1, 3, 5, 7, 9, 11},
		"slow":   {2, 5, 8, 11},
	}
	ran := map[Category][]int{}
	var ticks []Tick
	for {
		tick, ok := c.Advance()
		if !ok {
			break
		}
		ticks = append(ticks, tick)
		for cat, run := range tick.Run {
			if run {
				ran[cat] = append(ran[cat], tick.Index)
			}
		}
	}
	if len(ticks) != 12 {
		t.Fatalf("tick count: want 12, have %d", len(ticks))
	}
	for cat, want := range wantRun {
		have := ran[cat]
		if len(have) != len(want) {
			t.Fatalf("category %s ran on ticks %v; want %v", cat, have, want)
		}
		for i := range want {
			if have[i] != want[i] {
				t.Errorf("category %s ran on ticks %v; want %v", cat, have, want)
				break
			}
		}
	}

	for i, tick := range ticks {
		if tick.Index != i {
			t.Errorf("tick %d has index %d", i, tick.Index)
		}
		want := testStart.Add(time.Duration(i) * time.Hour)
		if !tick.Time.Equal(want) {
			t.Errorf("tick %d time: want %v, have %v", i, want, tick.Time)
		}
	}

	// After exhaustion the clock keeps reporting false.
	if _, ok := c.Advance(); ok {
		t.Error("clock advanced past the end of the period")
	}
}

func TestClockTimeIndex(t *testing.T) {
	c := testClock(t)
	var slowIndices []int
	for {
		tick, ok := c.Advance()
		if !ok {
			break
		}
		if tick.Run["slow"] {
			slowIndices = append(slowIndices, c.TimeIndex("slow"))
		}
	}
	want := []int{0, 1, 2, 3}
	if len(slowIndices) != len(want) {
		t.Fatalf("slow indices: want %v, have %v", want, slowIndices)
	}
	for i := range want {
		if slowIndices[i] != want[i] {
			t.Errorf("slow indices: want %v, have %v", want, slowIndices)
			break
		}
	}
}

func TestClockNonIntegerStep(t *testing.T) {
	tds := map[Category]*TimeDomain{
		"fast": {Start: testStart, Step: 2 * time.Hour, N: 6},
		"slow": {Start: testStart, Step: 3 * time.Hour, N: 4},
	}
	// 3h is not a multiple of the fastest step 2h.
	if _, err := NewClock([]Category{"fast", "slow"}, tds); err == nil {
		t.Error("expected an error for non-multiple category steps")
	}
}

func TestClockPeriodMismatch(t *testing.T) {
	tds := map[Category]*TimeDomain{
		"fast": {Start: testStart, Step: time.Hour, N: 12},
		"slow": {Start: testStart, Step: 2 * time.Hour, N: 5},
	}
	if _, err := NewClock([]Category{"fast", "slow"}, tds); err == nil {
		t.Error("expected an error for mismatched periods")
	}
}

func TestClockDumpingFrequency(t *testing.T) {
	c := testClock(t)

	// lcm(1h, 2h, 3h) = 6h; anything that is not a multiple of it would
	// catch some category mid-step.
	for _, freq := range []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour, 4 * time.Hour, 0} {
		if err := c.SetDumpingFrequency(freq); err == nil {
			t.Errorf("dumping frequency %v: expected an error", freq)
		}
	}

	if err := c.SetDumpingFrequency(6 * time.Hour); err != nil {
		t.Fatal(err)
	}
	var dumps []int
	for {
		tick, ok := c.Advance()
		if !ok {
			break
		}
		if tick.Dump {
			dumps = append(dumps, tick.Index)
		}
	}
	// Tick 0 always dumps the initial conditions.
	want := []int{0, 5, 11}
	if len(dumps) != len(want) {
		t.Fatalf("dump ticks: want %v, have %v", want, dumps)
	}
	for i := range want {
		if dumps[i] != want[i] {
			t.Errorf("dump ticks: want %v, have %v", want, dumps)
			break
		}
	}
}

func TestClockSeek(t *testing.T) {
	c := testClock(t)

	if err := c.Seek(testStart.Add(5 * time.Hour)); err != nil {
		t.Fatal(err)
	}
	tick, ok := c.Advance()
	if !ok {
		t.Fatal("clock exhausted after seek")
	}
	if tick.Index != 6 {
		t.Errorf("tick after seek: want index 6, have %d", tick.Index)
	}
	if !tick.Time.Equal(testStart.Add(6 * time.Hour)) {
		t.Errorf("tick after seek: want time %v, have %v",
			testStart.Add(6*time.Hour), tick.Time)
	}

	// Seeking to the period end leaves nothing to run.
	if err := c.Seek(testStart.Add(12 * time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Advance(); ok {
		t.Error("clock advanced after seeking to the period end")
	}

	for _, bad := range []time.Duration{-time.Hour, 30 * time.Minute, 13 * time.Hour} {
		if err := c.Seek(testStart.Add(bad)); err == nil {
			t.Errorf("seek to start%+v: expected an error", bad)
		}
	}
}

func TestClockReset(t *testing.T) {
	c := testClock(t)
	for i := 0; i < 5; i++ {
		c.Advance()
	}
	c.Reset()
	tick, ok := c.Advance()
	if !ok || tick.Index != 0 || !tick.Time.Equal(testStart) {
		t.Errorf("tick after reset: want index 0 at %v, have index %d at %v",
			testStart, tick.Index, tick.Time)
	}
}
