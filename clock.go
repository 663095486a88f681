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
	"fmt"
	"time"
)

// Clock is the single source of truth for when each category runs and
// when a checkpoint is due. It discretizes the shared simulation period
// onto a supermesh, the finest common time grid across the categories,
// and yields one Tick per supermesh step.
type Clock struct {
	categories  []Category
	timedomains map[Category]*TimeDomain

	timestep time.Duration // supermesh step
	length   int           // number of supermesh steps in the period

	increments map[Category]int
	switches   map[Category][]bool
	dumpSwitch []bool

	// minDumpDelta is the least common multiple of the category steps,
	// the smallest legal dumping frequency.
	minDumpDelta time.Duration

	cursor      int
	currentTime time.Time
}

// Tick reports, for one supermesh step, which categories complete a step
// and whether a checkpoint is due.
type Tick struct {
	Index int
	Time  time.Time
	Run   map[Category]bool
	Dump  bool
}

// NewClock builds the supermesh from the given time domains. The order
// slice fixes the declared category order for the run. Every category
// step duration must be an exact multiple of the smallest one, and all
// categories must cover the same absolute period.
func NewClock(order []Category, timedomains map[Category]*TimeDomain) (*Clock, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("multirate: clock needs at least one category")
	}
	for _, cat := range order {
		if _, ok := timedomains[cat]; !ok {
			return nil, fmt.Errorf("multirate: category %s has no time domain", cat)
		}
	}

	ref := timedomains[order[0]]
	supermesh := ref.Step
	for _, cat := range order {
		td := timedomains[cat]
		if td.Step <= 0 {
			return nil, fmt.Errorf("multirate: category %s step %v is not positive", cat, td.Step)
		}
		if !td.spansSamePeriodAs(ref) {
			return nil, fmt.Errorf("multirate: category %s period %v–%v does not match "+
				"category %s period %v–%v", cat, td.Start, td.End(),
				order[0], ref.Start, ref.End())
		}
		if td.Step < supermesh {
			supermesh = td.Step
		}
	}

	length := int(ref.Period() / supermesh)

	c := &Clock{
		categories:  append([]Category(nil), order...),
		timedomains: timedomains,
		timestep:    supermesh,
		length:      length,
		increments:  make(map[Category]int),
		switches:    make(map[Category][]bool),
		dumpSwitch:  make([]bool, length),
		cursor:      -1,
		currentTime: ref.Start.Add(-supermesh),
	}

	for _, cat := range order {
		step := timedomains[cat].Step
		if step%supermesh != 0 {
			return nil, fmt.Errorf("multirate: timestep of %s category (%v) is not a "+
				"multiple integer of the timestep of the fastest category (%v)",
				cat, step, supermesh)
		}
		incr := int(step / supermesh)
		c.increments[cat] = incr
		sw := make([]bool, length)
		for i := incr - 1; i < length; i += incr {
			sw[i] = true
		}
		c.switches[cat] = sw
	}

	c.minDumpDelta = c.timedomains[order[0]].Step
	for _, cat := range order[1:] {
		c.minDumpDelta = lcmDuration(c.minDumpDelta, c.timedomains[cat].Step)
	}

	// As a minimum requirement, one dump for the initial conditions.
	c.dumpSwitch[0] = true

	return c, nil
}

// SetDumpingFrequency schedules a checkpoint every freq of simulated
// time. The frequency must be a positive multiple of the least common
// multiple of all category step durations so that every category is at a
// step boundary whenever a dump is taken.
func (c *Clock) SetDumpingFrequency(freq time.Duration) error {
	if freq <= 0 || freq%c.minDumpDelta != 0 {
		return fmt.Errorf("multirate: dumping frequency (%v) is not a multiple integer "+
			"of the smallest common multiple across category timesteps (%v)",
			freq, c.minDumpDelta)
	}
	incr := int(freq / c.timestep)
	for i := incr - 1; i < c.length; i += incr {
		c.dumpSwitch[i] = true
	}
	return nil
}

// Advance moves the clock one supermesh step forward. It returns the
// resulting tick and true, or a zero tick and false once the period is
// exhausted.
func (c *Clock) Advance() (Tick, bool) {
	if c.cursor >= c.length-1 {
		return Tick{}, false
	}
	c.cursor++
	c.currentTime = c.currentTime.Add(c.timestep)

	run := make(map[Category]bool, len(c.categories))
	for _, cat := range c.categories {
		run[cat] = c.switches[cat][c.cursor]
	}
	return Tick{
		Index: c.cursor,
		Time:  c.currentTime,
		Run:   run,
		Dump:  c.dumpSwitch[c.cursor],
	}, true
}

// TimeIndex returns the current step index of the given category. When
// read only on ticks where the category's switch is true it yields
// consecutive integers 0, 1, 2, … once per category step.
func (c *Clock) TimeIndex(cat Category) int {
	return c.cursor / c.increments[cat]
}

// Increment returns the number of supermesh steps per step of the given
// category.
func (c *Clock) Increment(cat Category) int {
	return c.increments[cat]
}

// Categories returns the categories in their fixed declared order.
func (c *Clock) Categories() []Category {
	return append([]Category(nil), c.categories...)
}

// TimeDomain returns the time domain of the given category.
func (c *Clock) TimeDomain(cat Category) *TimeDomain {
	return c.timedomains[cat]
}

// Timestep returns the supermesh step duration.
func (c *Clock) Timestep() time.Duration {
	return c.timestep
}

// Length returns the number of supermesh steps in the period.
func (c *Clock) Length() int {
	return c.length
}

// CurrentTime returns the instant corresponding to the current cursor
// position.
func (c *Clock) CurrentTime() time.Time {
	return c.currentTime
}

// Start returns the beginning of the shared simulation period.
func (c *Clock) Start() time.Time {
	return c.timedomains[c.categories[0]].Start
}

// Seek positions the clock at instant t, so that the next Advance yields
// the tick immediately following t. The instant must lie exactly on the
// supermesh grid; used when resuming from a checkpoint taken at t.
func (c *Clock) Seek(t time.Time) error {
	offset := t.Sub(c.Start())
	if offset < 0 || offset%c.timestep != 0 || offset > time.Duration(c.length)*c.timestep {
		return fmt.Errorf("multirate: seek target %v is not on the supermesh grid "+
			"starting %v with step %v", t, c.Start(), c.timestep)
	}
	c.cursor = int(offset / c.timestep)
	c.currentTime = t
	return nil
}

// Reset rewinds the clock to its pre-run position, one supermesh step
// before the first tick. Schedules are unchanged.
func (c *Clock) Reset() {
	c.cursor = -1
	c.currentTime = c.Start().Add(-c.timestep)
}

func gcdDuration(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcmDuration(a, b time.Duration) time.Duration {
	return a / gcdDuration(a, b) * b
}
