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
	"io"
	"strings"
	"time"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/sparse"
)

// AdvanceClock returns a function that moves the clock one supermesh
// step forward, setting Done once the period is exhausted.
func AdvanceClock() ModelManipulator {
	return func(m *Model) error {
		tick, ok := m.Clock.Advance()
		if !ok {
			m.Done = true
			return nil
		}
		m.tick = tick
		return nil
	}
}

// StepComponents returns a function that runs, within the current tick,
// every category whose switch is true, in the fixed producers-first
// order: read the consumed transfers, run the component step, publish
// the produced transfers, and rotate the component's states.
func StepComponents() ModelManipulator {
	return func(m *Model) error {
		if m.Done {
			return nil
		}
		for _, cat := range m.order {
			if !m.tick.Run[cat] {
				continue
			}
			if err := m.stepCategory(cat); err != nil {
				return err
			}
		}
		return nil
	}
}

func (m *Model) stepCategory(cat Category) error {
	spec := m.specs[cat]
	comp := m.component(cat)

	inward := make(map[string]*sparse.DenseArray, len(spec.Consumes))
	for _, c := range spec.Consumes {
		v, err := m.Exchanger.Consume(c.Name, cat)
		if err != nil {
			return err
		}
		inward[c.Name] = v
	}

	tc := TickContext{
		Time:  m.tick.Time,
		Index: m.Clock.TimeIndex(cat),
		Step:  spec.TimeDomain.Step,
	}
	outward, err := comp.Run(tc, m.states[cat], inward)
	if err != nil {
		return fmt.Errorf("multirate: running category %s at step %d: %v", cat, tc.Index, err)
	}

	for _, p := range spec.Produces {
		v, ok := outward[p.Name]
		if !ok {
			return fmt.Errorf("multirate: category %s did not produce declared transfer %s "+
				"at step %d", cat, p.Name, tc.Index)
		}
		if err := m.Exchanger.Publish(p.Name, cat, v); err != nil {
			return err
		}
	}
	for name := range outward {
		declared := false
		for _, p := range spec.Produces {
			if p.Name == name {
				declared = true
				break
			}
		}
		if !declared {
			return fmt.Errorf("multirate: category %s produced undeclared transfer %s", cat, name)
		}
	}

	for _, s := range m.states[cat] {
		if err := s.Increment(); err != nil {
			return fmt.Errorf("multirate: category %s: %v", cat, err)
		}
	}
	return nil
}

func (m *Model) component(cat Category) Component {
	for _, c := range m.Components {
		if c.Spec().Category == cat {
			return c
		}
	}
	return nil
}

// Log returns a function that writes simulation status messages to w.
func Log(w io.Writer) ModelManipulator {
	startTime := time.Now()
	tickTime := time.Now()

	return func(m *Model) error {
		if m.Done {
			return nil
		}
		var ran []string
		for _, cat := range m.order {
			if m.tick.Run[cat] {
				ran = append(ran, string(cat))
			}
		}
		dump := " "
		if m.tick.Dump {
			dump = "*"
		}
		fmt.Fprintf(w, "Tick %-6d  walltime=%6.3gh  Δwalltime=%4.2gs  t=%s %s ran=%s\n",
			m.tick.Index, time.Since(startTime).Hours(), time.Since(tickTime).Seconds(),
			m.tick.Time.Format(time.RFC3339), dump, strings.Join(ran, ","))
		tickTime = time.Now()
		return nil
	}
}

// RunRecorder is a buffered store for per-tick run diagnostics; it is
// implemented by tracking.DataRecorder.
type RunRecorder interface {
	CreateTable(tableName string, sampleEntry any)
	InsertData(tableName string, entry any)
	Flush()
}

// TickEntry is one row of run tracking: what happened at one supermesh
// tick.
type TickEntry struct {
	Tick        int
	Time        string
	Ran         string
	Dump        bool
	WallSeconds float64
}

// TransferEntry is one row of transfer tracking: summary statistics of
// one transfer as published at one tick.
type TransferEntry struct {
	Tick   int
	Name   string
	Mean   float64
	Min    float64
	Max    float64
	StdDev float64
}

// Track returns a function that records one TickEntry per tick and one
// TransferEntry per transfer published by a category that ran in the
// tick.
func Track(rec RunRecorder) ModelManipulator {
	rec.CreateTable("ticks", TickEntry{})
	rec.CreateTable("transfers", TransferEntry{})
	tickTime := time.Now()

	return func(m *Model) error {
		if m.Done {
			rec.Flush()
			return nil
		}
		var ran []string
		for _, cat := range m.order {
			if m.tick.Run[cat] {
				ran = append(ran, string(cat))
			}
		}
		rec.InsertData("ticks", TickEntry{
			Tick:        m.tick.Index,
			Time:        m.tick.Time.Format(time.RFC3339),
			Ran:         strings.Join(ran, ","),
			Dump:        m.tick.Dump,
			WallSeconds: time.Since(tickTime).Seconds(),
		})
		tickTime = time.Now()

		for _, name := range m.Exchanger.Names() {
			spec, err := m.Exchanger.Spec(name)
			if err != nil {
				return err
			}
			if !m.tick.Run[spec.From] {
				continue
			}
			v, err := m.Exchanger.Latest(name)
			if err != nil {
				return err
			}
			var d stats.Stats
			for _, x := range v.Elements {
				d.Update(x)
			}
			rec.InsertData("transfers", TransferEntry{
				Tick:   m.tick.Index,
				Name:   name,
				Mean:   d.Mean(),
				Min:    d.Min(),
				Max:    d.Max(),
				StdDev: d.SampleStandardDeviation(),
			})
		}
		return nil
	}
}

// Resume restores the model from the checkpoint taken at instant at in
// dir (the zero time selects the latest checkpoint), positions the
// clock just after it, and runs the remainder of the period. The model
// must already be initialized. The resumed run produces bit-identical
// results to an uninterrupted one.
func (m *Model) Resume(dir string, at time.Time) error {
	restoredAt, err := RestoreDumps(dir, at)(m)
	if err != nil {
		return err
	}
	if err := m.Clock.Seek(restoredAt); err != nil {
		return err
	}
	return m.Run()
}

// SpinUp runs the whole simulation period cycles times before the
// production run, carrying states and exchanger contents across cycles.
// Checkpoints are written during each cycle as scheduled, so the last
// cycle's end state is on disk when SpinUp returns. The model must
// already be initialized.
func (m *Model) SpinUp(cycles int) error {
	for i := 0; i < cycles; i++ {
		if err := m.Run(); err != nil {
			return fmt.Errorf("multirate: spin-up cycle %d: %v", i+1, err)
		}
		m.Clock.Reset()
		m.Done = false
	}
	return nil
}
