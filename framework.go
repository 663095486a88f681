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
	"os"
	"time"
)

// Config holds the numeric settings threaded through model construction
// instead of living in process-wide state.
type Config struct {
	// Tolerance is the relative tolerance used for floating-point
	// comparisons during setup (domain bounds, units scales, time
	// coordinate spacing).
	Tolerance float64
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{Tolerance: 1.e-9}
}

// ModelManipulator is a function that operates on a Model; the model's
// initialization, main loop, and cleanup are each a chain of them.
type ModelManipulator func(m *Model) error

// Model holds a set of coupled components and the machinery driving
// them: the Clock, the Exchanger, and one State per component state
// variable. The simulation is advanced by running the RunFuncs chain
// until Done is set.
type Model struct {
	// Identifier prefixes the names of the files the model creates.
	Identifier string

	Config Config

	// Components, in declared order. Within one tick the declared order
	// is refined so producers run before their consumers.
	Components []Component

	// InitFuncs are the functions for initializing the model.
	InitFuncs []ModelManipulator

	// RunFuncs are the functions to run in each iteration of the
	// simulation.
	RunFuncs []ModelManipulator

	// CleanupFuncs are the functions to run after the simulation is
	// finished.
	CleanupFuncs []ModelManipulator

	// Done specifies whether the simulation is finished.
	Done bool

	Clock     *Clock
	Exchanger *Exchanger

	specs  map[Category]ComponentSpec
	states map[Category]map[string]*State
	order  []Category // run order within one tick
	tick   Tick
}

// NewModel creates a model with the default function chains: verify the
// domains, build the clock and exchanger, initialise components and
// dump files; then on each tick advance the clock, step the due
// components, and checkpoint when flagged; finally dump the end state
// and finalise. dumpFreq is the checkpoint frequency (zero keeps only
// the initial-conditions checkpoint). Callers needing different
// behavior assemble the chains themselves.
func NewModel(identifier string, config Config, dumpDir string, dumpFreq time.Duration, components ...Component) *Model {
	m := &Model{
		Identifier: identifier,
		Config:     config,
		Components: components,
	}
	m.InitFuncs = []ModelManipulator{
		VerifyDomains(),
		BuildClock(),
	}
	if dumpFreq > 0 {
		m.InitFuncs = append(m.InitFuncs, SetDumpingFrequency(dumpFreq))
	}
	m.InitFuncs = append(m.InitFuncs,
		BuildExchanger(),
		InitComponents(),
		CreateDumps(dumpDir),
	)
	m.RunFuncs = []ModelManipulator{
		AdvanceClock(),
		StepComponents(),
		Checkpoint(dumpDir),
		Log(os.Stdout),
	}
	m.CleanupFuncs = []ModelManipulator{
		FinalDump(dumpDir),
		FinaliseComponents(),
	}
	return m
}

// Init initializes the model by running the InitFuncs.
func (m *Model) Init() error {
	for _, f := range m.InitFuncs {
		if err := f(m); err != nil {
			return err
		}
	}
	return nil
}

// Run carries out the simulation by running the RunFuncs until Done is
// true.
func (m *Model) Run() error {
	for !m.Done {
		for _, f := range m.RunFuncs {
			if err := f(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cleanup finishes the simulation by running the CleanupFuncs.
func (m *Model) Cleanup() error {
	for _, f := range m.CleanupFuncs {
		if err := f(m); err != nil {
			return err
		}
	}
	return nil
}

// Categories returns the declared category order of the model's
// components.
func (m *Model) Categories() []Category {
	cats := make([]Category, len(m.Components))
	for i, c := range m.Components {
		cats[i] = c.Spec().Category
	}
	return cats
}

// States returns the state buffers of the given category, keyed by
// state name.
func (m *Model) States(cat Category) map[string]*State {
	return m.states[cat]
}

// CurrentTick returns the most recent tick yielded by the clock.
func (m *Model) CurrentTick() Tick {
	return m.tick
}

// VerifyDomains returns a function that checks, before any tick runs,
// that all components declare the same simulation period and compatible
// spatial grids, and that no category is declared twice.
func VerifyDomains() ModelManipulator {
	return func(m *Model) error {
		if len(m.Components) == 0 {
			return fmt.Errorf("multirate: model %s has no components", m.Identifier)
		}
		m.specs = make(map[Category]ComponentSpec, len(m.Components))
		ref := m.Components[0].Spec()
		for _, c := range m.Components {
			spec := c.Spec()
			if _, ok := m.specs[spec.Category]; ok {
				return fmt.Errorf("multirate: category %s declared by more than one component",
					spec.Category)
			}
			m.specs[spec.Category] = spec
			if spec.TimeDomain == nil || spec.SpaceDomain == nil {
				return fmt.Errorf("multirate: category %s is missing a time or space domain",
					spec.Category)
			}
			if !spec.TimeDomain.spansSamePeriodAs(ref.TimeDomain) {
				return fmt.Errorf("multirate: category %s period %v–%v does not match "+
					"category %s period %v–%v", spec.Category, spec.TimeDomain.Start,
					spec.TimeDomain.End(), ref.Category, ref.TimeDomain.Start, ref.TimeDomain.End())
			}
			if err := spec.SpaceDomain.Compatible(ref.SpaceDomain, m.Config.Tolerance); err != nil {
				return fmt.Errorf("multirate: categories %s and %s: %v",
					spec.Category, ref.Category, err)
			}
		}
		return nil
	}
}

// BuildClock returns a function that builds the model's Clock from the
// component time domains.
func BuildClock() ModelManipulator {
	return func(m *Model) error {
		timedomains := make(map[Category]*TimeDomain, len(m.specs))
		for cat, spec := range m.specs {
			timedomains[cat] = spec.TimeDomain
		}
		clock, err := NewClock(m.Categories(), timedomains)
		if err != nil {
			return err
		}
		m.Clock = clock
		return nil
	}
}

// SetDumpingFrequency returns a function that schedules a checkpoint
// every freq of simulated time.
func SetDumpingFrequency(freq time.Duration) ModelManipulator {
	return func(m *Model) error {
		return m.Clock.SetDumpingFrequency(freq)
	}
}

// BuildExchanger returns a function that assembles the transfer table
// from the component declarations: each produced transfer is registered
// with the set of categories consuming it, consumer units are checked
// against producer units, and the per-tick run order is fixed with
// producers before consumers.
func BuildExchanger() ModelManipulator {
	return func(m *Model) error {
		producer := make(map[string]Category)
		var specs []TransferSpec
		for _, cat := range m.Categories() {
			spec := m.specs[cat]
			for _, p := range spec.Produces {
				if prev, ok := producer[p.Name]; ok {
					return fmt.Errorf("multirate: transfer %s produced by both %s and %s",
						p.Name, prev, cat)
				}
				producer[p.Name] = cat
				specs = append(specs, TransferSpec{
					Name:   p.Name,
					From:   cat,
					Method: p.Method,
					Units:  p.Units,
					Shape:  spec.SpaceDomain.Shape(),
				})
			}
		}
		for _, cat := range m.Categories() {
			for _, c := range m.specs[cat].Consumes {
				if _, ok := producer[c.Name]; !ok {
					return fmt.Errorf("multirate: category %s consumes transfer %s, "+
						"which no component produces", cat, c.Name)
				}
				for i := range specs {
					if specs[i].Name != c.Name {
						continue
					}
					if err := CheckUnitsMatch(c.Name, specs[i].Units, c.Units, m.Config.Tolerance); err != nil {
						return err
					}
					specs[i].To = append(specs[i].To, cat)
				}
			}
		}

		e, err := NewExchanger(m.Clock, specs...)
		if err != nil {
			return err
		}
		order, err := e.RunOrder(m.Categories())
		if err != nil {
			return err
		}
		m.Exchanger = e
		m.order = order
		return nil
	}
}

// InitComponents returns a function that allocates the state buffers
// for every component and sets each component's initial conditions.
func InitComponents() ModelManipulator {
	return func(m *Model) error {
		m.states = make(map[Category]map[string]*State, len(m.Components))
		for _, c := range m.Components {
			spec := c.Spec()
			states := make(map[string]*State, len(spec.States))
			for _, s := range spec.States {
				states[s.Name] = NewState(spec.SolverHistory, spec.SpaceDomain.Shape()...)
			}
			m.states[spec.Category] = states
			if err := c.Initialise(states); err != nil {
				return fmt.Errorf("multirate: initialising category %s: %v", spec.Category, err)
			}
		}
		return nil
	}
}

// FinaliseComponents returns a function that ends every component's
// lifecycle and freezes its states against further mutation.
func FinaliseComponents() ModelManipulator {
	return func(m *Model) error {
		for _, c := range m.Components {
			spec := c.Spec()
			if err := c.Finalise(m.states[spec.Category]); err != nil {
				return fmt.Errorf("multirate: finalising category %s: %v", spec.Category, err)
			}
			for _, s := range m.states[spec.Category] {
				s.Finalise()
			}
		}
		return nil
	}
}
