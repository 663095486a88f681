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

	"github.com/ctessum/sparse"
)

// ProducedTransfer declares one transfer a component publishes at the
// end of each of its steps.
type ProducedTransfer struct {
	Name   string
	Method AggregationMethod
	Units  string
}

// ConsumedTransfer declares one transfer a component reads at the start
// of each of its steps, with the units it expects the values in.
type ConsumedTransfer struct {
	Name  string
	Units string
}

// StateSpec declares one state variable a component keeps, with its
// units as recorded in checkpoint dumps.
type StateSpec struct {
	Name  string
	Units string
}

// ComponentSpec describes a component's place in the coupling: its
// category, when and where it computes, how much solver history its
// numerical scheme needs, and the transfers it exchanges.
type ComponentSpec struct {
	Category      Category
	TimeDomain    *TimeDomain
	SpaceDomain   *SpaceDomain
	SolverHistory int
	States        []StateSpec
	Produces      []ProducedTransfer
	Consumes      []ConsumedTransfer
}

// TickContext carries the temporal position of one component step: the
// instant the step starts at, the category step index, and the category
// step duration.
type TickContext struct {
	Time  time.Time
	Index int
	Step  time.Duration
}

// Component is one independently time-stepped simulation model driven by
// the coupler. The physics inside Run is outside the coupler's scope;
// the coupler guarantees that inward always holds values aligned to this
// component's rate and that states have been rotated exactly once per
// previous step.
type Component interface {
	Spec() ComponentSpec

	// Initialise sets the component's initial conditions into states.
	Initialise(states map[string]*State) error

	// Run performs one component step. The step writes its results into
	// index 0 of its states and returns one array per produced transfer.
	Run(tc TickContext, states map[string]*State, inward map[string]*sparse.DenseArray) (map[string]*sparse.DenseArray, error)

	// Finalise ends the component's lifecycle after the last step.
	Finalise(states map[string]*State) error
}

// NullComponent is a substitute component standing in for a missing
// model: it publishes the zero element for each of its declared
// transfers on every step.
type NullComponent struct {
	ComponentSpec
}

// Spec implements the Component interface.
func (c *NullComponent) Spec() ComponentSpec { return c.ComponentSpec }

// Initialise implements the Component interface; a NullComponent keeps
// no state.
func (c *NullComponent) Initialise(states map[string]*State) error { return nil }

// Run implements the Component interface, producing zeros.
func (c *NullComponent) Run(tc TickContext, states map[string]*State, inward map[string]*sparse.DenseArray) (map[string]*sparse.DenseArray, error) {
	out := make(map[string]*sparse.DenseArray, len(c.Produces))
	for _, p := range c.Produces {
		out[p.Name] = sparse.ZerosDense(c.SpaceDomain.Shape()...)
	}
	return out, nil
}

// Finalise implements the Component interface.
func (c *NullComponent) Finalise(states map[string]*State) error { return nil }

// DataComponent is a substitute component that replays recorded data:
// for each of its declared transfers it holds one array per component
// step and publishes the array matching the current step index.
type DataComponent struct {
	ComponentSpec

	// Data maps transfer name to an array whose leading dimension is the
	// component step index.
	Data map[string]*sparse.DenseArray
}

// Spec implements the Component interface.
func (c *DataComponent) Spec() ComponentSpec { return c.ComponentSpec }

// Initialise implements the Component interface. It verifies that every
// produced transfer has a replay series covering the whole time domain.
func (c *DataComponent) Initialise(states map[string]*State) error {
	for _, p := range c.Produces {
		d, ok := c.Data[p.Name]
		if !ok {
			return fmt.Errorf("multirate: data component %s has no replay data for "+
				"transfer %s", c.Category, p.Name)
		}
		if d.Shape[0] < c.TimeDomain.N {
			return fmt.Errorf("multirate: data component %s replay data for transfer %s "+
				"covers %d steps; the time domain has %d", c.Category, p.Name,
				d.Shape[0], c.TimeDomain.N)
		}
	}
	return nil
}

// Run implements the Component interface, replaying the recorded arrays
// for the current step.
func (c *DataComponent) Run(tc TickContext, states map[string]*State, inward map[string]*sparse.DenseArray) (map[string]*sparse.DenseArray, error) {
	out := make(map[string]*sparse.DenseArray, len(c.Produces))
	for _, p := range c.Produces {
		d := c.Data[p.Name]
		start := make([]int, len(d.Shape))
		end := make([]int, len(d.Shape))
		start[0], end[0] = tc.Index, tc.Index
		for i, n := range d.Shape[1:] {
			end[i+1] = n - 1
		}
		sub := d.Subset(start, end)
		out[p.Name] = sparse.ZerosDense(d.Shape[1:]...)
		copy(out[p.Name].Elements, sub.Elements)
	}
	return out, nil
}

// Finalise implements the Component interface.
func (c *DataComponent) Finalise(states map[string]*State) error { return nil }
