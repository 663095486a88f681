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

	"github.com/ctessum/sparse"
)

type stateStatus int

const (
	stateUninitialised stateStatus = iota
	stateInitialised
	stateRunning
	stateFinalised
)

// State stores the values of one component state variable for several
// consecutive time steps. Index 0 is the current step, -1 the previous
// one, down to -(depth-1) for the oldest retained step, where
// depth = solver history + 1. It is implemented as a fixed-capacity ring
// with a single rotation pointer, so Increment moves no array contents
// and allocates nothing.
type State struct {
	slices []*sparse.DenseArray
	head   int // ring position of index 0
	status stateStatus
}

// NewState creates a state retaining solverHistory previous steps of
// arrays with the given shape, all initialised to zero.
func NewState(solverHistory int, shape ...int) *State {
	depth := solverHistory + 1
	s := &State{
		slices: make([]*sparse.DenseArray, depth),
		head:   depth - 1,
	}
	for i := range s.slices {
		s.slices[i] = sparse.ZerosDense(shape...)
	}
	return s
}

// Depth returns the number of retained time steps, solver history + 1.
func (s *State) Depth() int {
	return len(s.slices)
}

func (s *State) pos(index int) (int, error) {
	if index > 0 || index <= -len(s.slices) {
		return 0, fmt.Errorf("multirate: state index %d outside [%d, 0]",
			index, -(len(s.slices) - 1))
	}
	return (s.head + index + len(s.slices)) % len(s.slices), nil
}

// Get returns the array at the given index: 0 for the current step, -1
// for the previous one, and so on. The returned array is a view; step
// functions write their results directly into Get(0).
func (s *State) Get(index int) (*sparse.DenseArray, error) {
	p, err := s.pos(index)
	if err != nil {
		return nil, err
	}
	return s.slices[p], nil
}

// Set copies v into the array at the given index. The first Set marks
// the state as initialised.
func (s *State) Set(index int, v *sparse.DenseArray) error {
	if s.status == stateFinalised {
		return fmt.Errorf("multirate: state mutated after finalisation")
	}
	p, err := s.pos(index)
	if err != nil {
		return err
	}
	copy(s.slices[p].Elements, v.Elements)
	if s.status == stateUninitialised {
		s.status = stateInitialised
	}
	return nil
}

// Increment rotates the ring once per component step, after the step
// function has written into index 0: the current value becomes index -1,
// the oldest retained value is discarded, and the new index 0 is zeroed
// for the next step to overwrite.
func (s *State) Increment() error {
	switch s.status {
	case stateUninitialised:
		return fmt.Errorf("multirate: state incremented before initial conditions were set")
	case stateFinalised:
		return fmt.Errorf("multirate: state mutated after finalisation")
	}
	s.status = stateRunning
	s.head = (s.head + 1) % len(s.slices)
	cur := s.slices[s.head]
	for i := range cur.Elements {
		cur.Elements[i] = 0
	}
	return nil
}

// Finalise ends the state's lifecycle; any further mutation is an error.
func (s *State) Finalise() {
	s.status = stateFinalised
}

// Slices returns deep copies of the retained arrays in chronological
// order, oldest first and the current step last, as persisted in
// checkpoint dumps.
func (s *State) Slices() []*sparse.DenseArray {
	out := make([]*sparse.DenseArray, len(s.slices))
	for i := range out {
		p := (s.head + 1 + i) % len(s.slices)
		out[i] = s.slices[p].Copy()
	}
	return out
}

// SetSlices replaces the full ring contents with vals, given oldest
// first, as when restoring from a checkpoint dump. The state is marked
// initialised.
func (s *State) SetSlices(vals []*sparse.DenseArray) error {
	if len(vals) != len(s.slices) {
		return fmt.Errorf("multirate: restoring state with %d history slices into "+
			"a state of depth %d", len(vals), len(s.slices))
	}
	if s.status == stateFinalised {
		return fmt.Errorf("multirate: state mutated after finalisation")
	}
	for i, v := range vals {
		p := (s.head + 1 + i) % len(s.slices)
		copy(s.slices[p].Elements, v.Elements)
	}
	if s.status == stateUninitialised {
		s.status = stateInitialised
	}
	return nil
}
