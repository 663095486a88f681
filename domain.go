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
	"math"
	"time"

	"github.com/ctessum/geom"
)

// Category identifies a simulation-component role (for example
// "surfacelayer"). The set of categories is fixed for the lifetime
// of a run.
type Category string

// TimeDomain describes the regularly spaced sequence of instants that one
// category steps through: a period start, a fixed positive step duration,
// and the number of steps spanning the period.
type TimeDomain struct {
	Start time.Time
	Step  time.Duration
	N     int
}

// NewTimeDomain creates a time domain starting at start with n steps of
// duration step.
func NewTimeDomain(start time.Time, step time.Duration, n int) (*TimeDomain, error) {
	if step <= 0 {
		return nil, fmt.Errorf("multirate: time domain step %v is not positive", step)
	}
	if n < 1 {
		return nil, fmt.Errorf("multirate: time domain has %d steps; need at least 1", n)
	}
	return &TimeDomain{Start: start, Step: step, N: n}, nil
}

// NewTimeDomainFromOffsets creates a time domain from a numeric time
// coordinate: an epoch plus offsets in the given unit, the shape
// geoscience time coordinates usually arrive in. The offsets must be
// monotonically increasing and regularly spaced within tolerance
// (expressed as a fraction of the spacing).
func NewTimeDomainFromOffsets(epoch time.Time, offsets []float64, unit time.Duration, tolerance float64) (*TimeDomain, error) {
	if len(offsets) < 2 {
		return nil, fmt.Errorf("multirate: time coordinate has %d values; need at least 2", len(offsets))
	}
	spacing := offsets[1] - offsets[0]
	if spacing <= 0 {
		return nil, fmt.Errorf("multirate: time coordinate is not monotonically increasing: "+
			"value %g followed by %g", offsets[0], offsets[1])
	}
	for i := 2; i < len(offsets); i++ {
		d := offsets[i] - offsets[i-1]
		if math.Abs(d-spacing) > tolerance*spacing {
			return nil, fmt.Errorf("multirate: time coordinate is not regularly spaced: "+
				"spacing %g at index %d differs from initial spacing %g", d, i, spacing)
		}
	}
	step := time.Duration(spacing * float64(unit))
	start := epoch.Add(time.Duration(offsets[0] * float64(unit)))
	return NewTimeDomain(start, step, len(offsets))
}

// End returns the end of the period covered by the time domain.
func (td *TimeDomain) End() time.Time {
	return td.Start.Add(time.Duration(td.N) * td.Step)
}

// Period returns the total duration covered by the time domain.
func (td *TimeDomain) Period() time.Duration {
	return time.Duration(td.N) * td.Step
}

// Times returns the sequence of step-start instants in the time domain.
func (td *TimeDomain) Times() []time.Time {
	t := make([]time.Time, td.N)
	for i := range t {
		t[i] = td.Start.Add(time.Duration(i) * td.Step)
	}
	return t
}

// spansSamePeriodAs reports whether two time domains cover the same
// absolute period.
func (td *TimeDomain) spansSamePeriodAs(o *TimeDomain) bool {
	return td.Start.Equal(o.Start) && td.End().Equal(o.End())
}

// SpaceDomain describes the spatial grid one category computes on: its
// bounding box and the number of cells along each axis. The coupler
// performs no spatial reasoning beyond the compatibility pre-check;
// regridding is out of scope.
type SpaceDomain struct {
	Bounds *geom.Bounds
	Ny, Nx int
}

// Shape returns the array shape (y, x) of values on the domain.
func (sd *SpaceDomain) Shape() []int {
	return []int{sd.Ny, sd.Nx}
}

// Compatible returns an error if o does not cover the same grid as the
// receiver: the shapes must be identical and the bounds coincident within
// tolerance (in the units of the grid coordinates).
func (sd *SpaceDomain) Compatible(o *SpaceDomain, tolerance float64) error {
	if sd.Ny != o.Ny || sd.Nx != o.Nx {
		return fmt.Errorf("multirate: space domain shapes differ: [%d %d] vs [%d %d]",
			sd.Ny, sd.Nx, o.Ny, o.Nx)
	}
	pairs := [][2]float64{
		{sd.Bounds.Min.X, o.Bounds.Min.X},
		{sd.Bounds.Min.Y, o.Bounds.Min.Y},
		{sd.Bounds.Max.X, o.Bounds.Max.X},
		{sd.Bounds.Max.Y, o.Bounds.Max.Y},
	}
	for _, p := range pairs {
		if math.Abs(p[0]-p[1]) > tolerance {
			return fmt.Errorf("multirate: space domain bounds differ: %+v vs %+v",
				*sd.Bounds, *o.Bounds)
		}
	}
	return nil
}
