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
	"math"
	"testing"

	"github.com/ctessum/unit"
)

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

func TestParseUnits(t *testing.T) {
	cases := []struct {
		units string
		scale float64
		dims  unit.Dimensions
	}{
		{"kg m-2 s-1", 1, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: -2, unit.TimeDim: -1}},
		{"mm", 1e-3, unit.Dimensions{unit.LengthDim: 1}},
		{"mm h-1", 1e-3 / 3600, unit.Dimensions{unit.LengthDim: 1, unit.TimeDim: -1}},
		{"W m-2", 1, unit.Dimensions{unit.MassDim: 1, unit.TimeDim: -3}},
		{"K", 1, unit.Dimensions{unit.TemperatureDim: 1}},
		{"1", 1, unit.Dimensions{}},
		{"m2", 1, unit.Dimensions{unit.LengthDim: 2}},
	}
	for _, c := range cases {
		u, err := ParseUnits(c.units)
		if err != nil {
			t.Errorf("%q: %v", c.units, err)
			continue
		}
		if different(u.Value(), c.scale, 1e-12) {
			t.Errorf("%q scale: want %g, have %g", c.units, c.scale, u.Value())
		}
		if !unit.DimensionsMatch(u, unit.New(1, c.dims)) {
			t.Errorf("%q dimensions: want %v, have %v", c.units, c.dims, u)
		}
	}

	for _, bad := range []string{"furlong", "kg m-2 s-x"} {
		if _, err := ParseUnits(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}

func TestCheckUnitsMatch(t *testing.T) {
	if err := CheckUnitsMatch("flux", "kg m-2 s-1", "kg m-2 s-1", 1e-9); err != nil {
		t.Errorf("identical units: %v", err)
	}
	// Same dimensions, different scale: mm vs m.
	if err := CheckUnitsMatch("depth", "m", "mm", 1e-9); err == nil {
		t.Error("expected an error for a scale mismatch")
	}
	// Different dimensions entirely.
	if err := CheckUnitsMatch("flux", "kg m-2 s-1", "W m-2", 1e-9); err == nil {
		t.Error("expected an error for a dimension mismatch")
	}
	if err := CheckUnitsMatch("flux", "parsec", "m", 1e-9); err == nil {
		t.Error("expected an error for unparseable units")
	}
}
