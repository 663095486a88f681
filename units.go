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
	"strconv"
	"strings"

	"github.com/ctessum/unit"
)

// baseUnits maps unit symbols to their SI scale factor and dimensions.
// Transfers in land-surface coupling are fluxes and stores of water and
// energy, so the vocabulary covers those plus the bare SI base symbols.
var baseUnits = map[string]struct {
	scale float64
	dims  unit.Dimensions
}{
	"1":  {1, unit.Dimensions{}},
	"kg": {1, unit.Dimensions{unit.MassDim: 1}},
	"g":  {1e-3, unit.Dimensions{unit.MassDim: 1}},
	"m":  {1, unit.Dimensions{unit.LengthDim: 1}},
	"mm": {1e-3, unit.Dimensions{unit.LengthDim: 1}},
	"km": {1e3, unit.Dimensions{unit.LengthDim: 1}},
	"s":  {1, unit.Dimensions{unit.TimeDim: 1}},
	"h":  {3600, unit.Dimensions{unit.TimeDim: 1}},
	"d":  {86400, unit.Dimensions{unit.TimeDim: 1}},
	"K":  {1, unit.Dimensions{unit.TemperatureDim: 1}},
	"W":  {1, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: 2, unit.TimeDim: -3}},
	"J":  {1, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: 2, unit.TimeDim: -2}},
	"Pa": {1, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: -1, unit.TimeDim: -2}},
}

// ParseUnits converts a units string in the space-separated
// symbol-exponent form common in netCDF attributes (for example
// "kg m-2 s-1", "m s-1", "mm", "K", or "1" for dimensionless) into a
// *unit.Unit whose value holds the SI scale factor.
func ParseUnits(s string) (*unit.Unit, error) {
	scale := 1.0
	dims := make(unit.Dimensions)
	for _, tok := range strings.Fields(s) {
		sym := tok
		exp := 1
		// split the trailing exponent, if any, off the symbol.
		i := len(tok)
		for i > 0 && (tok[i-1] == '-' || tok[i-1] >= '0' && tok[i-1] <= '9') {
			i--
		}
		if i < len(tok) {
			var err error
			exp, err = strconv.Atoi(tok[i:])
			if err != nil {
				return nil, fmt.Errorf("multirate: invalid exponent %q in units %q", tok[i:], s)
			}
			sym = tok[:i]
		}
		if sym == "" && exp == 1 {
			// a bare "1" parses as an exponent with no symbol.
			continue
		}
		b, ok := baseUnits[sym]
		if !ok {
			return nil, fmt.Errorf("multirate: unknown unit symbol %q in units %q", sym, s)
		}
		scale *= math.Pow(b.scale, float64(exp))
		for d, e := range b.dims {
			dims[d] += e * exp
		}
	}
	return unit.New(scale, dims), nil
}

// CheckUnitsMatch returns an error if the producer and consumer units
// declared for transfer name do not agree both dimensionally and in scale
// (within tolerance, as a fraction of the producer scale).
func CheckUnitsMatch(name, produced, consumed string, tolerance float64) error {
	pu, err := ParseUnits(produced)
	if err != nil {
		return fmt.Errorf("multirate: transfer %s: %v", name, err)
	}
	cu, err := ParseUnits(consumed)
	if err != nil {
		return fmt.Errorf("multirate: transfer %s: %v", name, err)
	}
	if !unit.DimensionsMatch(pu, cu) {
		return fmt.Errorf("multirate: transfer %s: producer units %q and consumer units %q "+
			"have different dimensions", name, produced, consumed)
	}
	if math.Abs(pu.Value()-cu.Value()) > tolerance*math.Abs(pu.Value()) {
		return fmt.Errorf("multirate: transfer %s: producer units %q and consumer units %q "+
			"differ in scale (%g vs %g)", name, produced, consumed, pu.Value(), cu.Value())
	}
	return nil
}
