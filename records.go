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
	"os"
	"sort"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/cdf"
	"gonum.org/v1/gonum/floats"
)

// RecordStream appends selected transfer values, or element-wise
// expressions over them, to a netCDF output stream at a configured
// frequency. Record output is diagnostic; checkpoint dumps, not record
// streams, carry the data needed for resuming.
type RecordStream struct {
	// Path is the location of the netCDF file to append to.
	Path string

	// Frequency is how often, in simulated time, a record is written.
	// It must be a multiple of the step duration of every producer
	// referenced in Variables.
	Frequency time.Duration

	// Variables maps each output variable name to an expression over
	// transfer names, evaluated element-wise. A bare transfer name
	// records that transfer unchanged.
	Variables map[string]string

	// Functions are additional expression functions, merged over the
	// defaults (exp, log, log10, sqrt, abs, min, max).
	Functions map[string]govaluate.ExpressionFunction

	exprs     map[string]*govaluate.EvaluableExpression
	inputs    []string // unique transfer names referenced, sorted
	increment int
	shape     []int
}

func defaultRecordFuncs() map[string]govaluate.ExpressionFunction {
	one := func(name string, f func(float64) float64) govaluate.ExpressionFunction {
		return func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("multirate: got %d arguments for function %q, but need 1",
					len(arg), name)
			}
			return f(arg[0].(float64)), nil
		}
	}
	return map[string]govaluate.ExpressionFunction{
		"exp":   one("exp", math.Exp),
		"log":   one("log", math.Log),
		"log10": one("log10", math.Log10),
		"sqrt":  one("sqrt", math.Sqrt),
		"abs":   one("abs", math.Abs),
		"min": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 2 {
				return nil, fmt.Errorf("multirate: got %d arguments for function \"min\", but need 2", len(arg))
			}
			return math.Min(arg[0].(float64), arg[1].(float64)), nil
		},
		"max": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 2 {
				return nil, fmt.Errorf("multirate: got %d arguments for function \"max\", but need 2", len(arg))
			}
			return math.Max(arg[0].(float64), arg[1].(float64)), nil
		},
	}
}

// InitFunc returns a function for the model's InitFuncs chain that
// validates the stream against the model's clock and transfer table,
// compiles the expressions, and creates the output file.
func (rs *RecordStream) InitFunc() ModelManipulator {
	return func(m *Model) error {
		funcs := defaultRecordFuncs()
		for name, f := range rs.Functions {
			funcs[name] = f
		}

		rs.exprs = make(map[string]*govaluate.EvaluableExpression, len(rs.Variables))
		seen := map[string]bool{}
		for name, exprStr := range rs.Variables {
			expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, funcs)
			if err != nil {
				return fmt.Errorf("multirate: record variable %s: %v", name, err)
			}
			rs.exprs[name] = expr
			for _, v := range expr.Vars() {
				if !seen[v] {
					seen[v] = true
					rs.inputs = append(rs.inputs, v)
				}
			}
		}
		sort.Strings(rs.inputs)

		if rs.Frequency <= 0 || rs.Frequency%m.Clock.Timestep() != 0 {
			return fmt.Errorf("multirate: record frequency %v is not a multiple of the "+
				"supermesh step %v", rs.Frequency, m.Clock.Timestep())
		}
		for _, in := range rs.inputs {
			spec, err := m.Exchanger.Spec(in)
			if err != nil {
				return fmt.Errorf("multirate: record stream %s references unregistered "+
					"transfer %s", rs.Path, in)
			}
			step := m.Clock.TimeDomain(spec.From).Step
			if rs.Frequency%step != 0 {
				return fmt.Errorf("multirate: record frequency %v is not a multiple of the "+
					"step (%v) of category %s producing transfer %s",
					rs.Frequency, step, spec.From, in)
			}
			if rs.shape == nil {
				rs.shape = spec.Shape
			}
		}
		rs.increment = int(rs.Frequency / m.Clock.Timestep())

		return rs.createFile(m.Clock.Start())
	}
}

func (rs *RecordStream) createFile(epoch time.Time) error {
	if _, err := os.Stat(rs.Path); err == nil {
		return nil
	}
	if len(rs.shape) != 2 {
		return fmt.Errorf("multirate: record stream %s records no transfer-shaped variables", rs.Path)
	}
	h := cdf.NewHeader([]string{"time", "y", "x"}, []int{0, rs.shape[0], rs.shape[1]})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", timeUnitsPrefix+epoch.Format(time.RFC3339))
	names := make([]string, 0, len(rs.Variables))
	for name := range rs.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.AddVariable(name, []string{"time", "y", "x"}, []float64{0})
		h.AddAttribute(name, "expression", rs.Variables[name])
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("multirate: creating record stream %s: %v", rs.Path, err)
	}
	ff, err := os.Create(rs.Path)
	if err != nil {
		return fmt.Errorf("multirate: creating record stream: %v", err)
	}
	defer ff.Close()
	if _, err := cdf.Create(ff, h); err != nil {
		return fmt.Errorf("multirate: creating record stream %s: %v", rs.Path, err)
	}
	return cdf.UpdateNumRecs(ff)
}

// RecordFunc returns a function for the model's RunFuncs chain that, on
// ticks matching the stream frequency, evaluates the variables and
// appends one record.
func (rs *RecordStream) RecordFunc() ModelManipulator {
	return func(m *Model) error {
		if m.Done || (m.tick.Index+1)%rs.increment != 0 {
			return nil
		}
		return rs.update(m)
	}
}

func (rs *RecordStream) update(m *Model) error {
	n := rs.shape[0] * rs.shape[1]
	values := make(map[string][]float64, len(rs.inputs))
	for _, in := range rs.inputs {
		v, err := m.Exchanger.Latest(in)
		if err != nil {
			return err
		}
		values[in] = v.Elements
	}

	out := make(map[string][]float64, len(rs.exprs))
	params := make(map[string]interface{}, len(rs.inputs))
	for name, expr := range rs.exprs {
		buf := make([]float64, n)
		for i := 0; i < n; i++ {
			for _, in := range expr.Vars() {
				params[in] = values[in][i]
			}
			res, err := expr.Evaluate(params)
			if err != nil {
				return fmt.Errorf("multirate: evaluating record variable %s: %v", name, err)
			}
			v, ok := res.(float64)
			if !ok {
				return fmt.Errorf("multirate: record variable %s evaluates to %T; need float64",
					name, res)
			}
			buf[i] = v
		}
		if sum := floats.Sum(buf); math.IsNaN(sum) {
			return fmt.Errorf("multirate: record variable %s produced NaN at %v",
				name, m.tick.Time)
		}
		out[name] = buf
	}

	ff, err := os.OpenFile(rs.Path, os.O_RDWR, os.ModePerm)
	if err != nil {
		return fmt.Errorf("multirate: opening record stream: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return fmt.Errorf("multirate: opening record stream %s: %v", rs.Path, err)
	}
	ti, err := findOrAppendTime(f, rs.Path, m.tick.Time)
	if err != nil {
		return err
	}
	for name, buf := range out {
		w := f.Writer(name, []int{ti, 0, 0}, []int{ti + 1, rs.shape[0], rs.shape[1]})
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("multirate: writing record stream %s variable %s: %v",
				rs.Path, name, err)
		}
	}
	return cdf.UpdateNumRecs(ff)
}
