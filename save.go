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
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// Checkpoint files are netCDF classic. A states dump holds, per state
// variable, all history slices at each dumped timestamp; the transfers
// dump holds, per transfer, the raw pre-aggregation ring contents and
// the produced counter. Together they are sufficient to resume a run
// bit-identically.

const timeUnitsPrefix = "seconds since "

// StatesDumpPath returns the path of the states dump file of one
// category.
func StatesDumpPath(dir, identifier string, cat Category) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_states_dump.nc", identifier, cat))
}

// TransfersDumpPath returns the path of the transfers dump file.
func TransfersDumpPath(dir, identifier string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_transfers_dump.nc", identifier))
}

// createStatesDump creates the states dump file for one component if it
// does not already exist. The epoch anchors the file's time coordinate.
func createStatesDump(path string, spec ComponentSpec, epoch time.Time) error {
	if _, err := os.Stat(path); err == nil {
		return nil // pre-existing file; resumed runs append to it.
	}
	ny, nx := spec.SpaceDomain.Ny, spec.SpaceDomain.Nx
	depth := spec.SolverHistory + 1

	h := cdf.NewHeader([]string{"time", "history", "y", "x"}, []int{0, depth, ny, nx})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", timeUnitsPrefix+epoch.Format(time.RFC3339))
	h.AddVariable("history", []string{"history"}, []int32{0})
	for _, s := range spec.States {
		h.AddVariable(s.Name, []string{"time", "history", "y", "x"}, []float64{0})
		h.AddAttribute(s.Name, "units", s.Units)
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("multirate: creating states dump %s: %v", path, err)
	}

	ff, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("multirate: creating states dump: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("multirate: creating states dump %s: %v", path, err)
	}

	hist := make([]int32, depth)
	for i := range hist {
		hist[i] = int32(i - (depth - 1))
	}
	w := f.Writer("history", []int{0}, []int{depth})
	if _, err := w.Write(hist); err != nil {
		return fmt.Errorf("multirate: writing states dump %s: %v", path, err)
	}
	return cdf.UpdateNumRecs(ff)
}

// UpdateStatesDump writes all history slices of the given states into
// the dump file at timestamp t, appending a new record unless t is
// already present, in which case it is overwritten in place.
func UpdateStatesDump(path string, states map[string]*State, t time.Time) error {
	ff, err := os.OpenFile(path, os.O_RDWR, os.ModePerm)
	if err != nil {
		return fmt.Errorf("multirate: opening states dump: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return fmt.Errorf("multirate: opening states dump %s: %v", path, err)
	}

	ti, err := findOrAppendTime(f, path, t)
	if err != nil {
		return err
	}
	for name, s := range states {
		lengths := f.Header.Lengths(name)
		if len(lengths) == 0 {
			return fmt.Errorf("multirate: states dump %s has no variable %s", path, name)
		}
		depth, ny, nx := lengths[1], lengths[2], lengths[3]
		if depth != s.Depth() {
			return fmt.Errorf("multirate: states dump %s variable %s has history depth %d; "+
				"the state has %d", path, name, depth, s.Depth())
		}
		buf := make([]float64, 0, depth*ny*nx)
		for _, slice := range s.Slices() {
			buf = append(buf, slice.Elements...)
		}
		w := f.Writer(name, []int{ti, 0, 0, 0}, []int{ti + 1, depth, ny, nx})
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("multirate: writing states dump %s variable %s: %v", path, name, err)
		}
	}
	return cdf.UpdateNumRecs(ff)
}

// LoadStatesDump reads all history slices of every state variable in
// the dump file at the timestamp at or before at; the zero time selects
// the latest dumped timestamp. It returns the slices oldest-first,
// keyed by state name, together with the timestamp they correspond to.
func LoadStatesDump(path string, at time.Time) (map[string][]*sparse.DenseArray, time.Time, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("multirate: opening states dump: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("multirate: opening states dump %s: %v", path, err)
	}

	ti, dumped, err := findTimeAtOrBefore(f, path, at)
	if err != nil {
		return nil, time.Time{}, err
	}

	states := make(map[string][]*sparse.DenseArray)
	for _, name := range f.Header.Variables() {
		if name == "time" || name == "history" {
			continue
		}
		lengths := f.Header.Lengths(name)
		depth, ny, nx := lengths[1], lengths[2], lengths[3]
		r := f.Reader(name, []int{ti, 0, 0, 0}, []int{ti + 1, depth, ny, nx})
		buf := r.Zero(depth * ny * nx)
		if _, err := r.Read(buf); err != nil {
			return nil, time.Time{}, fmt.Errorf("multirate: reading states dump %s variable %s: %v",
				path, name, err)
		}
		vals := buf.([]float64)
		slices := make([]*sparse.DenseArray, depth)
		for i := range slices {
			slices[i] = sparse.ZerosDense(ny, nx)
			copy(slices[i].Elements, vals[i*ny*nx:(i+1)*ny*nx])
		}
		states[name] = slices
	}
	return states, dumped, nil
}

// createTransfersDump creates the transfers dump file if it does not
// already exist. Each transfer gets its own history dimension sized to
// its ring capacity.
func createTransfersDump(path string, e *Exchanger, epoch time.Time) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	names := e.Names()
	sort.Strings(names)

	dims := []string{"time"}
	lengths := []int{0}
	seen := map[string]bool{}
	addDim := func(name string, n int) {
		if !seen[name] {
			seen[name] = true
			dims = append(dims, name)
			lengths = append(lengths, n)
		}
	}
	for _, name := range names {
		tr := e.transfers[name]
		addDim(fmt.Sprintf("hist%d", len(tr.ring)), len(tr.ring))
		addDim("y", tr.Shape[0])
		addDim("x", tr.Shape[1])
	}

	h := cdf.NewHeader(dims, lengths)
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", timeUnitsPrefix+epoch.Format(time.RFC3339))
	for _, name := range names {
		tr := e.transfers[name]
		histDim := fmt.Sprintf("hist%d", len(tr.ring))
		h.AddVariable(name, []string{"time", histDim, "y", "x"}, []float64{0})
		h.AddAttribute(name, "units", tr.Units)
		h.AddAttribute(name, "source", string(tr.From))
		h.AddVariable(name+"_produced", []string{"time"}, []int32{0})
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("multirate: creating transfers dump %s: %v", path, err)
	}

	ff, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("multirate: creating transfers dump: %v", err)
	}
	defer ff.Close()
	if _, err := cdf.Create(ff, h); err != nil {
		return fmt.Errorf("multirate: creating transfers dump %s: %v", path, err)
	}
	return cdf.UpdateNumRecs(ff)
}

// UpdateTransfersDump writes the exchanger's raw ring contents and
// produced counters into the dump file at timestamp t, appending a new
// record unless t is already present.
func UpdateTransfersDump(path string, e *Exchanger, t time.Time) error {
	ff, err := os.OpenFile(path, os.O_RDWR, os.ModePerm)
	if err != nil {
		return fmt.Errorf("multirate: opening transfers dump: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return fmt.Errorf("multirate: opening transfers dump %s: %v", path, err)
	}

	ti, err := findOrAppendTime(f, path, t)
	if err != nil {
		return err
	}
	for name, ts := range e.Snapshot() {
		lengths := f.Header.Lengths(name)
		if len(lengths) == 0 {
			return fmt.Errorf("multirate: transfers dump %s has no variable %s", path, name)
		}
		hist, ny, nx := lengths[1], lengths[2], lengths[3]
		buf := make([]float64, 0, hist*ny*nx)
		for _, a := range ts.Ring {
			buf = append(buf, a.Elements...)
		}
		w := f.Writer(name, []int{ti, 0, 0, 0}, []int{ti + 1, hist, ny, nx})
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("multirate: writing transfers dump %s variable %s: %v", path, name, err)
		}
		w = f.Writer(name+"_produced", []int{ti}, []int{ti + 1})
		if _, err := w.Write([]int32{int32(ts.Produced)}); err != nil {
			return fmt.Errorf("multirate: writing transfers dump %s counter for %s: %v",
				path, name, err)
		}
	}
	return cdf.UpdateNumRecs(ff)
}

// LoadTransfersDump reads the raw ring contents and produced counter of
// every transfer in the dump file at the timestamp at or before at; the
// zero time selects the latest dumped timestamp.
func LoadTransfersDump(path string, at time.Time) (map[string]TransferState, time.Time, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("multirate: opening transfers dump: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("multirate: opening transfers dump %s: %v", path, err)
	}

	ti, dumped, err := findTimeAtOrBefore(f, path, at)
	if err != nil {
		return nil, time.Time{}, err
	}

	snap := make(map[string]TransferState)
	for _, name := range f.Header.Variables() {
		if name == "time" || strings.HasSuffix(name, "_produced") {
			continue
		}
		lengths := f.Header.Lengths(name)
		hist, ny, nx := lengths[1], lengths[2], lengths[3]
		r := f.Reader(name, []int{ti, 0, 0, 0}, []int{ti + 1, hist, ny, nx})
		buf := r.Zero(hist * ny * nx)
		if _, err := r.Read(buf); err != nil {
			return nil, time.Time{}, fmt.Errorf("multirate: reading transfers dump %s "+
				"variable %s: %v", path, name, err)
		}
		vals := buf.([]float64)
		ring := make([]*sparse.DenseArray, hist)
		for i := range ring {
			ring[i] = sparse.ZerosDense(ny, nx)
			copy(ring[i].Elements, vals[i*ny*nx:(i+1)*ny*nx])
		}

		r = f.Reader(name+"_produced", []int{ti}, []int{ti + 1})
		cbuf := r.Zero(1)
		if _, err := r.Read(cbuf); err != nil {
			return nil, time.Time{}, fmt.Errorf("multirate: reading transfers dump %s "+
				"counter for %s: %v", path, name, err)
		}
		snap[name] = TransferState{Ring: ring, Produced: int(cbuf.([]int32)[0])}
	}
	return snap, dumped, nil
}

// DumpTimes returns the timestamps present in a dump file, in record
// order.
func DumpTimes(path string) ([]time.Time, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("multirate: opening dump: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("multirate: opening dump %s: %v", path, err)
	}
	epoch, err := dumpEpoch(f, path)
	if err != nil {
		return nil, err
	}
	secs, err := readTimes(f, path)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(secs))
	for i, s := range secs {
		out[i] = epoch.Add(time.Duration(s * float64(time.Second)))
	}
	return out, nil
}

func dumpEpoch(f *cdf.File, path string) (time.Time, error) {
	attr, ok := f.Header.GetAttribute("time", "units").(string)
	if !ok || !strings.HasPrefix(attr, timeUnitsPrefix) {
		return time.Time{}, fmt.Errorf("multirate: dump %s has no valid time units attribute", path)
	}
	epoch, err := time.Parse(time.RFC3339, strings.TrimPrefix(attr, timeUnitsPrefix))
	if err != nil {
		return time.Time{}, fmt.Errorf("multirate: dump %s time units: %v", path, err)
	}
	return epoch, nil
}

func readTimes(f *cdf.File, path string) ([]float64, error) {
	r := f.Reader("time", nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("multirate: reading dump %s time coordinate: %v", path, err)
	}
	return buf.([]float64), nil
}

// findOrAppendTime returns the record index of timestamp t in f,
// appending a new record if t is not yet present.
func findOrAppendTime(f *cdf.File, path string, t time.Time) (int, error) {
	epoch, err := dumpEpoch(f, path)
	if err != nil {
		return 0, err
	}
	secs, err := readTimes(f, path)
	if err != nil {
		return 0, err
	}
	want := t.Sub(epoch).Seconds()
	for i, s := range secs {
		if s == want {
			return i, nil
		}
	}
	ti := len(secs)
	w := f.Writer("time", []int{ti}, []int{ti + 1})
	if _, err := w.Write([]float64{want}); err != nil {
		return 0, fmt.Errorf("multirate: appending timestamp to dump %s: %v", path, err)
	}
	return ti, nil
}

// findTimeAtOrBefore returns the record index and timestamp of the
// latest dumped time not after at; the zero time selects the latest
// record.
func findTimeAtOrBefore(f *cdf.File, path string, at time.Time) (int, time.Time, error) {
	epoch, err := dumpEpoch(f, path)
	if err != nil {
		return 0, time.Time{}, err
	}
	secs, err := readTimes(f, path)
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(secs) == 0 {
		return 0, time.Time{}, fmt.Errorf("multirate: dump %s holds no snapshots", path)
	}
	ti := -1
	if at.IsZero() {
		ti = len(secs) - 1
	} else {
		want := at.Sub(epoch).Seconds()
		best := math.Inf(-1)
		for i, s := range secs {
			if s <= want && s > best {
				best = s
				ti = i
			}
		}
		if ti < 0 {
			return 0, time.Time{}, fmt.Errorf("multirate: dump %s holds no snapshot at or "+
				"before %v", path, at)
		}
	}
	return ti, epoch.Add(time.Duration(secs[ti] * float64(time.Second))), nil
}

// CreateDumps returns a function that creates the checkpoint dump files
// for every component and for the exchanger in dir, leaving any
// pre-existing files (from a run being resumed) in place.
func CreateDumps(dir string) ModelManipulator {
	return func(m *Model) error {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("multirate: creating dump directory: %v", err)
		}
		epoch := m.Clock.Start()
		for _, cat := range m.Categories() {
			path := StatesDumpPath(dir, m.Identifier, cat)
			if err := createStatesDump(path, m.specs[cat], epoch); err != nil {
				return err
			}
		}
		return createTransfersDump(TransfersDumpPath(dir, m.Identifier), m.Exchanger, epoch)
	}
}

// Checkpoint returns a function that, on ticks where the dump switch is
// true, writes every component's states and the exchanger's raw rings
// to the dump files in dir, stamped with the tick time.
func Checkpoint(dir string) ModelManipulator {
	return func(m *Model) error {
		if m.Done || !m.tick.Dump {
			return nil
		}
		return m.dump(dir, m.tick.Time)
	}
}

// FinalDump returns a function that writes a closing checkpoint stamped
// with the end of the simulation period.
func FinalDump(dir string) ModelManipulator {
	return func(m *Model) error {
		return m.dump(dir, m.Clock.Start().Add(time.Duration(m.Clock.Length())*m.Clock.Timestep()))
	}
}

func (m *Model) dump(dir string, t time.Time) error {
	for _, cat := range m.Categories() {
		path := StatesDumpPath(dir, m.Identifier, cat)
		if err := UpdateStatesDump(path, m.states[cat], t); err != nil {
			return err
		}
	}
	return UpdateTransfersDump(TransfersDumpPath(dir, m.Identifier), m.Exchanger, t)
}

// RestoreDumps returns a function that restores the model from the
// checkpoint taken at instant at (the zero time selects the latest) and
// reports the timestamp it restored. Every registered transfer and
// every declared state must be present in the dumps.
func RestoreDumps(dir string, at time.Time) func(m *Model) (time.Time, error) {
	return func(m *Model) (time.Time, error) {
		snap, restoredAt, err := LoadTransfersDump(TransfersDumpPath(dir, m.Identifier), at)
		if err != nil {
			return time.Time{}, err
		}
		if err := m.Exchanger.Restore(snap); err != nil {
			return time.Time{}, err
		}
		for _, cat := range m.Categories() {
			path := StatesDumpPath(dir, m.Identifier, cat)
			states, stateAt, err := LoadStatesDump(path, restoredAt)
			if err != nil {
				return time.Time{}, err
			}
			if !stateAt.Equal(restoredAt) {
				return time.Time{}, fmt.Errorf("multirate: states dump %s snapshot at %v does "+
					"not match transfers snapshot at %v", path, stateAt, restoredAt)
			}
			for name, s := range m.states[cat] {
				slices, ok := states[name]
				if !ok {
					return time.Time{}, fmt.Errorf("multirate: states dump %s is missing "+
						"state %s", path, name)
				}
				if err := s.SetSlices(slices); err != nil {
					return time.Time{}, fmt.Errorf("multirate: restoring state %s of "+
						"category %s: %v", name, cat, err)
				}
			}
		}
		return restoredAt, nil
	}
}
