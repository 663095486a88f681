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

	"github.com/ctessum/sparse"
	"github.com/gonum/floats"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// AggregationMethod determines how an Exchanger combines the sub-steps
// of a producer running faster than a consumer.
type AggregationMethod int

// The supported aggregation methods.
const (
	// Point takes the single most recent producer value.
	Point AggregationMethod = iota
	// Mean takes the arithmetic mean of the producer sub-steps.
	Mean
	// Sum takes the arithmetic sum of the producer sub-steps.
	Sum
	// Minimum takes the element-wise minimum across the sub-steps.
	Minimum
	// Maximum takes the element-wise maximum across the sub-steps.
	Maximum
)

var methodNames = map[AggregationMethod]string{
	Point:   "point",
	Mean:    "mean",
	Sum:     "sum",
	Minimum: "minimum",
	Maximum: "maximum",
}

// aliases allowed in configuration files, in addition to the canonical
// method names.
var methodAliases = map[string]AggregationMethod{
	"point":         Point,
	"instantaneous": Point,
	"mean":          Mean,
	"average":       Mean,
	"sum":           Sum,
	"cumulative":    Sum,
	"minimum":       Minimum,
	"min":           Minimum,
	"maximum":       Maximum,
	"max":           Maximum,
}

func (m AggregationMethod) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("AggregationMethod(%d)", int(m))
}

// ParseAggregationMethod resolves a method name from a configuration
// file into an AggregationMethod. It is resolved once at transfer
// registration, never per call.
func ParseAggregationMethod(s string) (AggregationMethod, error) {
	if m, ok := methodAliases[s]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("multirate: unknown aggregation method %q", s)
}

// TransferSpec declares one named value produced by one category and
// consumed by one or more others. Specs are immutable after
// registration.
type TransferSpec struct {
	Name   string
	From   Category
	To     []Category
	Method AggregationMethod
	Units  string
	Shape  []int
}

// TransferState is the raw, pre-aggregation snapshot of one transfer:
// the ring contents oldest-first and the number of values published so
// far. Checkpoints persist this rather than aggregated values because a
// slower consumer resumed later still needs the individual sub-steps.
type TransferState struct {
	Ring     []*sparse.DenseArray
	Produced int
}

// transfer holds the runtime state for one registered transfer.
type transfer struct {
	TransferSpec

	// ratios maps each consumer to the number of producer steps per
	// consumer step; 0 flags a consumer faster than the producer
	// (zero-order hold).
	ratios map[Category]int

	ring     []*sparse.DenseArray // oldest first
	produced int
}

// Exchanger lets components running at different rates exchange named
// values without either side knowing the other's rate. Per transfer it
// keeps a short ring of raw producer outputs, sized to the slowest
// consumer, and aggregates or holds on demand.
type Exchanger struct {
	clock     *Clock
	transfers map[string]*transfer
}

// NewExchanger creates an Exchanger tied to the given clock and
// registers the given transfer specs. All rate mismatches are rejected
// here, before any tick runs.
func NewExchanger(clock *Clock, specs ...TransferSpec) (*Exchanger, error) {
	e := &Exchanger{
		clock:     clock,
		transfers: make(map[string]*transfer),
	}
	for _, spec := range specs {
		if err := e.Register(spec); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register adds a transfer. Registering the same name twice merges the
// destination sets if source and method agree, and fails otherwise. The
// producer/consumer increment ratios are checked eagerly: they must be
// an exact integer in one direction or the other.
func (e *Exchanger) Register(spec TransferSpec) error {
	if prev, ok := e.transfers[spec.Name]; ok {
		if prev.From != spec.From || prev.Method != spec.Method {
			return fmt.Errorf("multirate: transfer %s re-registered with conflicting "+
				"metadata: source %s method %s vs source %s method %s",
				spec.Name, prev.From, prev.Method, spec.From, spec.Method)
		}
		for _, to := range spec.To {
			if _, ok := prev.ratios[to]; !ok {
				r, err := e.ratio(spec.Name, spec.From, to)
				if err != nil {
					return err
				}
				prev.To = append(prev.To, to)
				prev.ratios[to] = r
			}
		}
		e.resize(prev)
		return nil
	}

	if _, ok := e.clock.increments[spec.From]; !ok {
		return fmt.Errorf("multirate: transfer %s: source category %s is not "+
			"known to the clock", spec.Name, spec.From)
	}
	tr := &transfer{
		TransferSpec: spec,
		ratios:       make(map[Category]int),
	}
	tr.To = append([]Category(nil), spec.To...)
	for _, to := range spec.To {
		r, err := e.ratio(spec.Name, spec.From, to)
		if err != nil {
			return err
		}
		tr.ratios[to] = r
	}
	e.transfers[spec.Name] = tr
	e.resize(tr)
	return nil
}

// ratio returns the number of producer steps one consumer step covers,
// or 0 for a consumer faster than the producer.
func (e *Exchanger) ratio(name string, from, to Category) (int, error) {
	ci, ok := e.clock.increments[to]
	if !ok {
		return 0, fmt.Errorf("multirate: transfer %s: destination category %s is not "+
			"known to the clock", name, to)
	}
	pi := e.clock.increments[from]
	switch {
	case ci >= pi && ci%pi == 0:
		return ci / pi, nil
	case ci < pi && pi%ci == 0:
		return 0, nil
	}
	return 0, fmt.Errorf("multirate: transfer %s: consumer %s increment (%d) and "+
		"producer %s increment (%d) are not integer multiples of each other",
		name, to, ci, from, pi)
}

// resize (re)allocates the transfer's ring to hold as many producer
// steps as the slowest consumer needs, at least one, preserving any
// already-published contents at the newest end.
func (e *Exchanger) resize(tr *transfer) {
	capacity := 1
	for _, r := range tr.ratios {
		if r > capacity {
			capacity = r
		}
	}
	if len(tr.ring) == capacity {
		return
	}
	ring := make([]*sparse.DenseArray, capacity)
	for i := range ring {
		ring[i] = sparse.ZerosDense(tr.Shape...)
	}
	for i := 0; i < len(tr.ring) && i < capacity; i++ {
		// copy newest-first from the old ring into the new one.
		ring[capacity-1-i] = tr.ring[len(tr.ring)-1-i]
	}
	tr.ring = ring
}

// Publish stores one producer step of the named transfer, evicting the
// oldest retained step if the ring is full. It must be called exactly
// once per producer step.
func (e *Exchanger) Publish(name string, from Category, v *sparse.DenseArray) error {
	tr, ok := e.transfers[name]
	if !ok {
		return fmt.Errorf("multirate: publishing unregistered transfer %s", name)
	}
	if from != tr.From {
		return fmt.Errorf("multirate: transfer %s published by category %s but "+
			"declared by category %s", name, from, tr.From)
	}
	oldest := tr.ring[0]
	copy(tr.ring, tr.ring[1:])
	tr.ring[len(tr.ring)-1] = oldest
	copy(oldest.Elements, v.Elements)
	tr.produced++
	return nil
}

// Consume returns the named transfer resolved to the consumer's rate:
// the most recent value when rates are equal, an aggregate of the
// producer sub-steps covering one consumer step when the consumer is
// slower, or a zero-order hold of the most recent value when the
// consumer is faster. At start of run, before the producer has filled
// the ring, missing leading sub-steps read as the zero element.
func (e *Exchanger) Consume(name string, to Category) (*sparse.DenseArray, error) {
	tr, ok := e.transfers[name]
	if !ok {
		return nil, fmt.Errorf("multirate: consuming unregistered transfer %s", name)
	}
	r, ok := tr.ratios[to]
	if !ok {
		return nil, fmt.Errorf("multirate: category %s is not a declared destination "+
			"of transfer %s", to, name)
	}
	if r <= 1 { // equal rates, or faster consumer holding the last value.
		return tr.ring[len(tr.ring)-1].Copy(), nil
	}

	window := tr.ring[len(tr.ring)-r:]
	switch tr.Method {
	case Point:
		return window[len(window)-1].Copy(), nil
	case Mean, Sum:
		out := sparse.ZerosDense(tr.Shape...)
		for _, a := range window {
			floats.Add(out.Elements, a.Elements)
		}
		if tr.Method == Mean {
			floats.Scale(1/float64(r), out.Elements)
		}
		return out, nil
	case Minimum, Maximum:
		out := window[0].Copy()
		for _, a := range window[1:] {
			for i, v := range a.Elements {
				if tr.Method == Minimum {
					out.Elements[i] = math.Min(out.Elements[i], v)
				} else {
					out.Elements[i] = math.Max(out.Elements[i], v)
				}
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("multirate: transfer %s has unknown aggregation method %v",
		name, tr.Method)
}

// Latest returns a copy of the most recently published value of the
// named transfer, regardless of rates; used by record streams.
func (e *Exchanger) Latest(name string) (*sparse.DenseArray, error) {
	tr, ok := e.transfers[name]
	if !ok {
		return nil, fmt.Errorf("multirate: unregistered transfer %s", name)
	}
	return tr.ring[len(tr.ring)-1].Copy(), nil
}

// Spec returns the registered spec of the named transfer.
func (e *Exchanger) Spec(name string) (TransferSpec, error) {
	tr, ok := e.transfers[name]
	if !ok {
		return TransferSpec{}, fmt.Errorf("multirate: unregistered transfer %s", name)
	}
	spec := tr.TransferSpec
	spec.To = append([]Category(nil), tr.To...)
	return spec, nil
}

// Names returns the names of all registered transfers.
func (e *Exchanger) Names() []string {
	names := make([]string, 0, len(e.transfers))
	for name := range e.transfers {
		names = append(names, name)
	}
	return names
}

// Snapshot returns the raw ring contents and position counter of every
// transfer, deep-copied, keyed by transfer name.
func (e *Exchanger) Snapshot() map[string]TransferState {
	snap := make(map[string]TransferState, len(e.transfers))
	for name, tr := range e.transfers {
		ring := make([]*sparse.DenseArray, len(tr.ring))
		for i, a := range tr.ring {
			ring[i] = a.Copy()
		}
		snap[name] = TransferState{Ring: ring, Produced: tr.produced}
	}
	return snap
}

// Restore replaces every transfer's ring and counter from a snapshot so
// that subsequent Consume calls behave exactly as if the run had never
// stopped. Every registered transfer must be present in the snapshot.
func (e *Exchanger) Restore(snap map[string]TransferState) error {
	for name, tr := range e.transfers {
		ts, ok := snap[name]
		if !ok {
			return fmt.Errorf("multirate: restore snapshot is missing transfer %s", name)
		}
		if len(ts.Ring) != len(tr.ring) {
			return fmt.Errorf("multirate: restore snapshot for transfer %s holds %d "+
				"history steps; the transfer stores %d", name, len(ts.Ring), len(tr.ring))
		}
		for i, a := range ts.Ring {
			copy(tr.ring[i].Elements, a.Elements)
		}
		tr.produced = ts.Produced
	}
	return nil
}

// RunOrder refines the declared category order so that within any one
// tick producers run before their consumers, using a stable topological
// sort of the transfer graph. Same-tick cyclic dependencies are a
// configuration error.
func (e *Exchanger) RunOrder(declared []Category) ([]Category, error) {
	index := make(map[Category]int64, len(declared))
	g := simple.NewDirectedGraph()
	for i, cat := range declared {
		index[cat] = int64(i)
		g.AddNode(simple.Node(i))
	}
	for name, tr := range e.transfers {
		fi, ok := index[tr.From]
		if !ok {
			continue // producer outside the driven categories; dump-only transfer.
		}
		for _, to := range tr.To {
			ti, ok := index[to]
			if !ok {
				continue
			}
			if fi == ti {
				return nil, fmt.Errorf("multirate: transfer %s creates a same-tick cycle: "+
					"category %s both produces and consumes it", name, tr.From)
			}
			g.SetEdge(simple.Edge{F: simple.Node(fi), T: simple.Node(ti)})
		}
	}
	sorted, err := topo.SortStabilized(g, nil)
	if err != nil {
		if un, ok := err.(topo.Unorderable); ok {
			var cats []Category
			for _, scc := range un {
				for _, n := range scc {
					cats = append(cats, declared[n.ID()])
				}
			}
			return nil, fmt.Errorf("multirate: same-tick cyclic transfer dependency "+
				"among categories %v", cats)
		}
		return nil, fmt.Errorf("multirate: ordering categories: %v", err)
	}
	order := make([]Category, len(sorted))
	for i, n := range sorted {
		order[i] = declared[n.ID()]
	}
	return order, nil
}
