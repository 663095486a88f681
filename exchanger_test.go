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
	"testing"
	"time"
)

// exchangerClock builds a clock with a 1-hour "fast" category and a
// 4-hour "slow" category over one day.
func exchangerClock(t *testing.T) *Clock {
	t.Helper()
	tds := map[Category]*TimeDomain{
		"fast": {Start: testStart, Step: time.Hour, N: 24},
		"slow": {Start: testStart, Step: 4 * time.Hour, N: 6},
	}
	c, err := NewClock([]Category{"fast", "slow"}, tds)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestParseAggregationMethod(t *testing.T) {
	aliases := map[string]AggregationMethod{
		"point":         Point,
		"instantaneous": Point,
		"mean":          Mean,
		"average":       Mean,
		"sum":           Sum,
		"cumulative":    Sum,
		"min":           Minimum,
		"max":           Maximum,
	}
	for s, want := range aliases {
		m, err := ParseAggregationMethod(s)
		if err != nil {
			t.Errorf("%q: %v", s, err)
		} else if m != want {
			t.Errorf("%q: want %v, have %v", s, want, m)
		}
	}
	if _, err := ParseAggregationMethod("median"); err == nil {
		t.Error("expected an error for an unknown method")
	}
}

func TestExchangerAggregation(t *testing.T) {
	shape := []int{2, 2}
	cases := []struct {
		method AggregationMethod
		want   float64
	}{
		{Mean, 2.5},
		{Sum, 10},
		{Point, 4},
		{Minimum, 1},
		{Maximum, 4},
	}
	for _, c := range cases {
		e, err := NewExchanger(exchangerClock(t), TransferSpec{
			Name:   "flux",
			From:   "fast",
			To:     []Category{"slow"},
			Method: c.method,
			Shape:  shape,
		})
		if err != nil {
			t.Fatal(err)
		}
		for _, v := range []float64{1, 2, 3, 4} {
			if err := e.Publish("flux", "fast", constArray(v, shape...)); err != nil {
				t.Fatal(err)
			}
		}
		got, err := e.Consume("flux", "slow")
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range got.Elements {
			if v != c.want {
				t.Errorf("method %v element %d: want %g, have %g", c.method, i, c.want, v)
			}
		}
	}
}

// Before the producer has filled the ring, the missing leading sub-steps
// read as zero.
func TestExchangerStartupPadding(t *testing.T) {
	shape := []int{2, 2}
	e, err := NewExchanger(exchangerClock(t), TransferSpec{
		Name:   "flux",
		From:   "fast",
		To:     []Category{"slow"},
		Method: Mean,
		Shape:  shape,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{1, 2} {
		e.Publish("flux", "fast", constArray(v, shape...))
	}
	got, err := e.Consume("flux", "slow")
	if err != nil {
		t.Fatal(err)
	}
	want := (0.0 + 0 + 1 + 2) / 4
	if got.Elements[0] != want {
		t.Errorf("padded mean: want %g, have %g", want, got.Elements[0])
	}
}

// Producer and consumer sharing the same increment exchange values
// unchanged.
func TestExchangerEqualRate(t *testing.T) {
	tds := map[Category]*TimeDomain{
		"left":  {Start: testStart, Step: time.Hour, N: 6},
		"right": {Start: testStart, Step: time.Hour, N: 6},
	}
	clock, err := NewClock([]Category{"left", "right"}, tds)
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewExchanger(clock, TransferSpec{
		Name:   "flux",
		From:   "left",
		To:     []Category{"right"},
		Method: Mean,
		Shape:  []int{2, 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	e.Publish("flux", "left", constArray(3.25, 2, 2))
	got, err := e.Consume("flux", "right")
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got.Elements {
		if v != 3.25 {
			t.Errorf("element %d: want 3.25, have %g", i, v)
		}
	}
}

// A consumer faster than the producer holds the most recent value.
func TestExchangerHold(t *testing.T) {
	shape := []int{2, 2}
	e, err := NewExchanger(exchangerClock(t), TransferSpec{
		Name:   "store",
		From:   "slow",
		To:     []Category{"fast"},
		Method: Point,
		Shape:  shape,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Before the first publish the zero element is held.
	got, err := e.Consume("store", "fast")
	if err != nil {
		t.Fatal(err)
	}
	if got.Elements[0] != 0 {
		t.Errorf("hold before first publish: want 0, have %g", got.Elements[0])
	}

	e.Publish("store", "slow", constArray(5, shape...))
	for i := 0; i < 3; i++ {
		got, err := e.Consume("store", "fast")
		if err != nil {
			t.Fatal(err)
		}
		if got.Elements[0] != 5 {
			t.Errorf("hold read %d: want 5, have %g", i, got.Elements[0])
		}
	}
}

func TestExchangerConsumeIsACopy(t *testing.T) {
	shape := []int{2, 2}
	e, err := NewExchanger(exchangerClock(t), TransferSpec{
		Name:   "flux",
		From:   "fast",
		To:     []Category{"slow"},
		Method: Point,
		Shape:  shape,
	})
	if err != nil {
		t.Fatal(err)
	}
	e.Publish("flux", "fast", constArray(1, shape...))
	got, _ := e.Consume("flux", "slow")
	got.Elements[0] = 99
	again, _ := e.Consume("flux", "slow")
	if again.Elements[0] != 1 {
		t.Error("consumer mutation leaked into the exchanger ring")
	}
}

func TestExchangerErrors(t *testing.T) {
	clock := exchangerClock(t)
	e, err := NewExchanger(clock, TransferSpec{
		Name:   "flux",
		From:   "fast",
		To:     []Category{"slow"},
		Method: Mean,
		Shape:  []int{2, 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Consume("unknown", "slow"); err == nil {
		t.Error("expected an error consuming an unregistered transfer")
	}
	if _, err := e.Consume("flux", "fast"); err == nil {
		t.Error("expected an error consuming from an undeclared destination")
	}
	if err := e.Publish("unknown", "fast", constArray(1, 2, 2)); err == nil {
		t.Error("expected an error publishing an unregistered transfer")
	}
	if err := e.Publish("flux", "slow", constArray(1, 2, 2)); err == nil {
		t.Error("expected an error publishing from the wrong category")
	}

	// Re-registration with conflicting metadata fails.
	if err := e.Register(TransferSpec{
		Name: "flux", From: "slow", Method: Mean, Shape: []int{2, 2},
	}); err == nil {
		t.Error("expected an error re-registering with a different source")
	}

	// Unknown categories fail eagerly.
	if err := e.Register(TransferSpec{
		Name: "other", From: "unknown", Method: Mean, Shape: []int{2, 2},
	}); err == nil {
		t.Error("expected an error for a source unknown to the clock")
	}
	if err := e.Register(TransferSpec{
		Name: "other", From: "fast", To: []Category{"unknown"}, Method: Mean, Shape: []int{2, 2},
	}); err == nil {
		t.Error("expected an error for a destination unknown to the clock")
	}
}

// Category increments that are not integer multiples of each other in
// either direction are rejected at registration, before any tick runs.
func TestExchangerNonIntegerRatio(t *testing.T) {
	tds := map[Category]*TimeDomain{
		"fast":  {Start: testStart, Step: time.Hour, N: 12},
		"two":   {Start: testStart, Step: 2 * time.Hour, N: 6},
		"three": {Start: testStart, Step: 3 * time.Hour, N: 4},
	}
	clock, err := NewClock([]Category{"fast", "two", "three"}, tds)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewExchanger(clock, TransferSpec{
		Name: "flux", From: "two", To: []Category{"three"}, Method: Mean, Shape: []int{2, 2},
	}); err == nil {
		t.Error("expected an error for a 2:3 producer/consumer ratio")
	}
}

func TestExchangerSnapshotRestore(t *testing.T) {
	shape := []int{2, 2}
	spec := TransferSpec{
		Name:   "flux",
		From:   "fast",
		To:     []Category{"slow"},
		Method: Mean,
		Shape:  shape,
	}
	e, err := NewExchanger(exchangerClock(t), spec)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{1, 2, 3} {
		e.Publish("flux", "fast", constArray(v, shape...))
	}
	snap := e.Snapshot()
	if snap["flux"].Produced != 3 {
		t.Errorf("snapshot counter: want 3, have %d", snap["flux"].Produced)
	}

	// The snapshot must be insulated from later publishes.
	e.Publish("flux", "fast", constArray(9, shape...))

	f, err := NewExchanger(exchangerClock(t), spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Restore(snap); err != nil {
		t.Fatal(err)
	}
	f.Publish("flux", "fast", constArray(4, shape...))
	e2, err := e.Consume("flux", "slow")
	if err != nil {
		t.Fatal(err)
	}
	// e published 1,2,3,9; f restored 1,2,3 then published 4.
	if e2.Elements[0] != (1.0+2+3+9)/4 {
		t.Errorf("original mean: want %g, have %g", (1.0+2+3+9)/4, e2.Elements[0])
	}
	f2, err := f.Consume("flux", "slow")
	if err != nil {
		t.Fatal(err)
	}
	if f2.Elements[0] != (1.0+2+3+4)/4 {
		t.Errorf("restored mean: want %g, have %g", (1.0+2+3+4)/4, f2.Elements[0])
	}

	if err := f.Restore(map[string]TransferState{}); err == nil {
		t.Error("expected an error restoring from a snapshot missing a transfer")
	}
}

func TestRunOrder(t *testing.T) {
	tds := map[Category]*TimeDomain{
		"a": {Start: testStart, Step: time.Hour, N: 6},
		"b": {Start: testStart, Step: time.Hour, N: 6},
		"c": {Start: testStart, Step: time.Hour, N: 6},
	}
	clock, err := NewClock([]Category{"a", "b", "c"}, tds)
	if err != nil {
		t.Fatal(err)
	}

	// c produces for b, b produces for a: declared order a,b,c must be
	// reversed so producers run first.
	e, err := NewExchanger(clock,
		TransferSpec{Name: "x", From: "c", To: []Category{"b"}, Method: Point, Shape: []int{1, 1}},
		TransferSpec{Name: "y", From: "b", To: []Category{"a"}, Method: Point, Shape: []int{1, 1}},
	)
	if err != nil {
		t.Fatal(err)
	}
	order, err := e.RunOrder([]Category{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	want := []Category{"c", "b", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("run order: want %v, have %v", want, order)
		}
	}
}

func TestRunOrderStable(t *testing.T) {
	tds := map[Category]*TimeDomain{
		"a": {Start: testStart, Step: time.Hour, N: 6},
		"b": {Start: testStart, Step: time.Hour, N: 6},
		"c": {Start: testStart, Step: time.Hour, N: 6},
	}
	clock, err := NewClock([]Category{"a", "b", "c"}, tds)
	if err != nil {
		t.Fatal(err)
	}
	// No transfers: the declared order is kept as-is.
	e, err := NewExchanger(clock)
	if err != nil {
		t.Fatal(err)
	}
	order, err := e.RunOrder([]Category{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	want := []Category{"a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("run order: want %v, have %v", want, order)
		}
	}
}

func TestRunOrderCycle(t *testing.T) {
	tds := map[Category]*TimeDomain{
		"a": {Start: testStart, Step: time.Hour, N: 6},
		"b": {Start: testStart, Step: time.Hour, N: 6},
	}
	clock, err := NewClock([]Category{"a", "b"}, tds)
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewExchanger(clock,
		TransferSpec{Name: "x", From: "a", To: []Category{"b"}, Method: Point, Shape: []int{1, 1}},
		TransferSpec{Name: "y", From: "b", To: []Category{"a"}, Method: Point, Shape: []int{1, 1}},
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunOrder([]Category{"a", "b"}); err == nil {
		t.Error("expected an error for a same-tick cyclic dependency")
	}

	f, err := NewExchanger(clock, TransferSpec{
		Name: "z", From: "a", To: []Category{"a"}, Method: Point, Shape: []int{1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.RunOrder([]Category{"a", "b"}); err == nil {
		t.Error("expected an error for a self-consuming category")
	}
}
