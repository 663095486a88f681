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

package multirateutil

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"

	"github.com/spatialmodel/multirate"
)

// Scenario is the TOML description of a coupled run: the shared period
// and grid, the components with their rates and transfers, the
// checkpoint settings, and any record streams.
type Scenario struct {
	// Identifier prefixes the names of the files the run creates.
	Identifier string

	// Tolerance is the relative tolerance for floating-point
	// comparisons during setup. Zero selects the default.
	Tolerance float64

	Period struct {
		Start time.Time
		End   time.Time
	}

	Grid struct {
		Ny, Nx     int
		W, S, E, N float64
	}

	Dumps struct {
		// Directory receives the checkpoint dump files.
		Directory string
		// Frequency is the checkpoint frequency (for example "6h");
		// empty keeps only the initial-conditions checkpoint.
		Frequency string
	}

	Components []ScenarioComponent
	Records    []ScenarioRecord
}

// ScenarioComponent declares one substitute component in a scenario.
type ScenarioComponent struct {
	Category string

	// Kind selects the substitute: "null" publishes zeros, "data"
	// replays arrays from DataFile.
	Kind string

	// Step is the component time step, for example "1h".
	Step string

	SolverHistory int

	// DataFile is the netCDF file replayed by a data component; it must
	// hold one (time, y, x) variable per produced transfer.
	DataFile string

	Produces []ScenarioTransfer
	Consumes []ScenarioConsumed
}

// ScenarioTransfer declares a transfer a scenario component produces.
type ScenarioTransfer struct {
	Name   string
	Method string
	Units  string
}

// ScenarioConsumed declares a transfer a scenario component consumes.
type ScenarioConsumed struct {
	Name  string
	Units string
}

// ScenarioRecord declares one record stream.
type ScenarioRecord struct {
	Path      string
	Frequency string
	Variables map[string]string
}

// LoadScenario reads a scenario from TOML.
func LoadScenario(r io.Reader) (*Scenario, error) {
	s := new(Scenario)
	if _, err := toml.DecodeReader(r, s); err != nil {
		return nil, fmt.Errorf("multirate: decoding scenario: %v", err)
	}
	if s.Identifier == "" {
		return nil, fmt.Errorf("multirate: scenario has no Identifier")
	}
	if !s.Period.End.After(s.Period.Start) {
		return nil, fmt.Errorf("multirate: scenario period end %v is not after start %v",
			s.Period.End, s.Period.Start)
	}
	return s, nil
}

// LoadScenarioFile reads a scenario from a TOML file.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("multirate: opening scenario: %v", err)
	}
	defer f.Close()
	return LoadScenario(f)
}

// BuildModel assembles a Model from the scenario: substitute components
// with their declared transfers, the default run chains, checkpoints in
// the configured directory, and the configured record streams.
func (s *Scenario) BuildModel(logw io.Writer) (*multirate.Model, error) {
	config := multirate.DefaultConfig()
	if s.Tolerance > 0 {
		config.Tolerance = s.Tolerance
	}

	sd := &multirate.SpaceDomain{
		Bounds: &geom.Bounds{
			Min: geom.Point{X: s.Grid.W, Y: s.Grid.S},
			Max: geom.Point{X: s.Grid.E, Y: s.Grid.N},
		},
		Ny: s.Grid.Ny,
		Nx: s.Grid.Nx,
	}

	var components []multirate.Component
	for _, sc := range s.Components {
		c, err := s.buildComponent(sc, sd)
		if err != nil {
			return nil, err
		}
		components = append(components, c)
	}

	var dumpFreq time.Duration
	if s.Dumps.Frequency != "" {
		var err error
		dumpFreq, err = time.ParseDuration(s.Dumps.Frequency)
		if err != nil {
			return nil, fmt.Errorf("multirate: scenario dump frequency: %v", err)
		}
	}

	m := multirate.NewModel(s.Identifier, config, s.Dumps.Directory, dumpFreq, components...)
	if logw != nil {
		m.RunFuncs[len(m.RunFuncs)-1] = multirate.Log(logw)
	}

	for i := range s.Records {
		rc := s.Records[i]
		freq, err := time.ParseDuration(rc.Frequency)
		if err != nil {
			return nil, fmt.Errorf("multirate: record stream %s frequency: %v", rc.Path, err)
		}
		rs := &multirate.RecordStream{
			Path:      rc.Path,
			Frequency: freq,
			Variables: rc.Variables,
		}
		m.InitFuncs = append(m.InitFuncs, rs.InitFunc())
		m.RunFuncs = append(m.RunFuncs, rs.RecordFunc())
	}
	return m, nil
}

func (s *Scenario) buildComponent(sc ScenarioComponent, sd *multirate.SpaceDomain) (multirate.Component, error) {
	step, err := time.ParseDuration(sc.Step)
	if err != nil {
		return nil, fmt.Errorf("multirate: category %s step: %v", sc.Category, err)
	}
	period := s.Period.End.Sub(s.Period.Start)
	if step <= 0 || period%step != 0 {
		return nil, fmt.Errorf("multirate: category %s step %v does not evenly divide "+
			"the period %v", sc.Category, step, period)
	}
	td, err := multirate.NewTimeDomain(s.Period.Start, step, int(period/step))
	if err != nil {
		return nil, fmt.Errorf("multirate: category %s: %v", sc.Category, err)
	}

	spec := multirate.ComponentSpec{
		Category:      multirate.Category(sc.Category),
		TimeDomain:    td,
		SpaceDomain:   sd,
		SolverHistory: sc.SolverHistory,
	}
	for _, p := range sc.Produces {
		method, err := multirate.ParseAggregationMethod(p.Method)
		if err != nil {
			return nil, fmt.Errorf("multirate: category %s transfer %s: %v",
				sc.Category, p.Name, err)
		}
		spec.Produces = append(spec.Produces, multirate.ProducedTransfer{
			Name:   p.Name,
			Method: method,
			Units:  p.Units,
		})
	}
	for _, c := range sc.Consumes {
		spec.Consumes = append(spec.Consumes, multirate.ConsumedTransfer{
			Name:  c.Name,
			Units: c.Units,
		})
	}

	switch sc.Kind {
	case "null":
		return &multirate.NullComponent{ComponentSpec: spec}, nil
	case "data":
		var names []string
		for _, p := range spec.Produces {
			names = append(names, p.Name)
		}
		data, err := loadReplayData(sc.DataFile, names, td.N, sd.Ny, sd.Nx)
		if err != nil {
			return nil, fmt.Errorf("multirate: category %s: %v", sc.Category, err)
		}
		return &multirate.DataComponent{ComponentSpec: spec, Data: data}, nil
	}
	return nil, fmt.Errorf("multirate: category %s has unknown kind %q (want \"null\" or \"data\")",
		sc.Category, sc.Kind)
}

// loadReplayData reads one (time, y, x) variable per name from a netCDF
// file into arrays for a DataComponent.
func loadReplayData(path string, names []string, n, ny, nx int) (map[string]*sparse.DenseArray, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening replay data: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("opening replay data %s: %v", path, err)
	}

	data := make(map[string]*sparse.DenseArray, len(names))
	for _, name := range names {
		lengths := f.Header.Lengths(name)
		if len(lengths) != 3 {
			return nil, fmt.Errorf("replay data %s variable %s has %d dimensions; need 3 "+
				"(time, y, x)", path, name, len(lengths))
		}
		if lengths[1] != ny || lengths[2] != nx {
			return nil, fmt.Errorf("replay data %s variable %s has shape [%d %d]; the grid "+
				"is [%d %d]", path, name, lengths[1], lengths[2], ny, nx)
		}
		r := f.Reader(name, []int{0, 0, 0}, []int{n, ny, nx})
		buf := r.Zero(n * ny * nx)
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("reading replay data %s variable %s: %v", path, name, err)
		}
		vals, ok := buf.([]float64)
		if !ok {
			return nil, fmt.Errorf("replay data %s variable %s is not float64", path, name)
		}
		a := sparse.ZerosDense(n, ny, nx)
		copy(a.Elements, vals)
		data[name] = a
	}
	return data, nil
}
