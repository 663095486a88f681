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

// Package multirateutil holds the configuration and commands of the
// multirate command-line interface.
package multirateutil

import (
	"fmt"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spatialmodel/multirate"
	"github.com/spatialmodel/multirate/tracking"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to Multirate.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "scenario",
			usage: `
              scenario specifies the TOML scenario file describing the
              coupled run: the period and grid, the components with their
              rates and transfers, checkpoint settings, and record streams.`,
			shorthand:  "s",
			defaultVal: "multirate.toml",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "resume",
			usage: `
              resume restarts the run from the checkpoint taken at the
              given RFC3339 instant instead of from the period start.
              The special value "latest" selects the most recent
              checkpoint in the dump directory.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "spinup",
			usage: `
              spinup runs the whole simulation period the given number of
              times before the production run, carrying component states
              and exchanger contents across cycles.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "track",
			usage: `
              track records per-tick diagnostics (which categories ran,
              wall time, transfer statistics) into a SQLite database at
              the given path (".sqlite3" is appended).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "log_level",
			usage: `
              log_level sets the verbosity of log output
              (debug, info, warning, or error).`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("MULTIRATE")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(inspectCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and configures logging.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("multirate: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("multirate: %v", err)
	}
	logrus.SetLevel(level)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "multirate",
	Short: "A multi-rate simulation coupler.",
	Long: `Multirate couples simulation components that advance on different
time steps, exchanging rate-aligned variables between them and writing
checkpoints that runs can be resumed from without changing the results.
Use the subcommands specified below to access the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'MULTIRATE_var' where 'var'
is the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Multirate.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Multirate v%s\n", multirate.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a coupled simulation.",
	Long: `run carries out the coupled simulation described by the scenario file:
it assembles the model, runs any requested spin-up cycles, then runs the
simulation period (or, with --resume, the remainder of it), writing
checkpoints and record streams as configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := LoadScenarioFile(Cfg.GetString("scenario"))
		if err != nil {
			return err
		}
		return RunScenario(sc,
			Cfg.GetString("resume"),
			cast.ToInt(Cfg.Get("spinup")),
			Cfg.GetString("track"))
	},
	DisableAutoGenTag: true,
}

// RunScenario assembles and runs the model described by sc. resume is
// an RFC3339 instant, "latest", or empty; spinup is the number of
// spin-up cycles; track is the run-tracking database path, or empty for
// no tracking.
func RunScenario(sc *Scenario, resume string, spinup int, track string) error {
	log := logrus.WithField("scenario", sc.Identifier)

	m, err := sc.BuildModel(logrus.StandardLogger().Writer())
	if err != nil {
		return err
	}
	if track != "" {
		rec := tracking.New(track)
		defer rec.Flush()
		m.RunFuncs = append(m.RunFuncs, multirate.Track(rec))
	}

	log.Info("initializing model")
	if err := m.Init(); err != nil {
		return err
	}
	if spinup > 0 {
		log.WithField("cycles", spinup).Info("spinning up")
		if err := m.SpinUp(spinup); err != nil {
			return err
		}
	}
	switch resume {
	case "":
		log.Info("starting run")
		err = m.Run()
	case "latest":
		log.Info("resuming from latest checkpoint")
		err = m.Resume(sc.Dumps.Directory, time.Time{})
	default:
		at, perr := time.Parse(time.RFC3339, resume)
		if perr != nil {
			return fmt.Errorf("multirate: parsing --resume: %v", perr)
		}
		log.WithField("at", at).Info("resuming from checkpoint")
		err = m.Resume(sc.Dumps.Directory, at)
	}
	if err != nil {
		return err
	}
	log.Info("cleaning up")
	return m.Cleanup()
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [dump file]...",
	Short: "List the contents of checkpoint dump files.",
	Long: `inspect prints, for each given checkpoint dump file, the instants at
which checkpoints were taken. Resumable instants passed to 'run --resume'
must appear in every dump file of the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			times, err := multirate.DumpTimes(path)
			if err != nil {
				return err
			}
			cmd.Printf("%s:\n", path)
			for _, t := range times {
				cmd.Printf("\t%s\n", t.Format(time.RFC3339))
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}
