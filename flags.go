// RTLDAB - An rtl-sdr monitor for DAB and DAB+ multiplexes.
// Copyright (C) 2015 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bemasher/rtldab/config"
	"github.com/bemasher/rtldab/csv"
	"github.com/bemasher/rtldab/measure"
)

type monitorFlags struct {
	fs  *flag.FlagSet
	cfg *config.Config

	path       *string
	ensembleID measure.EnsembleIDFilter
	unique     *bool
	catalog    *bool
}

func newMonitorFlags() *monitorFlags {
	mf := &monitorFlags{
		fs:         flag.NewFlagSet("monitor", flag.ContinueOnError),
		cfg:        config.Default(),
		ensembleID: measure.EnsembleIDFilter{UintMap: make(measure.UintMap)},
	}

	mf.cfg.RegisterFlags(mf.fs)

	mf.path = mf.fs.String("config", "", "yaml configuration file, explicit flags take precedence")
	mf.fs.Var(mf.ensembleID, "filterid", "display only measurements matching an ensemble id in a comma-separated list of ids.")
	mf.unique = mf.fs.Bool("unique", false, "suppress measurements whose ensemble and service count are unchanged")
	mf.catalog = mf.fs.Bool("catalog", false, "print the service catalog to stderr with each measurement")

	return mf
}

func (mf *monitorFlags) mount(cmd *cobra.Command) {
	cmd.Flags().AddGoFlagSet(mf.fs)
}

// EnvOverride sets flags from RTLDAB_<NAME> environment variables. Flags given
// on the command line are left alone.
func EnvOverride(fs *flag.FlagSet, changed func(name string) bool) {
	fs.VisitAll(func(f *flag.Flag) {
		if changed(f.Name) {
			return
		}

		envName := "RTLDAB_" + strings.ToUpper(f.Name)
		flagValue := os.Getenv(envName)
		if flagValue == "" {
			return
		}

		entry := log.WithFields(logrus.Fields{
			"env":   envName,
			"flag":  f.Name,
			"value": flagValue,
		})

		if err := fs.Set(f.Name, flagValue); err != nil {
			entry.WithError(err).Warn("environment variable failed to override flag")
		} else {
			entry.Info("environment variable overrides flag")
		}
	})
}

// markChanged records flags parsed by cobra on fs so fs.Visit reports them.
func markChanged(cmd *cobra.Command, fs *flag.FlagSet) (err error) {
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || !cmd.Flags().Changed(f.Name) {
			return
		}
		err = errors.Wrapf(fs.Set(f.Name, f.Value.String()), "flag %s", f.Name)
	})
	return err
}

// JSON, XML and CSV all implement this interface so we can simplify log
// output formatting.
type Encoder interface {
	Encode(interface{}) error
}

func NewEncoder(format string, w io.Writer) (Encoder, error) {
	switch strings.ToLower(format) {
	case "plain":
		return PlainEncoder{w}, nil
	case "csv":
		return csv.NewEncoder(w), nil
	case "json":
		return jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w), nil
	case "xml":
		return xmlEncoder{xml.NewEncoder(w), w}, nil
	}
	return nil, errors.Errorf("invalid output format: %q", format)
}

type PlainEncoder struct {
	w io.Writer
}

func (pe PlainEncoder) Encode(v interface{}) (err error) {
	_, err = fmt.Fprintln(pe.w, v)
	return
}

// xmlEncoder terminates each element with a newline.
type xmlEncoder struct {
	*xml.Encoder
	w io.Writer
}

func (enc xmlEncoder) Encode(v interface{}) error {
	if err := enc.Encoder.Encode(v); err != nil {
		return err
	}
	_, err := fmt.Fprintln(enc.w)
	return err
}
