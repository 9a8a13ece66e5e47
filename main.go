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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bemasher/rtldab/config"
	"github.com/bemasher/rtldab/httpapi"
	"github.com/bemasher/rtldab/measure"
	"github.com/bemasher/rtldab/pipeline"
)

var (
	buildTag   = "dev"     // v#.#.#
	buildDate  = "unknown" // date -u '+%Y-%m-%d'
	commitHash = "unknown" // git rev-parse HEAD
)

var log = logrus.New()

var mon = newMonitorFlags()

var rootCmd = &cobra.Command{
	Use:           "rtldab",
	Short:         "An rtl-sdr monitor for DAB and DAB+ multiplexes.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: !term.IsTerminal(int(os.Stderr.Fd())),
	})

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Measure signal quality and decode the service catalog",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return monitor(cmd) },
	}
	mon.mount(monitorCmd)
	rootCmd.AddCommand(monitorCmd)

	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newGenETICmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Display build date and commit hash",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Build Tag: ", buildTag)
			fmt.Println("Build Date:", buildDate)
			fmt.Println("Commit:    ", commitHash)
		},
	})
}

// setLevel applies a configured log level to the shared logger.
func setLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	log.SetLevel(lvl)
	return nil
}

func monitor(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := setLevel(cfg.Logging.Level); err != nil {
		return err
	}
	cfg.Log(log)

	encoder, err := NewEncoder(cfg.Output.Format, os.Stdout)
	if err != nil {
		return err
	}

	var fc measure.FilterChain
	if cfg.Output.MinSNR != 0 {
		fc.Add(measure.MinSNRFilter(cfg.Output.MinSNR))
	}
	if len(mon.ensembleID.UintMap) > 0 {
		fc.Add(mon.ensembleID)
	}
	if *mon.unique {
		fc.Add(measure.NewChangeFilter())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Interruption and the time limit both end reporting.
	stop, stopSignals := signal.NotifyContext(ctx, os.Interrupt)
	defer stopSignals()
	if cfg.Output.Duration != 0 {
		var cancelLimit context.CancelFunc
		stop, cancelLimit = context.WithTimeout(stop, cfg.Output.Duration)
		defer cancelLimit()
	}

	params := pipeline.ParamsFromConfig(cfg)
	p := pipeline.New(log, params)

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	rep := reporter{
		enc: encoder,
		fc:  fc,
	}
	if *mon.catalog {
		rep.catalog = os.Stderr
	}

	if cfg.HTTP.Addr != "" {
		rep.keepAlive = true

		api := httpapi.New(log, p, params)
		go func() {
			if err := api.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
				log.WithError(err).Error("http api stopped")
			}
		}()
	}

	if err := p.Start(params); err != nil {
		return err
	}

	return rep.run(stop, p)
}

// reporter writes the measurements of a pipeline.
type reporter struct {
	enc     Encoder
	fc      measure.FilterChain
	catalog io.Writer

	// keepAlive outlives failed sessions, the http api may start another.
	keepAlive bool
}

// run reports until ctx ends or, without keepAlive, a session fails.
func (rep reporter) run(ctx context.Context, p *pipeline.Pipeline) error {
	start := time.Now()
	results := p.Results()
	failures := p.Failures()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				log.WithField("elapsed", time.Since(start)).Info("time limit reached")
			} else {
				log.Info("interrupted")
			}
			return nil
		case err, ok := <-failures:
			if !ok {
				return nil
			}
			if !rep.keepAlive {
				return errors.Wrap(err, "session failed")
			}
			log.WithError(err).Warn("session failed, waiting for api")
		case r, ok := <-results:
			if !ok {
				return nil
			}

			if !rep.fc.Match(r.Measurement) {
				continue
			}

			if err := rep.enc.Encode(r.Measurement); err != nil {
				return errors.Wrap(err, "encode measurement")
			}

			if rep.catalog != nil && r.Catalog.Ensemble != nil {
				fmt.Fprint(rep.catalog, r.Catalog)
			}
		}
	}
}

// loadConfig merges the configuration sources of a command. Environment
// variables fill in flags not given on the command line, a config file
// replaces the defaults and explicitly set flags win over everything.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	EnvOverride(mon.fs, cmd.Flags().Changed)
	if err := markChanged(cmd, mon.fs); err != nil {
		return nil, err
	}

	cfg := mon.cfg
	if *mon.path != "" {
		var err error
		if cfg, err = config.Load(*mon.path); err != nil {
			return nil, err
		}

		if err := cfg.Override(mon.fs); err != nil {
			return nil, err
		}
	}

	return cfg, cfg.Validate()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
