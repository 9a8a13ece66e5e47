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
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bemasher/rtldab/catalog"
	"github.com/bemasher/rtldab/config"
	"github.com/bemasher/rtldab/eti"
	"github.com/bemasher/rtldab/fic"
)

func newCatalogCmd() *cobra.Command {
	var (
		format    string
		frequency config.Frequency
	)

	cmd := &cobra.Command{
		Use:   "catalog [flags] file.eti...",
		Short: "Decode the service catalog of recorded ETI-NI streams",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := NewEncoder(format, os.Stdout)
			if err != nil {
				return err
			}

			for _, filename := range args {
				snap, err := decodeCatalog(filename, uint64(frequency))
				if err != nil {
					return err
				}

				if format == "plain" {
					fmt.Print(snap)
					continue
				}
				if err := enc.Encode(snap.Export()); err != nil {
					return errors.Wrap(err, "encode catalog")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "plain", "catalog output format: plain, json, or xml")
	cmd.Flags().Var(pflagValue{&frequency}, "centerfreq", "frequency the stream was received on, accepts SI suffixes")

	return cmd
}

// decodeCatalog reads every frame of an ETI-NI file and returns the catalog
// it describes.
func decodeCatalog(filename string, frequency uint64) (catalog.Snapshot, error) {
	f, err := os.Open(filename)
	if err != nil {
		return catalog.Snapshot{}, errors.Wrap(err, "open eti")
	}
	defer f.Close()

	flog := log.WithField("file", filename)

	cat := catalog.New()
	cat.SetFrequency(frequency)

	dec := fic.NewDecoder(flog)
	r := eti.NewReader(f)

	for {
		frame, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return catalog.Snapshot{}, errors.Wrapf(err, "read %s", filename)
		}

		for _, fib := range dec.DecodeFIC(frame.FIC) {
			for _, frag := range fib.Fragments {
				cat.Apply(frag)
			}
		}
	}

	es, fs := r.Stats(), dec.Stats()
	services, subchannels := cat.Len()
	flog.WithFields(logrus.Fields{
		"Frames":      es.Frames,
		"ShortFrames": es.ShortFrames,
		"FIBs":        fs.FIBs,
		"CRCErrors":   fs.CRCErrors,
		"Services":    services,
		"Subchannels": subchannels,
	}).Info("decoded")

	return cat.Snapshot(), nil
}

// pflagValue adapts a flag.Value to cobra's flag set.
type pflagValue struct {
	*config.Frequency
}

func (pflagValue) Type() string {
	return "frequency"
}
