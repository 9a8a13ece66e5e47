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
	"bufio"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bemasher/rtldab/fic"
	"github.com/bemasher/rtldab/gen"
)

func newGenETICmd() *cobra.Command {
	var (
		frames        int
		ensembleID    uint16
		ensembleLabel string
		serviceID     uint16
		serviceLabel  string
		subchannelID  uint8
		bitrate       uint
	)

	cmd := &cobra.Command{
		Use:   "geneti [flags] output.eti",
		Short: "Write a synthetic ETI-NI stream carrying one audio service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, ok := eepSize(bitrate)
			if !ok {
				return errors.Errorf("no EEP 3-A size for %d kbps", bitrate)
			}

			figs := [][]byte{
				gen.EnsembleInfo(ensembleID, 0),
				gen.Subchannels(gen.LongFormSubchannel(subchannelID, 0, 0, 3, size)),
				gen.Services(gen.Service(serviceID, false, 0, fic.ServiceComponent{
					TMID:         0,
					Type:         63,
					SubchannelID: subchannelID,
					Primary:      true,
				})),
				gen.EnsembleLabel(ensembleID, ensembleLabel),
				gen.ServiceLabel(serviceID, serviceLabel),
			}

			data, err := gen.Frames(frames, figs...)
			if err != nil {
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return errors.Wrap(err, "create output")
			}
			defer f.Close()

			w := bufio.NewWriter(f)
			if err := gen.WriteETI(w, data); err != nil {
				return errors.Wrap(err, "write frames")
			}
			if err := w.Flush(); err != nil {
				return errors.Wrap(err, "write frames")
			}

			log.WithFields(logrus.Fields{
				"File":     args[0],
				"Frames":   frames,
				"Ensemble": fmt.Sprintf("0x%04X", ensembleID),
				"Service":  fmt.Sprintf("0x%04X", serviceID),
			}).Info("wrote eti")

			return f.Close()
		},
	}

	cmd.Flags().IntVarP(&frames, "frames", "n", 250, "number of 24ms frames to write")
	cmd.Flags().Uint16Var(&ensembleID, "ensembleid", 0xE1C5, "ensemble identifier")
	cmd.Flags().StringVar(&ensembleLabel, "ensemblelabel", "Thai PBS", "ensemble label, at most 16 characters")
	cmd.Flags().Uint16Var(&serviceID, "serviceid", 0x1001, "service identifier")
	cmd.Flags().StringVar(&serviceLabel, "servicelabel", "Thai PBS Radio", "service label, at most 16 characters")
	cmd.Flags().Uint8Var(&subchannelID, "subchannel", 1, "subchannel carrying the service")
	cmd.Flags().UintVar(&bitrate, "bitrate", 96, "subchannel bitrate in kbps, a multiple of 8")

	return cmd
}

// eepSize returns the subchannel size in capacity units of an EEP 3-A
// subchannel at the given bitrate.
func eepSize(kbps uint) (uint16, bool) {
	if kbps == 0 || kbps%8 != 0 || kbps > 1024 {
		return 0, false
	}
	return uint16(kbps / 8 * 6), true
}
