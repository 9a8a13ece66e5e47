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

package pipeline

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/bemasher/rtldab/catalog"
	"github.com/bemasher/rtldab/config"
	"github.com/bemasher/rtldab/eti"
	"github.com/bemasher/rtldab/fic"
	"github.com/bemasher/rtldab/measure"
	"github.com/bemasher/rtldab/source"
)

type State int

const (
	Idle State = iota
	Connecting
	Running
	Stopping
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Error:
		return "error"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Params configures a session.
type Params struct {
	Source       string
	SourceParams source.Params
	ETIFile      string

	FFTSize     int
	BlockSize   int
	Interval    time.Duration
	MaxRetries  int
	Backoff     time.Duration
	NoSignalSNR float64
}

func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Source: cfg.Source.Type,
		SourceParams: source.Params{
			Addr:       cfg.Source.Addr,
			CenterFreq: uint32(cfg.Source.FrequencyHz),
			SampleRate: uint32(cfg.Source.SampleRate),
			Gain:       cfg.Source.Gain,
			Timeout:    cfg.Analysis.ReadTimeout,
			Loop:       cfg.Source.Loop,
		},
		ETIFile:     cfg.ETI.File,
		FFTSize:     cfg.Analysis.FFTSize,
		BlockSize:   cfg.Analysis.BlockSize,
		Interval:    cfg.Analysis.Interval,
		MaxRetries:  cfg.Analysis.MaxRetries,
		Backoff:     cfg.Analysis.Backoff,
		NoSignalSNR: cfg.Analysis.NoSignalSNR,
	}
}

// Duration is encoded as a string such as "500ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "duration must be a string such as \"500ms\"")
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Settings may be changed while a session runs. Nil fields are left as they
// are.
type Settings struct {
	FFTSize  *int      `json:"fft_size,omitempty"`
	Gain     *float64  `json:"gain,omitempty"`
	Interval *Duration `json:"interval,omitempty"`
}

// apply copies the given settings onto params.
func (s Settings) apply(params *Params) {
	if s.FFTSize != nil {
		params.FFTSize = *s.FFTSize
	}
	if s.Gain != nil {
		params.SourceParams.Gain = *s.Gain
	}
	if s.Interval != nil {
		params.Interval = time.Duration(*s.Interval)
	}
}

type Status struct {
	State     State  `json:"state"`
	Session   string `json:"session,omitempty"`
	Source    string `json:"source"`
	Frequency uint32 `json:"frequency_hz"`
	LastError string `json:"last_error,omitempty"`
	Failures  int    `json:"consecutive_failures"`
	NoSignal  bool   `json:"no_signal"`
	Ticks     uint64 `json:"ticks"`

	FFTSize  int      `json:"fft_size"`
	Gain     float64  `json:"gain"`
	Interval Duration `json:"interval"`
}

// settings records the adjustable parameters in the status.
func (s *Status) settings(params Params) {
	s.FFTSize = params.FFTSize
	s.Gain = params.SourceParams.Gain
	s.Interval = Duration(params.Interval)
}

// Result is produced once per tick.
type Result struct {
	Measurement measure.Measurement `json:"measurement"`
	Catalog     catalog.Snapshot    `json:"-"`
	FFTSize     int                 `json:"fft_size"`
	ETI         eti.Stats           `json:"eti"`
	FIC         fic.Stats           `json:"fic"`
}
