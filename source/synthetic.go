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

package source

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bemasher/rtldab/gen"
)

func init() {
	Register("synthetic", NewSynthetic)
}

// Mode I symbol dimensions at 2.048 MHz.
const (
	syntheticUseful = 2048
	syntheticGuard  = 504
)

// Synthetic produces a continuous stream of cyclic prefixed symbols plus
// noise. Gain scales the signal, in dB relative to unit power, 0 leaves the
// signal unscaled. Reads are paced to the sample rate when Timeout is set.
type Synthetic struct {
	mu sync.Mutex

	rng        *rand.Rand
	pending    []complex64
	amplitude  float64
	noise      float64
	sampleRate uint32
	pace       bool
	centerFreq uint32
}

func NewSynthetic(p Params) (Source, error) {
	s := &Synthetic{
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		noise:      0.01,
		sampleRate: p.SampleRate,
		pace:       p.Timeout > 0,
		centerFreq: p.CenterFreq,
	}
	s.SetGain(p.Gain)

	return s, nil
}

func (s *Synthetic) ReadBlock(block []complex64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	for filled := 0; filled < len(block); {
		if len(s.pending) == 0 {
			s.pending = gen.CyclicPrefixSymbols(4, syntheticUseful, syntheticGuard, s.rng)
			for idx := range s.pending {
				s.pending[idx] *= complex(float32(s.amplitude), 0)
			}
			gen.AddNoise(s.pending, s.noise, s.rng)
		}

		n := copy(block[filled:], s.pending)
		s.pending = s.pending[n:]
		filled += n
	}

	if s.pace && s.sampleRate > 0 {
		d := time.Duration(float64(len(block)) / float64(s.sampleRate) * float64(time.Second))
		time.Sleep(d - time.Since(start))
	}

	return nil
}

func (s *Synthetic) SetCenterFreq(hz uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.centerFreq = hz
	s.pending = nil
	return nil
}

func (s *Synthetic) SetGain(db float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.amplitude = math.Pow(10, db/20)
	return nil
}

func (s *Synthetic) Close() error {
	return nil
}
