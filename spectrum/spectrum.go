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

// Package spectrum computes power spectra of baseband sample blocks and the
// summary figures the monitor reports from them.
package spectrum

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/runningwild/go-fftw/fftw32"
)

const (
	// Floor keeps empty bins finite in dB.
	floor = 1e-12

	// DefaultBandwidth is reported when no -6 dB region can be measured,
	// the nominal width of a DAB ensemble.
	DefaultBandwidth = 1536e3
)

type Engine struct {
	FFTSize int

	window []float64
	arr    *fftw32.Array
}

func NewEngine(fftSize int) *Engine {
	e := &Engine{FFTSize: fftSize}
	e.init()
	return e
}

func (e *Engine) init() {
	if e.FFTSize <= 0 {
		e.window, e.arr = nil, nil
		return
	}

	e.window = make([]float64, e.FFTSize)
	if e.FFTSize == 1 {
		e.window[0] = 1
	}
	for idx := range e.window {
		if e.FFTSize > 1 {
			e.window[idx] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(idx)/float64(e.FFTSize-1))
		}
	}

	e.arr = fftw32.NewArray(e.FFTSize)
}

// SetFFTSize changes the transform length for subsequent calls to Analyze.
func (e *Engine) SetFFTSize(n int) {
	if n != e.FFTSize || e.arr == nil {
		e.FFTSize = n
		e.init()
	}
}

// Spectrum is an fftshifted power spectrum. Freqs are absolute in Hz, Power
// in dB.
type Spectrum struct {
	Freqs []float64
	Power []float64
}

// Analyze zero pads or truncates samples to the FFT size, applies a Hann
// window and transforms.
func (e *Engine) Analyze(samples []complex64, sampleRate, centerFreq float64) Spectrum {
	n := e.FFTSize
	if n <= 0 {
		return Spectrum{}
	}
	if e.arr == nil || len(e.arr.Elems) != n {
		e.init()
	}

	for idx := range e.arr.Elems {
		if idx < len(samples) {
			e.arr.Elems[idx] = samples[idx] * complex(float32(e.window[idx]), 0)
		} else {
			e.arr.Elems[idx] = 0
		}
	}

	bins := fftw32.FFT(e.arr).Elems

	s := Spectrum{
		Freqs: make([]float64, n),
		Power: make([]float64, n),
	}

	half := n / 2
	for idx := range s.Power {
		// fftshift: negative frequencies first.
		bin := (idx + n - half) % n
		s.Power[idx] = 20 * math.Log10(cmplx.Abs(complex128(bins[bin]))+floor)
		s.Freqs[idx] = float64(idx-half)*sampleRate/float64(n) + centerFreq
	}

	return s
}

type Stats struct {
	SignalStrength float64 // dB
	NoiseFloor     float64 // dB
	SNR            float64 // dB
	PeakFrequency  float64 // Hz
	Bandwidth      float64 // Hz
}

// Stats reports the peak as signal strength, the median as noise floor and
// the width of the contiguous region around the peak within 6 dB of it.
func (s Spectrum) Stats() (st Stats) {
	st.Bandwidth = DefaultBandwidth
	if len(s.Power) == 0 {
		return
	}

	peak := 0
	for idx, p := range s.Power {
		if p > s.Power[peak] {
			peak = idx
		}
	}

	st.SignalStrength = s.Power[peak]
	st.PeakFrequency = s.Freqs[peak]
	st.NoiseFloor = median(s.Power)
	st.SNR = st.SignalStrength - st.NoiseFloor

	threshold := st.SignalStrength - 6
	lower, upper := peak, peak
	for lower > 0 && s.Power[lower-1] >= threshold {
		lower--
	}
	for upper < len(s.Power)-1 && s.Power[upper+1] >= threshold {
		upper++
	}

	if upper > lower && st.SNR > 0 {
		st.Bandwidth = s.Freqs[upper] - s.Freqs[lower]
	}

	return
}

func median(v []float64) float64 {
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
