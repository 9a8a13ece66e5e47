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

// Package quality estimates DAB reception quality from raw baseband samples.
// The figures are estimates, no demodulation is performed.
package quality

import (
	"math"
	"math/cmplx"
)

// DAB transmission mode I timing.
const (
	SymbolDuration = 1246e-6
	GuardDuration  = 246e-6
)

// SymbolDecimation is the number of samples per assumed QPSK symbol.
const SymbolDecimation = 2

type Report struct {
	Sync          float64 // [0, 100]
	Constellation float64 // [0, 100]
	EVM           float64
	CarrierOffset float64 // Hz
	BER           float64
}

// Estimate runs every estimator over a block.
func Estimate(samples []complex64, sampleRate float64) (r Report) {
	r.Sync = SyncQuality(samples, sampleRate)
	r.Constellation, r.EVM = ConstellationQuality(samples)
	r.CarrierOffset = CarrierOffset(samples, sampleRate)
	r.BER = BitErrorEstimate(r.EVM)
	return
}

// SyncQuality scores how well the guard interval of each symbol matches the
// tail it was copied from. Symbol timing is unknown, so a coarse grid of
// start offsets across one symbol is searched and the best average
// normalized correlation is reported.
func SyncQuality(samples []complex64, sampleRate float64) float64 {
	symLen := int(math.Round(SymbolDuration * sampleRate))
	guard := int(math.Round(GuardDuration * sampleRate))
	useful := symLen - guard

	if guard <= 0 || useful <= 0 || len(samples) < symLen {
		return 0
	}

	step := guard / 8
	if step < 1 {
		step = 1
	}

	best := 0.0
	for offset := 0; offset < symLen && offset+symLen <= len(samples); offset += step {
		var sum float64
		var windows int

		for pos := offset; pos+symLen <= len(samples); pos += symLen {
			corr, ok := correlate(samples[pos:pos+guard], samples[pos+useful:pos+symLen])
			if !ok {
				continue
			}
			sum += corr
			windows++
		}

		if windows > 0 && sum/float64(windows) > best {
			best = sum / float64(windows)
		}
	}

	return clamp(best * 100)
}

// correlate returns the magnitude of the normalized correlation of a and b.
func correlate(a, b []complex64) (float64, bool) {
	var cross complex128
	var powA, powB float64

	for idx := range a {
		x, y := complex128(a[idx]), complex128(b[idx])
		cross += x * cmplx.Conj(y)
		powA += real(x)*real(x) + imag(x)*imag(x)
		powB += real(y)*real(y) + imag(y)*imag(y)
	}

	denom := math.Sqrt(powA * powB)
	if denom == 0 {
		return 0, false
	}

	return cmplx.Abs(cross) / denom, true
}

// ConstellationQuality decimates to one sample per symbol, normalizes to unit
// power and averages the magnitude of the error vector to the nearest QPSK
// point.
func ConstellationQuality(samples []complex64) (score, evm float64) {
	var power float64
	var count int
	for idx := 0; idx < len(samples); idx += SymbolDecimation {
		v := complex128(samples[idx])
		power += real(v)*real(v) + imag(v)*imag(v)
		count++
	}

	if count == 0 || power == 0 {
		return 0, 0
	}

	scale := 1 / math.Sqrt(power/float64(count))
	point := 1 / math.Sqrt2

	var errSum float64
	for idx := 0; idx < len(samples); idx += SymbolDecimation {
		v := complex128(samples[idx]) * complex(scale, 0)
		ideal := complex(math.Copysign(point, real(v)), math.Copysign(point, imag(v)))
		errSum += cmplx.Abs(v - ideal)
	}

	evm = errSum / float64(count)
	return math.Max(0, (1-evm)*100), evm
}

// CarrierOffset estimates the frequency offset from the mean phase advance
// between consecutive samples.
func CarrierOffset(samples []complex64, sampleRate float64) float64 {
	return carrierOffset(samples, sampleRate, 1)
}

func carrierOffset(samples []complex64, sampleRate float64, lag int) float64 {
	if lag <= 0 || len(samples) <= lag {
		return 0
	}

	var acc complex128
	for idx := lag; idx < len(samples); idx++ {
		acc += complex128(samples[idx]) * cmplx.Conj(complex128(samples[idx-lag]))
	}

	if acc == 0 {
		return 0
	}

	return cmplx.Phase(acc) / (2 * math.Pi * float64(lag)) * sampleRate
}

// BitErrorEstimate is the QPSK bit error rate at the SNR implied by evm.
func BitErrorEstimate(evm float64) float64 {
	if evm <= 0 {
		return 0
	}
	return 0.5 * math.Erfc(math.Sqrt(1/(2*evm*evm)))
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
