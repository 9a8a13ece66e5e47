// Package gen builds synthetic ETI streams and baseband signals for tests
// and the simulated sample source.
package gen

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
)

// Tone returns a complex exponential at freq Hz.
func Tone(samples int, freq, sampleRate, amplitude float64) []complex64 {
	signal := make([]complex64, samples)

	for idx := range signal {
		s, c := math.Sincos(2 * math.Pi * float64(idx) * freq / sampleRate)
		signal[idx] = complex64(complex(c*amplitude, s*amplitude))
	}

	return signal
}

// AddNoise adds circular complex gaussian noise of the given total power.
func AddNoise(signal []complex64, power float64, rng *rand.Rand) {
	sigma := math.Sqrt(power / 2)
	for idx := range signal {
		signal[idx] += complex64(complex(rng.NormFloat64()*sigma, rng.NormFloat64()*sigma))
	}
}

func Noise(samples int, power float64, rng *rand.Rand) []complex64 {
	signal := make([]complex64, samples)
	AddNoise(signal, power, rng)
	return signal
}

// CyclicPrefixSymbols returns consecutive OFDM-like symbols. Each has a
// gaussian useful part of useful samples preceded by a copy of its last guard
// samples.
func CyclicPrefixSymbols(symbols, useful, guard int, rng *rand.Rand) []complex64 {
	if guard > useful {
		panic(fmt.Errorf("guard longer than symbol: %d > %d", guard, useful))
	}

	symLen := useful + guard
	signal := make([]complex64, symbols*symLen)

	for sym := 0; sym < symbols; sym++ {
		s := signal[sym*symLen : (sym+1)*symLen]
		body := s[guard:]
		AddNoise(body, 1, rng)
		copy(s[:guard], body[useful-guard:])
	}

	return signal
}

// QPSK returns random unit power QPSK symbols, each held for sps samples.
func QPSK(symbols, sps int, rng *rand.Rand) []complex64 {
	signal := make([]complex64, symbols*sps)

	for sym := 0; sym < symbols; sym++ {
		v := complex64(complex(
			float64(rng.Intn(2)*2-1)/math.Sqrt2,
			float64(rng.Intn(2)*2-1)/math.Sqrt2,
		))
		for idx := 0; idx < sps; idx++ {
			signal[sym*sps+idx] = v
		}
	}

	return signal
}

// Rotate mixes the signal up by freq Hz.
func Rotate(signal []complex64, freq, sampleRate float64) {
	for idx := range signal {
		signal[idx] *= complex64(cmplx.Rect(1, 2*math.Pi*float64(idx)*freq/sampleRate))
	}
}

// U8 interleaves a signal as unsigned 8-bit I/Q the way rtl_tcp delivers it.
func U8(signal []complex64, u8 []byte) {
	if len(signal)<<1 != len(u8) {
		panic(fmt.Errorf("arrays must have same dimensions: %d != %d", len(signal)<<1, len(u8)))
	}

	for idx, val := range signal {
		u8[idx<<1] = clampU8(float64(real(val))*127.5 + 127.5)
		u8[idx<<1+1] = clampU8(float64(imag(val))*127.5 + 127.5)
	}
}

func clampU8(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}
