package gen

import (
	"bytes"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/bemasher/rtldab/crc"
	"github.com/bemasher/rtldab/eti"
)

func TestFIBChecksum(t *testing.T) {
	fib, err := FIB(EnsembleLabel(0xE1C5, "Thai PBS"), ServiceLabel(0x1001, "Thai PBS Radio"))
	if err == nil {
		t.Fatalf("expected oversized payload to fail, got %02X", fib)
	}

	fib, err = FIB(EnsembleInfo(0xE1C5, 0))
	if err != nil {
		t.Fatal(err)
	}

	if len(fib) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(fib))
	}

	if fib[6] != 0xFF {
		t.Fatalf("expected end marker after fig, got %02X", fib[6])
	}

	if !crc.NewFIB().Valid(fib) {
		t.Fatalf("checksum rejected: %02X", fib)
	}
}

func TestPackFIBs(t *testing.T) {
	figs := [][]byte{
		EnsembleInfo(0xE1C5, 0),
		EnsembleLabel(0xE1C5, "Thai PBS"),
		Subchannels(Subchannel(1, 0, false, 16)),
		Services(Service(0x1001, false, 0)),
		ServiceLabel(0x1001, "Thai PBS Radio"),
	}

	fibs, err := PackFIBs(figs...)
	if err != nil {
		t.Fatal(err)
	}

	var total int
	for _, fig := range figs {
		total += len(fig)
	}

	if len(fibs) < (total+29)/30 {
		t.Fatalf("packed %d bytes of figs into %d fibs", total, len(fibs))
	}

	fibCRC := crc.NewFIB()
	for idx, fib := range fibs {
		if !fibCRC.Valid(fib) {
			t.Fatalf("fib %d failed checksum", idx)
		}
	}
}

func TestFrames(t *testing.T) {
	frames, err := Frames(4, EnsembleInfo(0xE1C5, 0))
	if err != nil {
		t.Fatal(err)
	}

	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}

	var buf bytes.Buffer
	if err := WriteETI(&buf, frames); err != nil {
		t.Fatal(err)
	}

	r := eti.NewReader(&buf)
	for idx := 0; idx < 4; idx++ {
		frame, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if frame.Count() != uint8(idx) {
			t.Fatalf("expected frame count %d, got %d", idx, frame.Count())
		}
		if !frame.HasFIC() {
			t.Fatal("expected FIC flag")
		}
	}
}

func TestTone(t *testing.T) {
	const fs = 2.048e6

	tone := Tone(1024, 1e3, fs, 1)
	for idx := 1; idx < len(tone); idx++ {
		step := cmplx.Phase(complex128(tone[idx] * complex(real(tone[idx-1]), -imag(tone[idx-1]))))
		expected := 2 * math.Pi * 1e3 / fs
		if math.Abs(step-expected) > 1e-4 {
			t.Fatalf("sample %d: phase step %f, expected %f", idx, step, expected)
		}
	}
}

func TestCyclicPrefixSymbols(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	const useful, guard = 64, 16
	signal := CyclicPrefixSymbols(3, useful, guard, rng)

	for sym := 0; sym < 3; sym++ {
		s := signal[sym*(useful+guard):]
		for idx := 0; idx < guard; idx++ {
			if s[idx] != s[useful+idx] {
				t.Fatalf("symbol %d sample %d: prefix doesn't match tail", sym, idx)
			}
		}
	}
}

func TestU8(t *testing.T) {
	u8 := make([]byte, 4)
	U8([]complex64{complex(1, -1), 0}, u8)

	if expt := []byte{255, 0, 127, 127}; !bytes.Equal(u8, expt) {
		t.Fatalf("expected %d got %d", expt, u8)
	}
}
