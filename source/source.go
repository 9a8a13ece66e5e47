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

// Package source provides blocks of complex baseband samples from an rtl_tcp
// server, a recorded IQ file or a synthetic generator.
package source

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUnavailable is returned when a source can't be opened or has
	// failed permanently.
	ErrUnavailable = errors.New("sample source unavailable")

	// ErrTimeout is returned when a block isn't delivered in time. The
	// source remains usable.
	ErrTimeout = errors.New("sample source read timeout")
)

// Params configures a source. Addr is interpreted by the source: a host:port
// for rtl_tcp, a path for files.
type Params struct {
	Addr       string
	CenterFreq uint32
	SampleRate uint32
	Gain       float64 // dB, 0 selects automatic gain
	Timeout    time.Duration
	Loop       bool
}

type Source interface {
	// ReadBlock fills block entirely or returns an error.
	ReadBlock(block []complex64) error
	SetCenterFreq(hz uint32) error
	SetGain(db float64) error
	Close() error
}

var (
	sourceMutex sync.Mutex
	sources     = make(map[string]NewSourceFunc)
)

type NewSourceFunc func(Params) (Source, error)

func Register(name string, sourceFn NewSourceFunc) {
	sourceMutex.Lock()
	defer sourceMutex.Unlock()

	if sourceFn == nil {
		panic("source: new source func is nil")
	}
	if _, dup := sources[name]; dup {
		panic(fmt.Sprintf("source: source already registered (%s)", name))
	}
	sources[name] = sourceFn
}

// New opens the named source.
func New(name string, p Params) (Source, error) {
	sourceMutex.Lock()
	sourceFn, exists := sources[name]
	sourceMutex.Unlock()

	if !exists {
		return nil, errors.Wrapf(ErrUnavailable, "invalid source type %q", name)
	}

	return sourceFn(p)
}

// Names lists registered sources.
func Names() (names []string) {
	sourceMutex.Lock()
	defer sourceMutex.Unlock()

	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// IQLUT maps unsigned 8-bit samples to [-1, 1].
type IQLUT [0x100]float32

func NewIQLUT() (lut IQLUT) {
	for idx := range lut {
		lut[idx] = (float32(idx) - 127.5) / 127.5
	}
	return
}

// Execute converts interleaved I/Q bytes to complex samples.
func (lut *IQLUT) Execute(input []byte, output []complex64) {
	i := 0
	for idx := range output {
		output[idx] = complex(lut[input[i]], lut[input[i+1]])
		i += 2
	}
}
