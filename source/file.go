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
	"io"
	"os"

	"github.com/pkg/errors"
)

func init() {
	Register("file", NewFile)
}

// File reads unsigned 8-bit interleaved IQ samples, the format rtl_sdr
// records. Tuning is recorded but has no effect.
type File struct {
	f    *os.File
	loop bool

	lut IQLUT
	buf []byte

	centerFreq uint32
	gain       float64
}

func NewFile(p Params) (Source, error) {
	f, err := os.Open(p.Addr)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "%s", err)
	}

	return &File{
		f:          f,
		loop:       p.Loop,
		lut:        NewIQLUT(),
		centerFreq: p.CenterFreq,
		gain:       p.Gain,
	}, nil
}

func (s *File) ReadBlock(block []complex64) error {
	if len(s.buf) != len(block)<<1 {
		s.buf = make([]byte, len(block)<<1)
	}

	n, err := io.ReadFull(s.f, s.buf)
	if (err == io.EOF || err == io.ErrUnexpectedEOF) && s.loop {
		if _, err = s.f.Seek(0, io.SeekStart); err != nil {
			return errors.Wrapf(ErrUnavailable, "rewind: %s", err)
		}

		var m int
		m, err = io.ReadFull(s.f, s.buf[n:])
		if m == 0 && err == io.EOF {
			return errors.Wrap(ErrUnavailable, "empty sample file")
		}
	}
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "read: %s", err)
	}

	s.lut.Execute(s.buf, block)

	return nil
}

func (s *File) SetCenterFreq(hz uint32) error {
	s.centerFreq = hz
	return nil
}

func (s *File) SetGain(db float64) error {
	s.gain = db
	return nil
}

func (s *File) Close() error {
	return s.f.Close()
}
