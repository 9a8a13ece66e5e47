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

// Package eti splits an ETI-NI byte stream into fixed length frames.
package eti

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

const (
	FrameLength = 6144

	FCLength  = 4
	NSTLength = 4
	FICLength = 96

	FICOffset = FCLength + NSTLength
	MSCOffset = FICOffset + FICLength
)

var ErrShortFrame = errors.New("eti: short frame")

// Frame is one ETI-NI frame: FC(4) | NST(4) | FIC(96) | MSC(rest). FIC and
// MSC alias the buffer the frame was split from.
type Frame struct {
	FC  [FCLength]byte
	NST uint32
	FIC []byte
	MSC []byte
}

// Split slices a complete frame into its regions.
func Split(b []byte) (f Frame, err error) {
	if len(b) != FrameLength {
		return f, errors.Wrapf(ErrShortFrame, "%d bytes", len(b))
	}

	copy(f.FC[:], b[:FCLength])
	f.NST = binary.BigEndian.Uint32(b[FCLength:FICOffset])
	f.FIC = b[FICOffset:MSCOffset]
	f.MSC = b[MSCOffset:]

	return f, nil
}

// Count is the frame counter carried in the first FC byte.
func (f Frame) Count() uint8 {
	return f.FC[0]
}

// HasFIC reports the FIC flag. Decoding reads the FIC region regardless.
func (f Frame) HasFIC() bool {
	return f.FC[1]&0x80 != 0
}

func (f Frame) String() string {
	return fmt.Sprintf("{Count:%3d FC:%02X NST:%d FIC:%d MSC:%d}",
		f.Count(), f.FC, f.NST, len(f.FIC), len(f.MSC),
	)
}

type Stats struct {
	Frames      uint64
	ShortFrames uint64
}

// A Reader reads consecutive frames from an underlying stream.
type Reader struct {
	r     io.Reader
	stats Stats
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads exactly one frame. A trailing partial frame is counted and
// discarded, and the stream reports io.EOF.
func (r *Reader) Next() (Frame, error) {
	buf := make([]byte, FrameLength)

	_, err := io.ReadFull(r.r, buf)
	switch err {
	case nil:
	case io.EOF:
		return Frame{}, io.EOF
	case io.ErrUnexpectedEOF:
		r.stats.ShortFrames++
		return Frame{}, io.EOF
	default:
		return Frame{}, errors.Wrap(err, "eti: read frame")
	}

	r.stats.Frames++

	return Split(buf)
}

func (r *Reader) Stats() Stats {
	return r.stats
}
