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
	"net"
	"time"

	"github.com/bemasher/rtltcp"
	"github.com/pkg/errors"
)

func init() {
	Register("rtltcp", NewRTLTCP)
}

// RTLTCP reads samples from an rtl_tcp server.
type RTLTCP struct {
	rtltcp.SDR

	lut     IQLUT
	buf     []byte
	timeout time.Duration
}

func NewRTLTCP(p Params) (Source, error) {
	addr := p.Addr
	if addr == "" {
		addr = "127.0.0.1:1234"
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "resolve %s: %s", addr, err)
	}

	s := &RTLTCP{
		lut:     NewIQLUT(),
		timeout: p.Timeout,
	}

	if err := s.Connect(tcpAddr); err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "%s", err)
	}

	if err := s.SetSampleRate(p.SampleRate); err != nil {
		s.Close()
		return nil, errors.Wrapf(ErrUnavailable, "set sample rate: %s", err)
	}
	if err := s.SetCenterFreq(p.CenterFreq); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.SetGain(p.Gain); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *RTLTCP) ReadBlock(block []complex64) error {
	if len(s.buf) != len(block)<<1 {
		s.buf = make([]byte, len(block)<<1)
	}

	if s.timeout > 0 {
		s.SDR.SetReadDeadline(time.Now().Add(s.timeout))
	}

	_, err := io.ReadFull(s.SDR, s.buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return errors.Wrapf(ErrTimeout, "%s", err)
		}
		return errors.Wrapf(ErrUnavailable, "read: %s", err)
	}

	s.lut.Execute(s.buf, block)

	return nil
}

func (s *RTLTCP) SetCenterFreq(hz uint32) error {
	if err := s.SDR.SetCenterFreq(hz); err != nil {
		return errors.Wrapf(ErrUnavailable, "set center frequency: %s", err)
	}
	return nil
}

// SetGain selects automatic gain for values <= 0, otherwise manual gain in
// tenths of a dB.
func (s *RTLTCP) SetGain(db float64) error {
	if db <= 0 {
		if err := s.SetGainMode(true); err != nil {
			return errors.Wrapf(ErrUnavailable, "set gain mode: %s", err)
		}
		return nil
	}

	if err := s.SetGainMode(false); err != nil {
		return errors.Wrapf(ErrUnavailable, "set gain mode: %s", err)
	}
	if err := s.SDR.SetGain(uint32(db * 10)); err != nil {
		return errors.Wrapf(ErrUnavailable, "set gain: %s", err)
	}

	return nil
}

func (s *RTLTCP) Close() error {
	if s.TCPConn == nil {
		return nil
	}
	return s.TCPConn.Close()
}
