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

// Package fic decodes the Fast Information Channel carried in each ETI
// frame into multiplex configuration fragments.
package fic

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bemasher/rtldab/crc"
)

const (
	FIBLength     = 32
	FIBPerFIC     = 3
	PayloadLength = 30

	endMarker = 0xFF
)

var (
	ErrCRCMismatch = errors.New("fic: fib crc mismatch")
	ErrTruncated   = errors.New("fic: truncated field")
)

// FIB is the outcome of decoding one Fast Information Block. Invalid blocks
// carry no fragments. Err records the first soft error of a valid block.
type FIB struct {
	Valid     bool
	Err       error
	Fragments []Fragment
}

type Stats struct {
	FIBs        uint64
	CRCErrors   uint64
	Truncated   uint64
	Unsupported uint64
	Fragments   uint64
}

// Decoder walks FIBs and keeps running error counts. It is not safe for
// concurrent use.
type Decoder struct {
	crc.CRC
	log   logrus.FieldLogger
	stats Stats
}

func NewDecoder(log logrus.FieldLogger) *Decoder {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Decoder{
		CRC: crc.NewFIB(),
		log: log.WithField("component", "fic"),
	}
}

func (d *Decoder) Stats() Stats {
	return d.stats
}

// DecodeFIC splits a 96 byte FIC into its three FIBs. Blocks missing from a
// short FIC are reported invalid.
func (d *Decoder) DecodeFIC(fic []byte) (fibs [FIBPerFIC]FIB) {
	for idx := range fibs {
		lower := idx * FIBLength
		if lower+FIBLength > len(fic) {
			d.stats.FIBs++
			d.stats.Truncated++
			fibs[idx].Err = errors.Wrapf(ErrTruncated, "fib %d: %d bytes of fic", idx, len(fic))
			continue
		}
		fibs[idx] = d.DecodeFIB(fic[lower : lower+FIBLength])
	}

	return
}

// DecodeFIB validates the block's checksum and, if it passes, walks the FIGs
// in its payload.
func (d *Decoder) DecodeFIB(block []byte) (fib FIB) {
	d.stats.FIBs++

	if len(block) != FIBLength || !d.Valid(block) {
		d.stats.CRCErrors++
		fib.Err = ErrCRCMismatch
		return
	}
	fib.Valid = true

	payload := block[:PayloadLength]
	for pos := 0; pos < len(payload); {
		header := payload[pos]
		if header == endMarker {
			break
		}
		pos++

		figType := header >> 5
		length := int(header & 0x1F)

		// The FIG runs past the end of the block, the next header can't be
		// located.
		if pos+length > len(payload) {
			d.truncated(&fib, errors.Wrapf(ErrTruncated, "fig type %d length %d at %d", figType, length, pos-1))
			break
		}

		body := payload[pos : pos+length]
		pos += length

		if length == 0 {
			continue
		}

		var err error
		switch figType {
		case 0:
			fib.Fragments, err = d.parseMCI(body, fib.Fragments)
		case 1:
			fib.Fragments, err = d.parseLabel(body, fib.Fragments)
		default:
			d.stats.Unsupported++
		}

		if err != nil {
			d.truncated(&fib, err)
		}
	}

	d.stats.Fragments += uint64(len(fib.Fragments))

	return
}

func (d *Decoder) truncated(fib *FIB, err error) {
	d.stats.Truncated++
	if fib.Err == nil {
		fib.Err = err
	}
	d.log.WithError(err).Debug("soft decode warning")
}

// Multiplex configuration information, FIG type 0.
func (d *Decoder) parseMCI(body []byte, frags []Fragment) ([]Fragment, error) {
	nextConfig := body[0]&0x80 != 0
	otherEnsemble := body[0]&0x40 != 0
	dataService := body[0]&0x20 != 0
	ext := body[0] & 0x1F

	// Records for the next configuration (C/N) or another ensemble (OE)
	// describe a multiplex other than the one being received. They are
	// counted as unsupported and not catalogued.
	if nextConfig || otherEnsemble {
		d.stats.Unsupported++
		return frags, nil
	}

	data := body[1:]
	switch ext {
	case 0:
		return parseEnsembleInfo(data, frags)
	case 1:
		return parseSubchannels(data, frags)
	case 2:
		return d.parseServices(data, dataService, frags)
	}

	d.stats.Unsupported++
	return frags, nil
}

func parseEnsembleInfo(data []byte, frags []Fragment) ([]Fragment, error) {
	if len(data) < 2 {
		return frags, errors.Wrap(ErrTruncated, "fig 0/0 ensemble id")
	}

	info := EnsembleInfo{ID: binary.BigEndian.Uint16(data[0:2])}
	if len(data) >= 4 {
		info.ChangeFlags = data[2] >> 6
		info.Alarm = data[2]&0x20 != 0
		info.CIFCount = binary.BigEndian.Uint16(data[2:4]) & 0x1FFF
	}

	return append(frags, info), nil
}

func parseSubchannels(data []byte, frags []Fragment) ([]Fragment, error) {
	for len(data) > 0 {
		if len(data) < 3 {
			return frags, errors.Wrapf(ErrTruncated, "fig 0/1 record: %d bytes", len(data))
		}

		var sub SubchannelInfo
		sub.ID = data[0] >> 2
		sub.StartAddress = binary.BigEndian.Uint16(data[0:2]) & 0x03FF

		if data[2]&0x80 == 0 {
			sub.TableSwitch = data[2]&0x40 != 0
			sub.TableIndex = data[2] & 0x3F
			sub.Size, sub.ProtectionLevel, sub.Bitrate = ShortForm(sub.TableIndex)
			data = data[3:]
		} else {
			if len(data) < 4 {
				return frags, errors.Wrapf(ErrTruncated, "fig 0/1 long form subchannel %d", sub.ID)
			}

			protection := (data[2] >> 2) & 0x03
			sub.LongForm = true
			sub.Option = (data[2] >> 4) & 0x07
			sub.ProtectionLevel = protection + 1
			sub.Size = binary.BigEndian.Uint16(data[2:4]) & 0x03FF
			sub.Bitrate = LongFormBitrate(sub.Option, protection, sub.Size)
			data = data[4:]
		}

		frags = append(frags, sub)
	}

	return frags, nil
}

func (d *Decoder) parseServices(data []byte, dataService bool, frags []Fragment) ([]Fragment, error) {
	idLength := 2
	if dataService {
		idLength = 4
	}

	for len(data) > 0 {
		if len(data) < idLength+1 {
			return frags, errors.Wrapf(ErrTruncated, "fig 0/2 service header: %d bytes", len(data))
		}

		flags := data[idLength]
		count := int(flags & 0x0F)
		end := idLength + 1 + count*2
		if end > len(data) {
			return frags, errors.Wrapf(ErrTruncated, "fig 0/2 service with %d components: %d bytes", count, len(data))
		}

		// Data services use 32 bit identifiers which the catalog doesn't key
		// on.
		if dataService {
			d.stats.Unsupported++
			data = data[end:]
			continue
		}

		svc := ServiceInfo{
			ID:         binary.BigEndian.Uint16(data[0:2]),
			Local:      flags&0x80 != 0,
			CAID:       (flags >> 4) & 0x07,
			Components: make([]ServiceComponent, count),
		}

		comps := data[idLength+1 : end]
		for idx := range svc.Components {
			rec := comps[idx*2 : idx*2+2]
			svc.Components[idx] = ServiceComponent{
				TMID:         rec[0] >> 6,
				Type:         rec[0] & 0x3F,
				SubchannelID: rec[1] >> 2,
				Primary:      rec[1]&0x02 != 0,
				CAFlag:       rec[1]&0x01 != 0,
			}
		}

		frags = append(frags, svc)
		data = data[end:]
	}

	return frags, nil
}

const (
	labelLength = 16
	maskLength  = 2
)

// Labels, FIG type 1.
func (d *Decoder) parseLabel(body []byte, frags []Fragment) ([]Fragment, error) {
	charset := body[0] >> 4
	otherEnsemble := body[0]&0x08 != 0
	ext := body[0] & 0x07

	// Labels of other ensembles (OE) are not catalogued.
	if otherEnsemble || ext > 1 {
		d.stats.Unsupported++
		return frags, nil
	}

	data := body[1:]
	if len(data) < 2+labelLength {
		return frags, errors.Wrapf(ErrTruncated, "fig 1/%d label: %d bytes", ext, len(data))
	}

	id := binary.BigEndian.Uint16(data[0:2])

	var mask uint16
	if len(data) >= 2+labelLength+maskLength {
		mask = binary.BigEndian.Uint16(data[2+labelLength:])
	}

	label := DecodeLabel(data[2:2+labelLength], charset, mask)

	if ext == 0 {
		return append(frags, EnsembleLabel{id, label}), nil
	}
	return append(frags, ServiceLabel{id, label}), nil
}
