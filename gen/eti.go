package gen

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/howeyc/crc16"

	"github.com/bemasher/rtldab/eti"
	"github.com/bemasher/rtldab/fic"
)

const (
	fibPayload   = 30
	maxFIGLength = 0x1F
	labelLength  = 16
)

// FIG prefixes body with its type and length header.
func FIG(figType uint8, body []byte) []byte {
	if len(body) > maxFIGLength {
		panic(fmt.Errorf("fig body too long: %d", len(body)))
	}
	return append([]byte{figType<<5 | uint8(len(body))}, body...)
}

// EnsembleInfo encodes FIG 0/0.
func EnsembleInfo(id uint16, cifCount uint16) []byte {
	body := []byte{0x00, 0, 0, 0, 0}
	binary.BigEndian.PutUint16(body[1:3], id)
	binary.BigEndian.PutUint16(body[3:5], cifCount&0x1FFF)
	return FIG(0, body)
}

// Subchannel encodes a short form FIG 0/1 record.
func Subchannel(id uint8, start uint16, tableSwitch bool, tableIndex uint8) []byte {
	rec := make([]byte, 3)
	binary.BigEndian.PutUint16(rec[0:2], uint16(id&0x3F)<<10|start&0x03FF)
	rec[2] = tableIndex & 0x3F
	if tableSwitch {
		rec[2] |= 0x40
	}
	return rec
}

// LongFormSubchannel encodes a long form FIG 0/1 record. Protection is the
// 1-based level.
func LongFormSubchannel(id uint8, start uint16, option, protection uint8, size uint16) []byte {
	rec := make([]byte, 4)
	binary.BigEndian.PutUint16(rec[0:2], uint16(id&0x3F)<<10|start&0x03FF)
	binary.BigEndian.PutUint16(rec[2:4], 0x8000|uint16(option&0x07)<<12|uint16((protection-1)&0x03)<<10|size&0x03FF)
	return rec
}

// Subchannels encodes FIG 0/1 from records.
func Subchannels(records ...[]byte) []byte {
	body := []byte{0x01}
	for _, rec := range records {
		body = append(body, rec...)
	}
	return FIG(0, body)
}

// Service encodes a FIG 0/2 service record.
func Service(id uint16, local bool, caid uint8, comps ...fic.ServiceComponent) []byte {
	rec := make([]byte, 3, 3+len(comps)*2)
	binary.BigEndian.PutUint16(rec[0:2], id)
	rec[2] = (caid&0x07)<<4 | uint8(len(comps))&0x0F
	if local {
		rec[2] |= 0x80
	}

	for _, c := range comps {
		b := c.SubchannelID << 2
		if c.Primary {
			b |= 0x02
		}
		if c.CAFlag {
			b |= 0x01
		}
		rec = append(rec, c.TMID<<6|c.Type&0x3F, b)
	}

	return rec
}

// Services encodes FIG 0/2 from records.
func Services(records ...[]byte) []byte {
	body := []byte{0x02}
	for _, rec := range records {
		body = append(body, rec...)
	}
	return FIG(0, body)
}

// Label encodes a FIG 1 label in charset 0. Text longer than 16 bytes is
// truncated, shorter text is space padded.
func Label(ext uint8, id uint16, text string, mask uint16) []byte {
	body := make([]byte, 1+2+labelLength+2)
	body[0] = ext & 0x07
	binary.BigEndian.PutUint16(body[1:3], id)

	field := body[3 : 3+labelLength]
	for idx := range field {
		field[idx] = ' '
	}
	copy(field, text)

	binary.BigEndian.PutUint16(body[3+labelLength:], mask)

	return FIG(1, body)
}

func EnsembleLabel(id uint16, text string) []byte {
	return Label(0, id, text, 0xFF00)
}

func ServiceLabel(id uint16, text string) []byte {
	return Label(1, id, text, 0xFF00)
}

// FIB packs FIGs into a 32 byte block terminated by an end marker and
// followed by its complemented CCITT checksum.
func FIB(figs ...[]byte) ([]byte, error) {
	var fib []byte
	for _, fig := range figs {
		fib = append(fib, fig...)
	}

	if len(fib) > fibPayload {
		return nil, fmt.Errorf("figs exceed fib payload: %d > %d", len(fib), fibPayload)
	}

	if len(fib) < fibPayload {
		fib = append(fib, 0xFF)
	}
	for len(fib) < fibPayload {
		fib = append(fib, 0x00)
	}

	sum := crc16.ChecksumCCITTFalse(fib) ^ 0xFFFF
	return append(fib, byte(sum>>8), byte(sum)), nil
}

// PackFIBs greedily packs FIGs into as few blocks as possible, preserving
// order.
func PackFIBs(figs ...[]byte) (fibs [][]byte, err error) {
	var pending [][]byte
	used := 0

	flush := func() error {
		fib, err := FIB(pending...)
		if err != nil {
			return err
		}
		fibs = append(fibs, fib)
		pending, used = nil, 0
		return nil
	}

	for _, fig := range figs {
		if used+len(fig) > fibPayload && len(pending) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		pending = append(pending, fig)
		used += len(fig)
	}

	if len(pending) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	return fibs, nil
}

// Frame assembles a complete ETI frame around a 96 byte FIC.
func Frame(count uint8, nst uint32, ficData []byte) []byte {
	frame := make([]byte, eti.FrameLength)
	frame[0] = count
	frame[1] = 0x80
	binary.BigEndian.PutUint32(frame[eti.FCLength:eti.FICOffset], nst)
	copy(frame[eti.FICOffset:eti.MSCOffset], ficData)
	return frame
}

// Frames carries the given FIGs repeatedly, three blocks per frame, over n
// frames.
func Frames(n int, figs ...[]byte) ([][]byte, error) {
	fibs, err := PackFIBs(figs...)
	if err != nil {
		return nil, err
	}
	if len(fibs) == 0 {
		empty, _ := FIB()
		fibs = append(fibs, empty)
	}

	frames := make([][]byte, n)
	next := 0
	for idx := range frames {
		ficData := make([]byte, 0, eti.FICLength)
		for block := 0; block < fic.FIBPerFIC; block++ {
			ficData = append(ficData, fibs[next%len(fibs)]...)
			next++
		}
		frames[idx] = Frame(uint8(idx), 1, ficData)
	}

	return frames, nil
}

// WriteETI writes frames back to back.
func WriteETI(w io.Writer, frames [][]byte) error {
	for _, frame := range frames {
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}
