package crc

import (
	"encoding/binary"
	"fmt"
)

// CRC is a table driven, MSB-first 16-bit cyclic redundancy check.
type CRC struct {
	Name    string
	Init    uint16
	Poly    uint16
	XorOut  uint16
	Residue uint16

	tbl Table
}

func NewCRC(name string, init, poly, xorOut, residue uint16) (crc CRC) {
	crc.Name = name
	crc.Init = init
	crc.Poly = poly
	crc.XorOut = xorOut
	crc.Residue = residue
	crc.tbl = NewTable(crc.Poly)

	return
}

// NewFIB returns the check protecting DAB Fast Information Blocks: CCITT
// polynomial, all-ones preset, transmitted complemented.
func NewFIB() CRC {
	return NewCRC("FIB", 0xFFFF, 0x1021, 0xFFFF, 0x1D0F)
}

func (crc CRC) String() string {
	return fmt.Sprintf("{Name:%s Init:0x%04X Poly:0x%04X XorOut:0x%04X Residue:0x%04X}",
		crc.Name, crc.Init, crc.Poly, crc.XorOut, crc.Residue,
	)
}

// Checksum returns the value transmitted after data.
func (crc CRC) Checksum(data []byte) uint16 {
	return Checksum(crc.Init, data, crc.tbl) ^ crc.XorOut
}

// Valid reports whether data, ending in its big-endian checksum, leaves the
// register at the expected residue.
func (crc CRC) Valid(data []byte) bool {
	return Checksum(crc.Init, data, crc.tbl) == crc.Residue
}

// Append returns data followed by its big-endian checksum.
func (crc CRC) Append(data []byte) []byte {
	var sum [2]byte
	binary.BigEndian.PutUint16(sum[:], crc.Checksum(data))
	return append(data, sum[:]...)
}

type Table [256]uint16

func NewTable(poly uint16) (table Table) {
	for tIdx := range table {
		crc := uint16(tIdx) << 8
		for bIdx := 0; bIdx < 8; bIdx++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc = crc << 1
			}
		}
		table[tIdx] = crc
	}
	return table
}

func Checksum(init uint16, data []byte, table Table) (crc uint16) {
	crc = init
	for _, v := range data {
		crc = crc<<8 ^ table[crc>>8^uint16(v)]
	}
	return
}
