package fic

// UEP sub-channel sizes in capacity units, protection levels and bitrates in
// kbit/s indexed by the FIG 0/1 short form table index.
type uepEntry struct {
	Size            uint16
	ProtectionLevel uint8
	Bitrate         uint16
}

var shortForm = [64]uepEntry{
	{16, 5, 32},
	{21, 4, 32},
	{24, 3, 32},
	{29, 2, 32},
	{35, 1, 32},
	{24, 5, 48},
	{29, 4, 48},
	{35, 3, 48},
	{42, 2, 48},
	{52, 1, 48},
	{29, 5, 56},
	{35, 4, 56},
	{42, 3, 56},
	{52, 2, 56},
	{32, 5, 64},
	{42, 4, 64},
	{48, 3, 64},
	{58, 2, 64},
	{70, 1, 64},
	{40, 5, 80},
	{52, 4, 80},
	{58, 3, 80},
	{70, 2, 80},
	{84, 1, 80},
	{48, 5, 96},
	{58, 4, 96},
	{70, 3, 96},
	{84, 2, 96},
	{104, 1, 96},
	{58, 5, 112},
	{70, 4, 112},
	{84, 3, 112},
	{104, 2, 112},
	{64, 5, 128},
	{84, 4, 128},
	{96, 3, 128},
	{116, 2, 128},
	{140, 1, 128},
	{80, 5, 160},
	{104, 4, 160},
	{116, 3, 160},
	{140, 2, 160},
	{168, 1, 160},
	{96, 5, 192},
	{116, 4, 192},
	{140, 3, 192},
	{168, 2, 192},
	{208, 1, 192},
	{116, 5, 224},
	{140, 4, 224},
	{168, 3, 224},
	{208, 2, 224},
	{232, 1, 224},
	{128, 5, 256},
	{168, 4, 256},
	{192, 3, 256},
	{232, 2, 256},
	{280, 1, 256},
	{160, 5, 320},
	{208, 4, 320},
	{280, 2, 320},
	{192, 5, 384},
	{280, 3, 384},
	{416, 1, 384},
}

// Denominators relating EEP sub-channel size to bitrate for options A and B,
// indexed by protection level.
var eepRate = [2][4]uint16{
	{12, 8, 6, 4},
	{27, 21, 18, 15},
}

// ShortForm returns the UEP table entry for a table index.
func ShortForm(tableIndex uint8) (size uint16, protectionLevel uint8, bitrate uint16) {
	e := shortForm[tableIndex&0x3F]
	return e.Size, e.ProtectionLevel, e.Bitrate
}

// LongFormBitrate derives the bitrate of an EEP sub-channel. Unknown options
// yield 0.
func LongFormBitrate(option, protectionLevel uint8, size uint16) uint16 {
	if option > 1 || protectionLevel > 3 {
		return 0
	}

	if option == 0 {
		return size * 8 / eepRate[0][protectionLevel]
	}
	return size * 32 / eepRate[1][protectionLevel]
}
