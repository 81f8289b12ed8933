package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
)

const (
	oggCapturePattern = "OggS"
	oggHeaderLen      = 27
	oggMaxSegments    = 255
	oggMaxPagePayload = oggMaxSegments * 255
)

// Page header type flags.
const (
	oggFlagContinued = 0x1
	oggFlagFirstPage = 0x2
	oggFlagLastPage  = 0x4
)

var errOggPayloadTooLarge = errors.New("payload does not fit a single ogg page")

// oggCRCTable is the lookup table for the ogg page checksum (polynomial
// 0x04c11db7, no reflection, zero init).
var oggCRCTable = func() [256]uint32 {
	var table [256]uint32
	const poly = 0x04c11db7
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()

func oggChecksum(b []byte) uint32 {
	var crc uint32
	for _, v := range b {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^v]
	}
	return crc
}

// oggStream writes the pages of a single logical ogg bitstream. Each packet
// is written as its own page.
type oggStream struct {
	w      io.Writer
	serial uint32
	seq    uint32
	buf    []byte
}

func newOggStream(w io.Writer) *oggStream {
	return &oggStream{w: w, serial: rand.Uint32()}
}

// lacing returns the segment table for a packet of size n. A packet that is
// a multiple of 255 bytes is terminated by a zero lacing value.
func lacing(n int) []byte {
	table := make([]byte, 0, n/255+1)
	for n >= 255 {
		table = append(table, 255)
		n -= 255
	}
	return append(table, byte(n))
}

// writePage writes payload as one complete page with the given flags and
// granule position.
func (s *oggStream) writePage(payload []byte, granule uint64, flags byte) error {
	if len(payload) >= oggMaxPagePayload {
		return errOggPayloadTooLarge
	}

	segs := lacing(len(payload))
	size := oggHeaderLen + len(segs) + len(payload)
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	page := s.buf[:size]

	copy(page, oggCapturePattern)
	page[4] = 0 // Stream structure version.
	page[5] = flags
	binary.LittleEndian.PutUint64(page[6:], granule)
	binary.LittleEndian.PutUint32(page[14:], s.serial)
	binary.LittleEndian.PutUint32(page[18:], s.seq)
	binary.LittleEndian.PutUint32(page[22:], 0)
	page[26] = byte(len(segs))
	copy(page[oggHeaderLen:], segs)
	copy(page[oggHeaderLen+len(segs):], payload)
	binary.LittleEndian.PutUint32(page[22:], oggChecksum(page))

	if _, err := s.w.Write(page); err != nil {
		return err
	}
	s.seq++
	return nil
}
