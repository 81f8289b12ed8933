package audio

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	opusHeadMagic = "OpusHead"
	opusTagsMagic = "OpusTags"
	opusVendor    = "ghostrec"

	// opusGranuleRate is the rate of ogg granule positions for opus streams
	// regardless of the input rate.
	opusGranuleRate = 48000
)

var errOpusWriterClosed = errors.New("opus writer already finished")

// opusFileWriter writes an Ogg Opus file. Packets are held back by one so
// that the last one can carry the end of stream flag.
type opusFileWriter struct {
	ogg *oggStream

	granule uint64
	pending []byte
	pendDur uint64
	hasPend bool
	packets int
	done    bool
}

// newOpusFileWriter writes the identification and comment headers to w.
func newOpusFileWriter(w io.Writer, inputRate uint32, chans uint8) (*opusFileWriter, error) {
	ow := &opusFileWriter{ogg: newOggStream(w)}

	head := make([]byte, 19)
	copy(head, opusHeadMagic)
	head[8] = 1 // Version.
	head[9] = chans
	binary.LittleEndian.PutUint16(head[10:], 0) // Pre-skip.
	binary.LittleEndian.PutUint32(head[12:], inputRate)
	binary.LittleEndian.PutUint16(head[16:], 0) // Output gain.
	head[18] = 0                                // Channel mapping family.
	if err := ow.ogg.writePage(head, 0, oggFlagFirstPage); err != nil {
		return nil, err
	}

	tags := make([]byte, 8+4+len(opusVendor)+4)
	copy(tags, opusTagsMagic)
	binary.LittleEndian.PutUint32(tags[8:], uint32(len(opusVendor)))
	copy(tags[12:], opusVendor)
	binary.LittleEndian.PutUint32(tags[12+len(opusVendor):], 0)
	if err := ow.ogg.writePage(tags, 0, 0); err != nil {
		return nil, err
	}

	return ow, nil
}

func (ow *opusFileWriter) flushPending(flags byte) error {
	ow.granule += ow.pendDur
	err := ow.ogg.writePage(ow.pending, ow.granule, flags)
	ow.hasPend = false
	ow.pending = ow.pending[:0]
	return err
}

// WritePacket queues an encoded packet that holds samples input samples
// (per channel) at inputRate.
func (ow *opusFileWriter) WritePacket(p []byte, samples, inputRate uint32) error {
	if ow.done {
		return errOpusWriterClosed
	}
	if len(p) >= oggMaxPagePayload {
		return errOggPayloadTooLarge
	}
	if ow.hasPend {
		if err := ow.flushPending(0); err != nil {
			return err
		}
	}
	ow.pending = append(ow.pending[:0], p...)
	ow.pendDur = uint64(samples) * opusGranuleRate / uint64(inputRate)
	ow.hasPend = true
	ow.packets++
	return nil
}

// Packets returns the number of packets written so far.
func (ow *opusFileWriter) Packets() int {
	return ow.packets
}

// Finish writes the last page with the end of stream flag. When no packet
// was written, an empty last page is written.
func (ow *opusFileWriter) Finish() error {
	if ow.done {
		return errOpusWriterClosed
	}
	ow.done = true
	if ow.hasPend {
		return ow.flushPending(oggFlagLastPage)
	}
	return ow.ogg.writePage(nil, ow.granule, oggFlagLastPage)
}
