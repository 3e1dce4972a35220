package titan

import (
	"bytes"
	"encoding/binary"

	"github.com/arloliu/go-titan/internal/util"
)

// Reassembler rebuilds frames from a TCP byte stream.
//
// A single read may carry part of a frame or several frames, so bytes are buffered
// and cut by the little-endian length field at offsets 4-5. When the buffer does
// not start with the expected magic the reassembler skips ahead to the next magic and
// reports the skipped bytes as an ErrBadMagic parse error; a length field smaller
// than MinFrameSize is reported as ErrShortFrame and skipped the same way. A length
// field reaching past the start of the next frame is reported as ErrLengthMismatch
// and the reassembler resumes at that frame.
//
// Reassembler is not goroutine-safe; it belongs to the single receiver task.
type Reassembler struct {
	magic [MagicSize]byte
	buf   []byte
}

// NewReassembler creates an empty Reassembler for frames sent by the device.
func NewReassembler() *Reassembler {
	return newReassembler(DeviceMagic)
}

// NewRequestReassembler creates an empty Reassembler for frames sent by the host.
func NewRequestReassembler() *Reassembler {
	return newReassembler(HostMagic)
}

func newReassembler(magic [MagicSize]byte) *Reassembler {
	return &Reassembler{magic: magic, buf: make([]byte, 0, 256)}
}

// Write appends received bytes. It never fails.
func (r *Reassembler) Write(p []byte) (int, error) {
	r.buf = append(r.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (r *Reassembler) Buffered() int { return len(r.buf) }

// Reset drops all buffered bytes.
func (r *Reassembler) Reset() { r.buf = r.buf[:0] }

// Next returns the next complete frame.
//
// It returns (frame, nil) when a frame is available, (nil, nil) when more bytes are
// needed, and (nil, *ParseError) when bytes were discarded; in the last case the
// caller should call Next again.
func (r *Reassembler) Next() ([]byte, error) {
	if len(r.buf) < MagicSize {
		if n := r.garbagePrefix(); n > 0 {
			r.consume(n)
			return nil, newParseError(ErrBadMagic, n)
		}

		return nil, nil
	}

	if !bytes.Equal(r.buf[:MagicSize], r.magic[:]) {
		n := r.resyncLen()
		r.consume(n)

		return nil, newParseError(ErrBadMagic, n)
	}

	if len(r.buf) < offLength+2 {
		return nil, nil
	}

	declared := int(binary.LittleEndian.Uint16(r.buf[offLength:]))
	if declared < MinFrameSize {
		n := r.resyncLen()
		r.consume(n)

		return nil, newParseError(ErrShortFrame, n)
	}

	if len(r.buf) < declared {
		// a magic inside the pending span means the length field overstates the frame
		if idx := bytes.Index(r.buf[MagicSize:], r.magic[:]); idx >= 0 {
			n := idx + MagicSize
			r.consume(n)

			return nil, newParseError(ErrLengthMismatch, n)
		}

		return nil, nil
	}

	frame := util.CloneSlice(r.buf[:declared], 0)
	r.consume(declared)

	return frame, nil
}

// resyncLen returns how many leading bytes to drop so the buffer starts at the next
// magic candidate after offset 0.
func (r *Reassembler) resyncLen() int {
	if idx := bytes.Index(r.buf[1:], r.magic[:]); idx >= 0 {
		return idx + 1
	}

	// keep a trailing partial magic, it may complete with the next read
	return len(r.buf) - partialMagicSuffix(r.buf[1:], r.magic)
}

// garbagePrefix returns the number of bytes of a short buffer that can never start a frame.
func (r *Reassembler) garbagePrefix() int {
	return len(r.buf) - partialMagicSuffix(r.buf, r.magic)
}

func (r *Reassembler) consume(n int) {
	r.buf = append(r.buf[:0], r.buf[n:]...)
}

// partialMagicSuffix returns the length of the longest suffix of b that is a proper
// prefix of magic.
func partialMagicSuffix(b []byte, magic [MagicSize]byte) int {
	for n := min(len(b), MagicSize-1); n > 0; n-- {
		if bytes.Equal(b[len(b)-n:], magic[:n]) {
			return n
		}
	}

	return 0
}
