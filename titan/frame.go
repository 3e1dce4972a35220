package titan

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// MagicSize is the size of the magic header in bytes.
	MagicSize = 4
	// HeaderSize is the size of the magic header plus the ten fixed fields.
	HeaderSize = 14
	// ChecksumSize is the size of the trailing checksum in bytes.
	ChecksumSize = 1
	// MinFrameSize is the minimum size of an inbound frame (a handshake nack).
	MinFrameSize = HeaderSize
	// HandshakeAckSize is the minimum size of a successful handshake response.
	HandshakeAckSize = 17
	// MaxFrameSize is the largest frame the 16-bit length field can describe.
	MaxFrameSize = 0xFFFF
	// MaxPayloadSize is the largest ASCII payload of a single frame.
	MaxPayloadSize = MaxFrameSize - HeaderSize - ChecksumSize

	// DefaultPort is the TCP port fixed by the device firmware.
	DefaultPort = 20036
	// DefaultModuleID addresses the whole device.
	DefaultModuleID byte = 0xFE
)

// Field offsets shared by host and device frames.
const (
	offLength    = 4
	offReserved  = 6
	offCommandID = 7
	offFrameID   = 9
	offInverseID = 10
	offFixed1    = 11
	offModuleID  = 12
	offFixed2    = 13
)

var (
	// HostMagic starts every frame sent by the host.
	HostMagic = [MagicSize]byte{0x55, 0xAA, 0x5A, 0xA5}
	// DeviceMagic starts every frame sent by the device. It is HostMagic in reversed byte order.
	DeviceMagic = [MagicSize]byte{0xA5, 0x5A, 0xAA, 0x55}
)

// CommandID identifies the frame type. It is stored big-endian at offsets 7-8.
type CommandID uint16

const (
	// CmdNoOp carries no command; it is used for keep-alive frames.
	CmdNoOp CommandID = 0x0000
	// CmdConnect is the connection (handshake) request.
	CmdConnect CommandID = 0x0100
	// CmdConnectResponse is the device handshake response.
	CmdConnectResponse CommandID = 0x0180
	// CmdExecASCII executes the ASCII command carried in the payload.
	CmdExecASCII CommandID = 0x0213
)

// ResponseID returns the command id the device uses to answer id.
func (id CommandID) ResponseID() CommandID { return id | 0x0080 }

func (id CommandID) String() string {
	switch id {
	case CmdNoOp:
		return "no-op"
	case CmdConnect:
		return "connect"
	case CmdConnectResponse:
		return "connect-response"
	case CmdExecASCII:
		return "exec-ascii"
	default:
		return fmt.Sprintf("0x%04X", uint16(id))
	}
}

// InverseFrameID returns the complement the protocol pairs with frameID.
func InverseFrameID(frameID byte) byte {
	return 0xFF - frameID
}

// Checksum returns the sum of all bytes of data modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}

	return sum
}

// Frame is an outbound (host to device) frame.
//
// On the wire a frame is:
//
//	[Magic(4)][Length(2, LE)][00][CommandID(2)][FrameID][^FrameID][01][ModuleID][00][Payload][Checksum]
type Frame struct {
	CommandID CommandID
	FrameID   byte
	ModuleID  byte
	Payload   []byte
}

// Length returns the total encoded length of the frame.
func (f *Frame) Length() int {
	return HeaderSize + len(f.Payload) + ChecksumSize
}

// InverseFrameID returns the inverse frame id written at offset 10.
func (f *Frame) InverseFrameID() byte {
	return InverseFrameID(f.FrameID)
}

// ToBytes serializes the frame to its wire format.
func (f *Frame) ToBytes() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes", ErrFrameTooLarge, len(f.Payload))
	}

	return packFrame(HostMagic, f.CommandID, f.FrameID, f.InverseFrameID(), f.ModuleID, f.Payload), nil
}

// packFrame lays out the common frame structure. byte10 is the inverse frame id in host
// frames and the error code in device responses.
func packFrame(magic [MagicSize]byte, cmd CommandID, frameID, byte10, moduleID byte, payload []byte) []byte {
	total := HeaderSize + len(payload) + ChecksumSize
	buf := make([]byte, total)

	copy(buf[0:MagicSize], magic[:])
	binary.LittleEndian.PutUint16(buf[offLength:], uint16(total)) //nolint:gosec // bounded by MaxFrameSize
	buf[offReserved] = 0x00
	binary.BigEndian.PutUint16(buf[offCommandID:], uint16(cmd))
	buf[offFrameID] = frameID
	buf[offInverseID] = byte10
	buf[offFixed1] = 0x01
	buf[offModuleID] = moduleID
	buf[offFixed2] = 0x00
	copy(buf[HeaderSize:], payload)
	buf[total-1] = Checksum(buf[:total-1])

	return buf
}

// Encode encodes an ASCII command into an execute-ASCII frame with frame id 0 and the
// default module id, as the device documentation shows.
func Encode(cmd string) ([]byte, error) {
	return EncodeCommand(cmd, 0, DefaultModuleID)
}

// EncodeCommand encodes an ASCII command into an execute-ASCII frame.
//
// A single trailing line terminator ("\r\n" or "\n") is stripped. Commands containing
// non-ASCII characters are rejected with ErrNonASCII.
func EncodeCommand(cmd string, frameID byte, moduleID byte) ([]byte, error) {
	payload, err := commandPayload(cmd)
	if err != nil {
		return nil, err
	}

	f := Frame{
		CommandID: CmdExecASCII,
		FrameID:   frameID,
		ModuleID:  moduleID,
		Payload:   payload,
	}

	return f.ToBytes()
}

// NewKeepAliveFrame returns a no-op frame with an empty payload. The device resets its
// idle timer on any received frame and ignores this one.
func NewKeepAliveFrame(frameID byte, moduleID byte) []byte {
	return packFrame(HostMagic, CmdNoOp, frameID, InverseFrameID(frameID), moduleID, nil)
}

func commandPayload(cmd string) ([]byte, error) {
	// one trailing CRLF or LF; a lone CR is payload
	if trimmed, ok := strings.CutSuffix(cmd, "\r\n"); ok {
		cmd = trimmed
	} else {
		cmd = strings.TrimSuffix(cmd, "\n")
	}

	for i := 0; i < len(cmd); i++ {
		if cmd[i] > 0x7F {
			return nil, fmt.Errorf("%w: byte 0x%02X at offset %d", ErrNonASCII, cmd[i], i)
		}
	}

	return []byte(cmd), nil
}

// DecodeRequest parses a host frame, validating its magic, length field and checksum.
// It is the inverse of Frame.ToBytes.
func DecodeRequest(data []byte) (*Frame, error) {
	if len(data) < HeaderSize+ChecksumSize {
		return nil, newParseError(ErrShortFrame, len(data))
	}

	if [MagicSize]byte(data[:MagicSize]) != HostMagic {
		return nil, newParseError(ErrBadMagic, len(data))
	}

	declared := int(binary.LittleEndian.Uint16(data[offLength:]))
	if declared != len(data) {
		return nil, newParseError(fmt.Errorf("%w: declared %d", ErrLengthMismatch, declared), len(data))
	}

	if want := Checksum(data[:len(data)-1]); data[len(data)-1] != want {
		return nil, newParseError(
			fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrChecksumMismatch, data[len(data)-1], want),
			len(data),
		)
	}

	f := &Frame{
		CommandID: CommandID(binary.BigEndian.Uint16(data[offCommandID:])),
		FrameID:   data[offFrameID],
		ModuleID:  data[offModuleID],
	}
	if n := len(data) - HeaderSize - ChecksumSize; n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, data[HeaderSize:len(data)-1])
	}

	return f, nil
}
