package titan

import (
	"encoding/binary"
	"fmt"
)

// InboundFrame is a parsed view over a frame received from the device.
// It references the received bytes; callers must not modify them.
type InboundFrame struct {
	raw []byte
}

// Decode validates the minimum size and the device magic of data and returns a view over it.
//
// The trailing checksum of inbound frames is intentionally not verified: the device
// protocol does not require the host to check it, and a corrupted frame at worst
// yields a misclassified command response.
func Decode(data []byte) (*InboundFrame, error) {
	if len(data) < MinFrameSize {
		return nil, newParseError(ErrShortFrame, len(data))
	}

	if [MagicSize]byte(data[:MagicSize]) != DeviceMagic {
		return nil, newParseError(ErrBadMagic, len(data))
	}

	return &InboundFrame{raw: data}, nil
}

// Bytes returns the raw frame bytes.
func (f *InboundFrame) Bytes() []byte { return f.raw }

// Len returns the number of received bytes.
func (f *InboundFrame) Len() int { return len(f.raw) }

// DeclaredLength returns the little-endian length field.
func (f *InboundFrame) DeclaredLength() int {
	return int(binary.LittleEndian.Uint16(f.raw[offLength:]))
}

// CommandID returns the command id at offsets 7-8.
func (f *InboundFrame) CommandID() CommandID {
	return CommandID(binary.BigEndian.Uint16(f.raw[offCommandID:]))
}

// FrameID returns byte 9. In handshake responses it holds the ack status.
func (f *InboundFrame) FrameID() byte { return f.raw[offFrameID] }

// InverseFrameID returns byte 10. In command responses it holds the error code.
func (f *InboundFrame) InverseFrameID() byte { return f.raw[offInverseID] }

// ErrorCode returns the error code byte of a command response.
func (f *InboundFrame) ErrorCode() ErrorCode { return ErrorCode(f.raw[offInverseID]) }

// ModuleID returns byte 12.
func (f *InboundFrame) ModuleID() byte { return f.raw[offModuleID] }

// IsHandshake reports whether the frame is a connection (handshake) response.
func (f *InboundFrame) IsHandshake() bool {
	return f.CommandID() == CmdConnectResponse
}

// MachineType identifies the device model reported in the handshake.
type MachineType byte

const (
	// MachineRainier3GQuad is a Rainier 3G Quad.
	MachineRainier3GQuad MachineType = 0x01
	// MachineTitan9000 is a Rainier 3G Plus / Titan 9000.
	MachineTitan9000 MachineType = 0x02
)

func (m MachineType) String() string {
	switch m {
	case MachineRainier3GQuad:
		return "Rainier 3G Quad"
	case MachineTitan9000:
		return "Titan 9000"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(m))
	}
}

// SessionInfo is the session identity assigned by a successful handshake.
type SessionInfo struct {
	SocketID    byte
	MachineType MachineType
	// MBPresent is the MB existence flag at byte 15.
	MBPresent bool
}

// ResponseKind classifies an inbound frame.
type ResponseKind uint8

const (
	// HandshakeAck is a successful connection response.
	HandshakeAck ResponseKind = iota + 1
	// HandshakeNack is a refused connection response.
	HandshakeNack
	// CommandResponse answers an outbound command.
	CommandResponse
)

func (k ResponseKind) String() string {
	switch k {
	case HandshakeAck:
		return "handshake-ack"
	case HandshakeNack:
		return "handshake-nack"
	case CommandResponse:
		return "command-response"
	default:
		return "unknown"
	}
}

// Response is the interpretation of one inbound frame.
type Response struct {
	Kind ResponseKind
	// Session is set for HandshakeAck.
	Session SessionInfo
	// Code is set for CommandResponse; zero means success.
	Code ErrorCode
	// CommandID is the command id of the frame.
	CommandID CommandID
}

// Err returns the CommandError of a failed command response, or nil.
func (r Response) Err() error {
	if r.Kind != CommandResponse || r.Code == CodeOK {
		return nil
	}

	return &CommandError{Code: r.Code}
}

// Classify interprets a decoded frame as a handshake ack, a handshake nack or a
// command response.
//
// A handshake response with status 1 must be at least HandshakeAckSize bytes long;
// status 0 is a nack; any other status yields ErrUnknownHandshake.
func Classify(f *InboundFrame) (Response, error) {
	if !f.IsHandshake() {
		return Response{Kind: CommandResponse, Code: f.ErrorCode(), CommandID: f.CommandID()}, nil
	}

	switch f.FrameID() {
	case 0x01:
		if f.Len() < HandshakeAckSize {
			return Response{}, newParseError(ErrShortFrame, f.Len())
		}

		return Response{
			Kind:      HandshakeAck,
			CommandID: CmdConnectResponse,
			Session: SessionInfo{
				MachineType: MachineType(f.raw[14]),
				MBPresent:   f.raw[15] != 0,
				SocketID:    f.raw[16],
			},
		}, nil

	case 0x00:
		return Response{Kind: HandshakeNack, CommandID: CmdConnectResponse}, nil

	default:
		return Response{}, newParseError(fmt.Errorf("%w: 0x%02X", ErrUnknownHandshake, f.FrameID()), f.Len())
	}
}

// Interpret decodes and classifies data in one step.
func Interpret(data []byte) (Response, error) {
	f, err := Decode(data)
	if err != nil {
		return Response{}, err
	}

	return Classify(f)
}
