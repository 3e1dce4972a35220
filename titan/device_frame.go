package titan

import "encoding/binary"

// Device-side frame builders. The host never sends these; they let tests and the
// device simulator produce exactly what a real device puts on the wire.

// NewHandshakeAck builds the 17-byte successful connection response.
// Bytes 14-16 carry the machine type, the MB existence flag and the socket id.
func NewHandshakeAck(machine MachineType, mbPresent bool, socketID byte) []byte {
	buf := handshakeHeader(HandshakeAckSize, 0x01)
	buf[14] = byte(machine)
	if mbPresent {
		buf[15] = 0x01
	}
	buf[16] = socketID

	return buf
}

// NewHandshakeNack builds the 14-byte refused connection response.
func NewHandshakeNack() []byte {
	return handshakeHeader(MinFrameSize, 0x00)
}

// handshake responses have no trailing checksum.
func handshakeHeader(size int, status byte) []byte {
	buf := make([]byte, size)
	copy(buf, DeviceMagic[:])
	binary.LittleEndian.PutUint16(buf[offLength:], uint16(size)) //nolint:gosec // constant sizes
	binary.BigEndian.PutUint16(buf[offCommandID:], uint16(CmdConnectResponse))
	buf[offFrameID] = status
	buf[offFixed1] = 0x01
	buf[offModuleID] = DefaultModuleID

	return buf
}

// NewCommandResponse builds the response to a host frame carrying code at offset 10.
func NewCommandResponse(cmd CommandID, frameID byte, moduleID byte, code ErrorCode) []byte {
	return packFrame(DeviceMagic, cmd.ResponseID(), frameID, byte(code), moduleID, nil)
}
