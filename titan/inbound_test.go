package titan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	require := require.New(t)

	t.Run("Short frame", func(t *testing.T) {
		for _, n := range []int{0, 1, 4, MinFrameSize - 1} {
			_, err := Decode(make([]byte, n))
			require.ErrorIs(err, ErrShortFrame)

			var pe *ParseError
			require.ErrorAs(err, &pe)
			require.Equal(n, pe.Len)
		}
	})

	t.Run("Bad magic", func(t *testing.T) {
		data := NewHandshakeNack()
		data[0] = 0x55

		_, err := Decode(data)
		require.ErrorIs(err, ErrBadMagic)

		// host frames are not device frames
		hostFrame, err := Encode("XN 001003001 E 1")
		require.NoError(err)
		_, err = Decode(hostFrame)
		require.ErrorIs(err, ErrBadMagic)
	})

	t.Run("Fields", func(t *testing.T) {
		f, err := Decode(NewCommandResponse(CmdExecASCII, 0x05, 0xFE, CodeMissingFile))
		require.NoError(err)
		require.Equal(15, f.Len())
		require.Equal(15, f.DeclaredLength())
		require.Equal(CommandID(0x0293), f.CommandID())
		require.Equal(byte(0x05), f.FrameID())
		require.Equal(CodeMissingFile, f.ErrorCode())
		require.Equal(byte(0xFE), f.ModuleID())
		require.False(f.IsHandshake())
	})

	t.Run("Checksum not verified", func(t *testing.T) {
		data := NewCommandResponse(CmdExecASCII, 0, 0xFE, CodeOK)
		data[len(data)-1] ^= 0xFF

		resp, err := Interpret(data)
		require.NoError(err)
		require.Equal(CommandResponse, resp.Kind)
	})
}

func TestClassify(t *testing.T) {
	require := require.New(t)

	t.Run("Handshake ack", func(t *testing.T) {
		resp, err := Interpret(NewHandshakeAck(MachineTitan9000, true, 0x02))
		require.NoError(err)
		require.Equal(HandshakeAck, resp.Kind)
		require.Equal(SessionInfo{SocketID: 0x02, MachineType: MachineTitan9000, MBPresent: true}, resp.Session)
		require.NoError(resp.Err())
	})

	t.Run("Handshake ack with unknown machine type", func(t *testing.T) {
		resp, err := Interpret(NewHandshakeAck(MachineType(0x07), false, 0x01))
		require.NoError(err)
		require.Equal(MachineType(0x07), resp.Session.MachineType)
		require.Equal("unknown(0x07)", resp.Session.MachineType.String())
	})

	t.Run("Handshake nack", func(t *testing.T) {
		data := NewHandshakeNack()
		require.Len(data, 14)

		resp, err := Interpret(data)
		require.NoError(err)
		require.Equal(HandshakeNack, resp.Kind)
	})

	t.Run("Truncated ack", func(t *testing.T) {
		data := NewHandshakeAck(MachineTitan9000, false, 1)[:16]

		_, err := Interpret(data)
		require.ErrorIs(err, ErrShortFrame)
	})

	t.Run("Unknown handshake status", func(t *testing.T) {
		data := NewHandshakeAck(MachineTitan9000, false, 1)
		data[offFrameID] = 0x02

		_, err := Interpret(data)
		require.ErrorIs(err, ErrUnknownHandshake)
		require.True(IsParseError(err))
	})

	t.Run("Command response", func(t *testing.T) {
		resp, err := Interpret(NewCommandResponse(CmdExecASCII, 0, 0xFE, CodeOK))
		require.NoError(err)
		require.Equal(CommandResponse, resp.Kind)
		require.Equal(CodeOK, resp.Code)
		require.NoError(resp.Err())

		resp, err = Interpret(NewCommandResponse(CmdExecASCII, 0, 0xFE, CodeConnectionLimit))
		require.NoError(err)

		var cmdErr *CommandError
		require.True(errors.As(resp.Err(), &cmdErr))
		require.Equal(CategoryConnectionLimit, cmdErr.Category())
		require.Contains(cmdErr.Error(), "0x10")
	})
}

func TestErrorCodeCategory(t *testing.T) {
	require := require.New(t)

	require.Equal(CategoryNone, CodeOK.Category())
	require.Equal(CategoryParse, CodeParseError.Category())
	require.Equal(CategoryChecksum, CodeChecksumError.Category())
	require.Equal(CategoryMissingFile, CodeMissingFile.Category())
	require.Equal(CategoryConnectionLimit, ErrorCode(0x10).Category())

	for code := 0x01; code <= 0x10; code++ {
		cat := ErrorCode(code).Category()
		require.NotEqual(CategoryUnknown, cat, "code 0x%02X", code)
		require.NotEqual(CategoryNone, cat, "code 0x%02X", code)
		require.NotEmpty(cat.Description())
	}

	for _, code := range []ErrorCode{0x11, 0x42, 0x99, 0xFF} {
		require.Equal(CategoryUnknown, code.Category())

		err := &CommandError{Code: code}
		require.Equal(code, err.Code)
		require.Contains(err.Error(), code.String())
	}

	require.Equal("0x99", ErrorCode(0x99).String())
	require.Equal("Unknown error", ErrorCode(0x99).Category().Description())
}
