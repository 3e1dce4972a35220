package devicesim

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-titan/titan"
)

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	s, err := NewServer(opts...)
	require.NoError(t, err)
	require.NoError(t, s.Listen(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	return conn
}

func readFrame(t *testing.T, conn net.Conn, size int) []byte {
	t.Helper()

	buf := make([]byte, size)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)

	return buf
}

func TestServer_Handshake(t *testing.T) {
	require := require.New(t)

	s := startServer(t, WithMachineType(titan.MachineRainier3GQuad), WithMBPresent(true), WithMaxSessions(2))

	for i := 1; i <= 2; i++ {
		conn := dial(t, s)
		resp, err := titan.Interpret(readFrame(t, conn, titan.HandshakeAckSize))
		require.NoError(err)
		require.Equal(titan.HandshakeAck, resp.Kind)
		require.Equal(titan.SessionInfo{SocketID: byte(i), MachineType: titan.MachineRainier3GQuad, MBPresent: true}, resp.Session)
	}
	require.Eventually(func() bool { return s.SessionCount() == 2 }, time.Second, 5*time.Millisecond)

	conn := dial(t, s)
	resp, err := titan.Interpret(readFrame(t, conn, titan.MinFrameSize))
	require.NoError(err)
	require.Equal(titan.HandshakeNack, resp.Kind)
	require.Equal(uint64(1), s.RejectedCount())

	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(err, io.EOF)
}

func TestServer_Commands(t *testing.T) {
	require := require.New(t)

	s := startServer(t, WithResponder(func(_ byte, f *titan.Frame) (titan.ErrorCode, bool) {
		switch string(f.Payload) {
		case "silent":
			return 0, false
		case "XP 001000000 L preset2.GP1":
			return titan.CodeExecutionFailed, true
		default:
			return titan.CodeOK, true
		}
	}))
	conn := dial(t, s)
	readFrame(t, conn, titan.HandshakeAckSize)

	write := func(data []byte) {
		_, err := conn.Write(data)
		require.NoError(err)
	}

	t.Run("OK response", func(t *testing.T) {
		data, err := titan.EncodeCommand("XP 001000000 L preset1.GP1", 0x07, titan.DefaultModuleID)
		require.NoError(err)
		write(data)

		f, err := titan.Decode(readFrame(t, conn, 15))
		require.NoError(err)
		require.Equal(titan.CmdExecASCII.ResponseID(), f.CommandID())
		require.Equal(byte(0x07), f.FrameID())
		require.Equal(titan.CodeOK, f.ErrorCode())
	})

	t.Run("Responder code", func(t *testing.T) {
		data, err := titan.Encode("XP 001000000 L preset2.GP1")
		require.NoError(err)
		write(data)

		resp, err := titan.Interpret(readFrame(t, conn, 15))
		require.NoError(err)
		require.Equal(titan.CodeExecutionFailed, resp.Code)
	})

	t.Run("Checksum error", func(t *testing.T) {
		data, err := titan.Encode("XN 001003001 E 1")
		require.NoError(err)
		data[len(data)-1]++
		write(data)

		resp, err := titan.Interpret(readFrame(t, conn, 15))
		require.NoError(err)
		require.Equal(titan.CodeChecksumError, resp.Code)
		require.Equal(titan.CategoryChecksum, resp.Code.Category())
	})

	t.Run("Keep-alive and silent are not answered", func(t *testing.T) {
		write(titan.NewKeepAliveFrame(0, titan.DefaultModuleID))
		data, err := titan.Encode("silent")
		require.NoError(err)
		write(data)

		// split a command across writes, only its response comes back
		data, err = titan.Encode("XN 001003001 E 1")
		require.NoError(err)
		write(data[:10])
		time.Sleep(10 * time.Millisecond)
		write(data[10:])

		resp, err := titan.Interpret(readFrame(t, conn, 15))
		require.NoError(err)
		require.Equal(titan.CodeOK, resp.Code)

		require.Equal(1, s.KeepAliveCount())
	})

	frames := s.Frames()
	require.Len(frames, 6)
	require.Error(frames[2].Err)
	require.Nil(frames[2].Frame)
	require.Equal([]string{
		"XP 001000000 L preset1.GP1",
		"XP 001000000 L preset2.GP1",
		"silent",
		"XN 001003001 E 1",
	}, s.Commands())
}

func TestServer_DropAndInject(t *testing.T) {
	require := require.New(t)

	s := startServer(t)
	conn := dial(t, s)
	ack, err := titan.Interpret(readFrame(t, conn, titan.HandshakeAckSize))
	require.NoError(err)

	nack := titan.NewHandshakeNack()
	require.NoError(s.Inject(ack.Session.SocketID, nack))
	require.Equal(nack, readFrame(t, conn, len(nack)))
	require.Error(s.Inject(99, nack))

	s.DropSessions()
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(err, io.EOF)
	require.Eventually(func() bool { return s.SessionCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_WithoutHandshake(t *testing.T) {
	require := require.New(t)

	s := startServer(t, WithoutHandshake())
	conn := dial(t, s)
	require.NoError(conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)))

	_, err := conn.Read(make([]byte, 1))
	var netErr net.Error
	require.ErrorAs(err, &netErr)
	require.True(netErr.Timeout())
}

func TestNewServer_InvalidOptions(t *testing.T) {
	require := require.New(t)

	_, err := NewServer(WithMaxSessions(-1))
	require.Error(err)
	_, err = NewServer(WithResponder(nil))
	require.Error(err)
	_, err = NewServer(WithLogger(nil))
	require.Error(err)
}
