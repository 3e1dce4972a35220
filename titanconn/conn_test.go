package titanconn

import (
	"context"
	"encoding/hex"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-titan/devicesim"
	"github.com/arloliu/go-titan/logger"
	"github.com/arloliu/go-titan/titan"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func newSimulator(t *testing.T, opts ...devicesim.Option) *devicesim.Server {
	t.Helper()

	sim, err := devicesim.NewServer(opts...)
	require.NoError(t, err)
	require.NoError(t, sim.Listen(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { _ = sim.Close() })

	return sim
}

func newTestConn(t *testing.T, sim *devicesim.Server, opts ...ConnOption) *Connection {
	t.Helper()

	cfg, err := NewConnectionConfig(sim.Host(), sim.Port(), opts...)
	require.NoError(t, err)

	conn, err := NewConnection(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestConnection_OpenAndRecall(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t, devicesim.WithMBPresent(true))
	conn := newTestConn(t, sim, WithClock(clockwork.NewFakeClock()))

	var mu sync.Mutex
	var transitions []string
	conn.AddStateHandler(func(prev, cur titan.ConnState) {
		mu.Lock()
		transitions = append(transitions, prev.String()+">"+cur.String())
		mu.Unlock()
	})

	require.Equal(titan.DisconnectedState, conn.State())
	require.NoError(conn.Open(true))
	require.Equal(titan.ConnectedState, conn.State())

	session, ok := conn.Session()
	require.True(ok)
	require.Equal(titan.SessionInfo{SocketID: 1, MachineType: titan.MachineTitan9000, MBPresent: true}, session)

	require.NoError(conn.RecallPreset(1, 1))
	require.Eventually(func() bool { return len(sim.Commands()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal([]string{"XP 001000000 L preset1.GP1"}, sim.Commands())
	require.Equal(
		"55aa5aa5290000021300ff01fe00585020303031303030303030204c20707265736574312e475031f9",
		hex.EncodeToString(sim.Frames()[0].Raw),
	)
	require.Eventually(func() bool { return conn.GetMetrics().ResponseRecvCount.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(uint64(1), conn.GetMetrics().CommandSendCount.Load())

	require.ErrorIs(conn.RecallPreset(100, 1), titan.ErrGroupOutOfRange)
	require.ErrorIs(conn.SendCommand("XN é"), titan.ErrNonASCII)

	require.NoError(conn.Close())
	require.Equal(titan.DisconnectedState, conn.State())
	_, ok = conn.Session()
	require.False(ok)

	// idempotent
	require.NoError(conn.Close())
	require.Eventually(func() bool { return sim.SessionCount() == 0 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal([]string{
		"disconnected>connecting",
		"connecting>handshake-wait",
		"handshake-wait>connected",
		"connected>disconnected",
	}, transitions)
}

func TestConnection_SendWhenNotConnected(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t)
	mockLogger := logger.NewMockLogger().AllowAll()
	conn := newTestConn(t, sim, WithLogger(mockLogger))

	require.ErrorIs(conn.SendCommand("XN 001003001 E 1"), titan.ErrNotConnected)
	require.ErrorIs(conn.RecallPreset(1, 2), titan.ErrNotConnected)
	require.Equal(uint64(2), conn.GetMetrics().CommandDropCount.Load())
	mockLogger.AssertCalled(t, "Warn", "not connected, drop command", mock.Anything)

	require.NoError(conn.Open(true))
	require.NoError(conn.Close())
	require.ErrorIs(conn.SendCommand("XN 001003001 E 1"), titan.ErrNotConnected)

	time.Sleep(20 * time.Millisecond)
	require.Empty(sim.Commands())
}

func TestConnection_KeepAlive(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClock()
	sim := newSimulator(t)
	conn := newTestConn(t, sim, WithClock(clock))

	require.NoError(conn.Open(true))
	clock.BlockUntil(1)

	clock.Advance(7*time.Minute - time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Zero(sim.KeepAliveCount())

	clock.Advance(time.Second)
	require.Eventually(func() bool { return sim.KeepAliveCount() == 1 }, time.Second, 5*time.Millisecond)

	clock.Advance(7 * time.Minute)
	require.Eventually(func() bool { return sim.KeepAliveCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(uint64(2), conn.GetMetrics().KeepAliveSendCount.Load())

	ka := sim.Frames()[0]
	require.True(ka.IsKeepAlive())
	require.Equal("55aa5aa50f0000000000ff01fe000b", hex.EncodeToString(ka.Raw))

	// keep-alives are not answered, the connection stays up
	require.Equal(titan.ConnectedState, conn.State())
	require.Zero(conn.GetMetrics().ResponseRecvCount.Load())

	require.NoError(conn.Close())
	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	require.Equal(2, sim.KeepAliveCount())
}

func TestConnection_HandshakeRejected(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t)

	for i := 0; i < devicesim.DefaultMaxSessions; i++ {
		conn := newTestConn(t, sim)
		require.NoError(conn.Open(true))

		session, ok := conn.Session()
		require.True(ok)
		require.Equal(byte(i+1), session.SocketID)
	}

	conn := newTestConn(t, sim)
	err := conn.Open(true)
	require.ErrorIs(err, titan.ErrHandshakeRejected)
	require.Equal(titan.FailedState, conn.State())
	require.Equal(titan.StatusError, conn.State().Status())
	require.ErrorIs(conn.LastError(), titan.ErrHandshakeRejected)
	require.Equal(uint64(1), conn.GetMetrics().HandshakeRejectCount.Load())
	require.Equal(uint64(1), sim.RejectedCount())

	_, ok := conn.Session()
	require.False(ok)
	require.ErrorIs(conn.SendCommand("XN 001003001 E 1"), titan.ErrNotConnected)
}

func TestConnection_DialFailure(t *testing.T) {
	require := require.New(t)

	// reserve a port and release it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(ln.Close())

	cfg, err := NewConnectionConfig("127.0.0.1", port)
	require.NoError(err)
	conn, err := NewConnection(context.Background(), cfg)
	require.NoError(err)
	defer conn.Close()

	err = conn.Open(false)
	require.Error(err)

	var terr *titan.TransportError
	require.ErrorAs(err, &terr)
	require.Equal("dial", terr.Op)
	require.Equal(titan.FailedState, conn.State())
	require.Equal(err, conn.LastError())
	require.Equal(uint64(1), conn.GetMetrics().ConnFailCount.Load())
}

func TestConnection_HandshakeTimeout(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t, devicesim.WithoutHandshake())
	conn := newTestConn(t, sim, WithHandshakeTimeout(time.Second))

	start := time.Now()
	err := conn.Open(true)
	require.ErrorIs(err, titan.ErrHandshakeTimeout)
	require.GreaterOrEqual(time.Since(start), time.Second)
	require.Equal(titan.FailedState, conn.State())
}

func TestConnection_PeerClose(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t)
	conn := newTestConn(t, sim)

	require.NoError(conn.Open(true))
	sim.DropSessions()

	require.Eventually(func() bool { return conn.State() == titan.FailedState }, 2*time.Second, 5*time.Millisecond)
	require.True(titan.IsTransportError(conn.LastError()))
	require.ErrorIs(conn.SendCommand("XN 001003001 E 1"), titan.ErrNotConnected)

	// no automatic reconnect, the caller opens again
	require.NoError(conn.Open(true))
	require.Equal(titan.ConnectedState, conn.State())
	require.NoError(conn.LastError())

	session, ok := conn.Session()
	require.True(ok)
	require.Equal(byte(2), session.SocketID)
}

func TestConnection_CommandError(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t, devicesim.WithResponder(func(_ byte, f *titan.Frame) (titan.ErrorCode, bool) {
		if string(f.Payload) == "XP 001000000 L preset14.GP1" {
			return titan.CodeMissingFile, true
		}
		return titan.CodeOK, true
	}))
	conn := newTestConn(t, sim)

	codes := make(chan titan.ErrorCode, 4)
	conn.AddCommandErrorHandler(func(_ *Connection, err *titan.CommandError) {
		codes <- err.Code
	})

	require.NoError(conn.Open(true))
	require.NoError(conn.RecallPreset(1, 1))
	require.NoError(conn.RecallPreset(1, 14))

	select {
	case code := <-codes:
		require.Equal(titan.CodeMissingFile, code)
		require.Equal(titan.CategoryMissingFile, code.Category())
	case <-time.After(time.Second):
		t.Fatal("command error handler not invoked")
	}

	require.Eventually(func() bool { return conn.GetMetrics().ResponseRecvCount.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(uint64(1), conn.GetMetrics().CommandErrCount.Load())
	require.Equal(titan.ConnectedState, conn.State())
}

func TestConnection_MalformedFrames(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t)
	conn := newTestConn(t, sim)
	require.NoError(conn.Open(true))

	session, _ := conn.Session()

	// garbage, then a handshake with an unknown status, then a valid response split in two writes
	badHandshake := titan.NewHandshakeAck(titan.MachineTitan9000, false, 9)
	badHandshake[9] = 0x05
	rsp := titan.NewCommandResponse(titan.CmdExecASCII, 0, titan.DefaultModuleID, titan.CodeOK)

	require.NoError(sim.Inject(session.SocketID, append([]byte{0x01, 0x02, 0x03}, badHandshake...)))
	require.NoError(sim.Inject(session.SocketID, rsp[:6]))
	time.Sleep(10 * time.Millisecond)
	require.NoError(sim.Inject(session.SocketID, rsp[6:]))

	require.Eventually(func() bool { return conn.GetMetrics().ResponseRecvCount.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(uint64(2), conn.GetMetrics().ParseErrCount.Load())
	require.Equal(titan.ConnectedState, conn.State())

	// a second ack while connected is ignored
	require.NoError(sim.Inject(session.SocketID, titan.NewHandshakeAck(titan.MachineRainier3GQuad, false, 7)))
	time.Sleep(20 * time.Millisecond)
	session2, ok := conn.Session()
	require.True(ok)
	require.Equal(session, session2)
}

func TestConnection_MonotonicFrameID(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t)
	conn := newTestConn(t, sim, WithMonotonicFrameID())
	require.NoError(conn.Open(true))

	require.NoError(conn.SendCommand("XN 001003001 E 1"))
	require.NoError(conn.SendCommand("XN 001003001 E 2\r\n"))
	require.Eventually(func() bool { return len(sim.Commands()) == 2 }, time.Second, 5*time.Millisecond)

	frames := sim.Frames()
	require.Equal(byte(0), frames[0].Frame.FrameID)
	require.Equal(byte(1), frames[1].Frame.FrameID)
	require.Equal(byte(0xFE), frames[1].Raw[10])
	require.Equal("XN 001003001 E 2", string(frames[1].Frame.Payload))
}

func TestConnection_Reconfigure(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t)
	conn := newTestConn(t, sim)
	require.NoError(conn.Open(true))

	t.Run("Same host", func(t *testing.T) {
		require.NoError(conn.Reconfigure(sim.Host()))
		require.Equal(titan.ConnectedState, conn.State())
		session, _ := conn.Session()
		require.Equal(byte(1), session.SocketID)
		require.Equal(1, sim.SessionCount())
		require.Equal(uint64(1), conn.GetMetrics().ConnAttemptCount.Load())
	})

	t.Run("Invalid host", func(t *testing.T) {
		require.ErrorIs(conn.Reconfigure("titan.local"), ErrInvalidHost)
		require.Equal(titan.ConnectedState, conn.State())
	})

	t.Run("New host", func(t *testing.T) {
		sim2, err := devicesim.NewServer()
		require.NoError(err)
		addr := net.JoinHostPort("127.0.0.2", strconv.Itoa(sim.Port()))
		if err := sim2.Listen(context.Background(), addr); err != nil {
			t.Skipf("cannot listen on %s: %v", addr, err)
		}
		defer sim2.Close()

		require.NoError(conn.Reconfigure("127.0.0.2"))
		_, err = conn.WaitState(context.Background(), titan.ConnectedState, titan.FailedState)
		require.NoError(err)
		require.Equal(titan.ConnectedState, conn.State())
		require.Equal("127.0.0.2", conn.Config().Host())
		require.Eventually(func() bool { return sim.SessionCount() == 0 }, time.Second, 5*time.Millisecond)
		require.Equal(1, sim2.SessionCount())
	})
}

func TestConnection_KeepAliveDisarmAndRearm(t *testing.T) {
	require := require.New(t)

	clock := clockwork.NewFakeClock()
	sim := newSimulator(t)
	conn := newTestConn(t, sim, WithClock(clock))

	require.NoError(conn.Open(true))
	clock.BlockUntil(1)
	require.True(conn.taskMgr.HasInterval(keepAliveTaskName))

	// Connected -> Failed disarms the keep-alive
	sim.DropSessions()
	require.Eventually(func() bool { return conn.State() == titan.FailedState }, 2*time.Second, 5*time.Millisecond)
	require.False(conn.taskMgr.HasInterval(keepAliveTaskName))

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	require.Zero(sim.KeepAliveCount())
	require.Zero(conn.GetMetrics().KeepAliveSendCount.Load())

	// a fresh handshake re-arms it
	require.NoError(conn.Open(true))
	require.True(conn.taskMgr.HasInterval(keepAliveTaskName))
	clock.BlockUntil(1)

	clock.Advance(7 * time.Minute)
	require.Eventually(func() bool { return sim.KeepAliveCount() == 1 }, time.Second, 5*time.Millisecond)

	frames := sim.Frames()
	require.Equal(byte(2), frames[len(frames)-1].SocketID)

	require.NoError(conn.Close())
	require.False(conn.taskMgr.HasInterval(keepAliveTaskName))
	require.Zero(conn.taskMgr.TaskCount())
}

func TestConnection_OpenPanicReleasesLock(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t)
	conn := newTestConn(t, sim, WithClock(clockwork.NewFakeClock()))

	var armed atomic.Bool
	armed.Store(true)
	conn.AddStateHandler(func(_, cur titan.ConnState) {
		if cur == titan.ConnectingState && armed.CompareAndSwap(true, false) {
			panic("state handler failure")
		}
	})

	require.Panics(func() { _ = conn.Open(false) })

	closed := make(chan error, 1)
	go func() { closed <- conn.Close() }()

	select {
	case err := <-closed:
		require.NoError(err)
	case <-time.After(2 * time.Second):
		require.Fail("Close blocked after a panic in Open")
	}

	require.NoError(conn.Open(true))
	require.Equal(titan.ConnectedState, conn.State())
}

func TestConnection_HandshakeWatchdogOwnedByTasks(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t, devicesim.WithoutHandshake())
	conn := newTestConn(t, sim, WithHandshakeTimeout(time.Minute))

	require.NoError(conn.Open(false))
	require.Equal(titan.HandshakeWaitState, conn.State())
	// dispatcher, receiver and handshake watchdog
	require.Equal(3, conn.taskMgr.TaskCount())

	start := time.Now()
	require.NoError(conn.Close())
	require.Less(time.Since(start), conn.Config().CloseConnTimeout())
	require.Zero(conn.taskMgr.TaskCount())
}

func TestConnection_InflatedLengthBeforeNack(t *testing.T) {
	require := require.New(t)

	sim := newSimulator(t, devicesim.WithoutHandshake())
	conn := newTestConn(t, sim, WithHandshakeTimeout(time.Minute))

	require.NoError(conn.Open(false))
	require.Eventually(func() bool { return sim.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	bad := titan.NewCommandResponse(titan.CmdExecASCII, 0, titan.DefaultModuleID, titan.CodeOK)
	bad[4], bad[5] = 0xFF, 0xFF
	require.NoError(sim.Inject(1, append(bad, titan.NewHandshakeNack()...)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := conn.WaitState(ctx, titan.FailedState)
	require.NoError(err)
	require.Equal(titan.FailedState, state)
	require.ErrorIs(conn.LastError(), titan.ErrHandshakeRejected)
	require.Equal(uint64(1), conn.GetMetrics().ParseErrCount.Load())
}
