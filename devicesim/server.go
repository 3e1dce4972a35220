// Package devicesim provides an in-process TCP server that behaves like a Titan device on
// port 20036. It is used by tests and by "titanctl simulate".
//
// On every accepted connection the server sends a handshake ack, or a nack once the
// session limit is reached. Host frames are re-framed and verified: a checksum error is
// answered with error code 0x02, keep-alive frames are recorded but not answered, and
// every other command is answered with the code chosen by the Responder.
package devicesim

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-titan/internal/util"
	"github.com/arloliu/go-titan/logger"
	"github.com/arloliu/go-titan/titan"
)

// ReceivedFrame is a host frame received by the server.
type ReceivedFrame struct {
	SocketID byte
	// Frame is nil when the frame could not be decoded.
	Frame *titan.Frame
	Raw   []byte
	Err   error
}

// IsKeepAlive reports whether the frame is a no-op keep-alive frame.
func (f ReceivedFrame) IsKeepAlive() bool {
	return f.Frame != nil && f.Frame.CommandID == titan.CmdNoOp
}

// Server is a simulated device.
type Server struct {
	cfg    *config
	logger logger.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	sessions     *xsync.MapOf[byte, net.Conn]
	sessionMu    sync.Mutex // serializes admission against the session limit
	nextSocketID atomic.Uint32
	rejected     atomic.Uint64

	framesMu sync.Mutex
	frames   []ReceivedFrame
}

// NewServer creates a server with the given options. Call Listen to start it.
func NewServer(opts ...Option) (*Server, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return &Server{
		cfg:      cfg,
		logger:   cfg.logger,
		sessions: xsync.NewMapOf[byte, net.Conn](),
	}, nil
}

// Listen starts listening on addr, e.g. "127.0.0.1:0", and accepts connections in the background
// until ctx is done or Close is called.
func (s *Server) Listen(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()

	context.AfterFunc(s.ctx, func() { _ = ln.Close() })

	s.logger.Info("device simulator listening", "addr", ln.Addr().String(), "max_sessions", s.cfg.maxSessions)

	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Host returns the IP address the server listens on.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

// Close stops the server and closes every session.
func (s *Server) Close() error {
	if s.cancel == nil {
		return nil
	}

	s.cancel()
	_ = s.listener.Close()
	s.DropSessions()
	s.wg.Wait()

	return nil
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Size()
}

// RejectedCount returns the number of connections refused because of the session limit.
func (s *Server) RejectedCount() uint64 {
	return s.rejected.Load()
}

// DropSessions closes every open session, as a device reboot would.
func (s *Server) DropSessions() {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	s.sessions.Range(func(id byte, conn net.Conn) bool {
		_ = conn.Close()
		return true
	})
}

// Inject writes raw bytes to the session with the given socket id.
func (s *Server) Inject(socketID byte, data []byte) error {
	conn, ok := s.sessions.Load(socketID)
	if !ok {
		return errors.New("devicesim: no such session")
	}

	_, err := conn.Write(data)

	return err
}

// Frames returns a copy of all host frames received so far.
func (s *Server) Frames() []ReceivedFrame {
	s.framesMu.Lock()
	defer s.framesMu.Unlock()

	return util.CloneSlice(s.frames, 0)
}

// Commands returns the ASCII payloads of the received command frames, in order.
func (s *Server) Commands() []string {
	var cmds []string
	for _, f := range s.Frames() {
		if f.Frame != nil && f.Frame.CommandID == titan.CmdExecASCII {
			cmds = append(cmds, string(f.Frame.Payload))
		}
	}

	return cmds
}

// KeepAliveCount returns the number of keep-alive frames received.
func (s *Server) KeepAliveCount() int {
	n := 0
	for _, f := range s.Frames() {
		if f.IsKeepAlive() {
			n++
		}
	}

	return n
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept failed", "error", err)
			}

			return
		}

		s.wg.Add(1)
		go s.serve(conn)
	}
}

// admit registers conn as a new session, or returns false when the session limit is reached.
func (s *Server) admit(conn net.Conn) (byte, bool) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if s.sessions.Size() >= s.cfg.maxSessions || s.ctx.Err() != nil {
		return 0, false
	}

	for {
		id := byte(s.nextSocketID.Add(1)) //nolint:gosec // socket ids wrap
		if id == 0 {
			continue
		}
		if _, loaded := s.sessions.LoadOrStore(id, conn); !loaded {
			return id, true
		}
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	socketID, ok := s.admit(conn)
	if !ok {
		s.rejected.Add(1)
		s.logger.Warn("session limit reached, reject connection", "remote_addr", conn.RemoteAddr().String())
		_, _ = conn.Write(titan.NewHandshakeNack())

		return
	}
	defer s.sessions.Delete(socketID)

	s.logger.Info("session accepted", "socket_id", socketID, "remote_addr", conn.RemoteAddr().String())

	if s.cfg.handshake {
		if _, err := conn.Write(titan.NewHandshakeAck(s.cfg.machineType, s.cfg.mbPresent, socketID)); err != nil {
			return
		}
	}

	r := titan.NewRequestReassembler()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			_, _ = r.Write(buf[:n])
			if !s.drain(conn, socketID, r) {
				return
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.ctx.Err() == nil {
				s.logger.Debug("session read failed", "socket_id", socketID, "error", err)
			}
			s.logger.Info("session closed", "socket_id", socketID)

			return
		}
	}
}

func (s *Server) drain(conn net.Conn, socketID byte, r *titan.Reassembler) bool {
	for {
		raw, err := r.Next()
		if err != nil {
			s.logger.Warn("discard garbage from host", "socket_id", socketID, "error", err)
			continue
		}
		if raw == nil {
			return true
		}

		if rsp := s.handleFrame(socketID, raw); rsp != nil {
			if _, err := conn.Write(rsp); err != nil {
				return false
			}
		}
	}
}

// handleFrame records a host frame and returns the response to send, if any.
func (s *Server) handleFrame(socketID byte, raw []byte) []byte {
	frame, err := titan.DecodeRequest(raw)
	s.record(ReceivedFrame{SocketID: socketID, Frame: frame, Raw: raw, Err: err})

	if err != nil {
		cmd := titan.CommandID(binary.BigEndian.Uint16(raw[7:9]))
		code := titan.CodeParseError
		if errors.Is(err, titan.ErrChecksumMismatch) {
			code = titan.CodeChecksumError
		}
		s.logger.Warn("invalid host frame", "socket_id", socketID, "error", err, "data", util.HexBytes(raw))

		return titan.NewCommandResponse(cmd, raw[9], raw[12], code)
	}

	if frame.CommandID == titan.CmdNoOp {
		s.logger.Debug("keep-alive received", "socket_id", socketID)
		return nil
	}

	s.logger.Info("command received", "socket_id", socketID, "command_id", frame.CommandID, "payload", string(frame.Payload))

	code, ok := s.cfg.responder(socketID, frame)
	if !ok {
		return nil
	}

	return titan.NewCommandResponse(frame.CommandID, frame.FrameID, frame.ModuleID, code)
}

func (s *Server) record(f ReceivedFrame) {
	s.framesMu.Lock()
	defer s.framesMu.Unlock()

	s.frames = append(s.frames, f)
}
