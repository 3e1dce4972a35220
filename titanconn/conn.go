package titanconn

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/arloliu/go-titan/internal/pool"
	"github.com/arloliu/go-titan/internal/util"
	"github.com/arloliu/go-titan/logger"
	"github.com/arloliu/go-titan/titan"
)

// CommandErrorHandler is invoked for every command response that carries a non-zero error code.
//
// Note: the handler is invoked by the dispatcher goroutine. Take care with long-running implementations.
type CommandErrorHandler func(conn *Connection, err *titan.CommandError)

// Connection is a single persistent connection to a Titan device.
//
// It dials the device, waits for the device handshake, keeps the session alive with
// periodic no-op frames and sends ASCII commands. All socket activity is turned into
// events that are handled by one dispatcher goroutine per TCP connection; the state
// manager is the only gate for outbound frames.
//
// There is no automatic reconnect: after a failure the state stays Failed until the
// caller invokes Open or Reconfigure again.
type Connection struct {
	pctx   context.Context
	cfg    *ConnectionConfig
	logger logger.Logger

	opMu sync.Mutex // serializes Open, Close and Reconfigure

	linkMu sync.RWMutex
	link   *link

	stateMgr *titan.ConnStateMgr
	taskMgr  *titan.TaskManager
	frameIDs *titan.FrameIDGenerator

	infoMu  sync.RWMutex
	session *titan.SessionInfo
	lastErr error

	handlerMu      sync.RWMutex
	cmdErrHandlers []CommandErrorHandler

	metrics ConnectionMetrics
}

const keepAliveTaskName = "keepAliveTask"

// NewConnection creates a new Connection with the given context and configuration.
// The connection starts in the disconnected state; call Open to connect.
func NewConnection(ctx context.Context, cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, titan.ErrConnConfigNil
	}

	conn := &Connection{
		pctx:     ctx,
		cfg:      cfg,
		logger:   cfg.logger,
		taskMgr:  titan.NewTaskManager(ctx, cfg.logger, cfg.clock),
		frameIDs: titan.NewFrameIDGenerator(cfg.frameIDMode, 0),
	}

	conn.stateMgr = titan.NewConnStateMgr(cfg.logger, conn.keepAliveConnStateHandler)

	return conn, nil
}

// GetLogger returns the logger associated with the connection.
func (c *Connection) GetLogger() logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics associated with the connection.
func (c *Connection) GetMetrics() *ConnectionMetrics {
	return &c.metrics
}

// Config returns the connection configuration.
func (c *Connection) Config() *ConnectionConfig {
	return c.cfg
}

// State returns the current connection state.
func (c *Connection) State() titan.ConnState {
	return c.stateMgr.State()
}

// Session returns the session assigned by the last accepted handshake. The second
// result is false when no session is established.
func (c *Connection) Session() (titan.SessionInfo, bool) {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()

	if c.session == nil {
		return titan.SessionInfo{}, false
	}

	return *c.session, true
}

// LastError returns the reason of the last connection failure, or nil.
func (c *Connection) LastError() error {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()

	return c.lastErr
}

// AddStateHandler adds handlers invoked on connection state changes.
func (c *Connection) AddStateHandler(handlers ...titan.ConnStateChangeHandler) {
	c.stateMgr.AddHandler(handlers...)
}

// AddCommandErrorHandler adds handlers invoked when the device reports a command error.
func (c *Connection) AddCommandErrorHandler(handlers ...CommandErrorHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	for _, h := range handlers {
		if h != nil {
			c.cmdErrHandlers = append(c.cmdErrHandlers, h)
		}
	}
}

// WaitState waits until the connection reaches one of the given states or ctx is done.
func (c *Connection) WaitState(ctx context.Context, states ...titan.ConnState) (titan.ConnState, error) {
	return c.stateMgr.WaitState(ctx, states...)
}

// Open connects to the device.
//
// The TCP connection is dialed synchronously; a dial failure moves the connection to the
// failed state and is returned as a *titan.TransportError. On success the connection
// waits for the device handshake in the background.
//
// If waitConnected is true, Open blocks until the handshake is accepted (nil is returned)
// or the attempt fails (the failure reason is returned).
//
// Calling Open on a connection that is already open or opening is a no-op.
func (c *Connection) Open(waitConnected bool) error {
	err := c.lockedOpen()
	if err != nil || !waitConnected {
		return err
	}

	return c.waitConnected()
}

func (c *Connection) lockedOpen() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.open()
}

func (c *Connection) open() error {
	if !c.stateMgr.State().IsIdle() {
		c.logger.Debug("connection already open", "state", c.stateMgr.State())
		return nil
	}

	// the goroutines of a failed link exit on their own, make sure they are gone
	c.taskMgr.Stop()
	c.taskMgr.Wait()

	if err := c.stateMgr.ToConnecting(); err != nil {
		return err
	}

	c.metrics.incConnAttemptCount()
	c.setLastError(nil)

	addr := c.cfg.Addr()
	c.logger.Info("connecting to device", "addr", addr)

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout()}
	netConn, err := dialer.DialContext(c.pctx, "tcp", addr)
	if err != nil {
		terr := &titan.TransportError{Op: "dial", Err: err}
		c.logger.Error("failed to connect to device", "addr", addr, "error", err)
		c.setLastError(terr)
		c.metrics.incConnFailCount()
		_ = c.stateMgr.ToFailed()

		return terr
	}

	l := newLink(c.pctx, netConn)
	c.setLink(l)

	if err := c.stateMgr.ToHandshakeWait(); err != nil {
		c.detachLink(l)
		_ = l.close()

		return err
	}

	if err := c.startLinkTasks(l); err != nil {
		c.logger.Error("failed to start connection tasks", "error", err)
		c.fail(l, err)

		return err
	}

	c.logger.Debug("TCP connection established, wait for handshake", "addr", addr, "local_addr", netConn.LocalAddr())

	return nil
}

func (c *Connection) waitConnected() error {
	state, err := c.stateMgr.WaitState(c.pctx, titan.ConnectedState, titan.FailedState, titan.DisconnectedState)
	if err != nil {
		return err
	}

	switch state {
	case titan.ConnectedState:
		return nil
	case titan.FailedState:
		if lastErr := c.LastError(); lastErr != nil {
			return lastErr
		}

		return titan.ErrConnClosed
	default:
		return titan.ErrConnClosed
	}
}

func (c *Connection) startLinkTasks(l *link) error {
	ctx := c.taskMgr.Context()

	err := c.taskMgr.Start("dispatcherTask", func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-l.ctx.Done():
			return false
		case ev := <-l.events:
			return c.dispatch(l, ev)
		}
	})
	if err != nil {
		return err
	}

	reassembler := titan.NewReassembler()
	err = c.taskMgr.StartReceiver("receiverTask", func(buf []byte) bool {
		return c.receiverTask(l, reassembler, buf)
	}, nil)
	if err != nil {
		return err
	}

	timeout := c.cfg.HandshakeTimeout()

	return c.taskMgr.Start("handshakeWatchdogTask", func() bool {
		c.handshakeWatchdog(ctx, l, timeout)
		return false
	})
}

// handshakeWatchdog fails the attempt if the device does not send a handshake in time.
func (c *Connection) handshakeWatchdog(ctx context.Context, l *link, timeout time.Duration) {
	timer := pool.AcquireTimer(timeout)
	defer pool.ReleaseTimer(timer)

	select {
	case <-ctx.Done():
		return
	case <-l.ctx.Done():
		return
	case <-timer.C:
		if c.stateMgr.State() == titan.HandshakeWaitState {
			c.logger.Debug("handshake timeout", "timeout", timeout)
			l.post(handshakeTimeoutEvent{})
		}
	}
}

// receiverTask reads the socket, cuts the byte stream into frames and posts them to the dispatcher.
func (c *Connection) receiverTask(l *link, r *titan.Reassembler, buf []byte) bool {
	n, err := l.conn.Read(buf)
	if n > 0 {
		_, _ = r.Write(buf[:n])
		for {
			frame, perr := r.Next()
			if perr != nil {
				if !l.post(frameEvent{err: perr}) {
					return false
				}
				continue
			}
			if frame == nil {
				break
			}
			if !l.post(frameEvent{data: frame}) {
				return false
			}
		}
	}

	if err != nil {
		if errors.Is(err, io.EOF) {
			l.post(closedEvent{})
		} else if l.ctx.Err() == nil {
			l.post(transportErrorEvent{err: &titan.TransportError{Op: "read", Err: err}})
		}

		return false
	}

	return true
}

// dispatch handles one event of link l. It returns false when the link is finished.
func (c *Connection) dispatch(l *link, ev event) bool {
	if !c.isCurrentLink(l) {
		c.logger.Debug("ignore event of a replaced link")
		return false
	}

	switch ev := ev.(type) {
	case frameEvent:
		if ev.err != nil {
			c.metrics.incParseErrCount()
			c.logger.Warn("discard malformed frame", "error", ev.err)

			return true
		}

		return c.handleFrame(l, ev.data)

	case transportErrorEvent:
		c.fail(l, ev.err)
		return false

	case closedEvent:
		c.logger.Warn("connection closed by device")
		c.fail(l, &titan.TransportError{Op: "read", Err: titan.ErrConnClosed})

		return false

	case handshakeTimeoutEvent:
		if c.stateMgr.State() != titan.HandshakeWaitState {
			return true
		}
		c.fail(l, titan.ErrHandshakeTimeout)

		return false
	}

	return true
}

func (c *Connection) handleFrame(l *link, data []byte) bool {
	if c.logger.Level() == logger.DebugLevel {
		c.logger.Debug("frame received", "len", len(data), "data", util.HexBytes(data))
	}

	resp, err := titan.Interpret(data)
	if err != nil {
		c.metrics.incParseErrCount()
		c.logger.Warn("discard malformed frame", "error", err, "len", len(data))

		return true
	}

	switch resp.Kind {
	case titan.HandshakeAck:
		if c.stateMgr.State() != titan.HandshakeWaitState {
			c.logger.Warn("unexpected handshake ack", "state", c.stateMgr.State())
			return true
		}

		c.setSession(&resp.Session)
		c.logger.Info("handshake accepted",
			"socket_id", resp.Session.SocketID,
			"machine_type", resp.Session.MachineType,
			"mb_present", resp.Session.MBPresent,
		)

		if err := c.stateMgr.ToConnected(); err != nil {
			c.logger.Error("failed to enter connected state", "error", err)
			c.setSession(nil)
		}

		return true

	case titan.HandshakeNack:
		c.metrics.incHandshakeRejectCount()
		c.logger.Error("handshake rejected, device connection limit reached")
		c.fail(l, titan.ErrHandshakeRejected)

		return false

	default:
		c.metrics.incResponseRecvCount()

		var cmdErr *titan.CommandError
		if errors.As(resp.Err(), &cmdErr) {
			c.metrics.incCommandErrCount()
			c.logger.Error("device reported command error",
				"code", cmdErr.Code, "category", cmdErr.Category(), "description", cmdErr.Category().Description(),
			)
			c.invokeCommandErrorHandlers(cmdErr)
		}

		return true
	}
}

func (c *Connection) invokeCommandErrorHandlers(err *titan.CommandError) {
	c.handlerMu.RLock()
	handlers := c.cmdErrHandlers
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		h(c, err)
	}
}

// fail moves the connection to the failed state and tears link l down. It does not wait
// for the goroutines of the link, the caller may be one of them.
func (c *Connection) fail(l *link, reason error) {
	if !c.isCurrentLink(l) {
		return
	}

	c.setLastError(reason)

	// keep-alive is disarmed by the state handler before the socket is closed
	if err := c.stateMgr.ToFailed(); err != nil {
		c.logger.Debug("skip failed state", "state", c.stateMgr.State(), "reason", reason)
	} else {
		c.metrics.incConnFailCount()
		c.logger.Error("connection failed", "reason", reason)
	}

	c.detachLink(l)
	_ = l.close()
	c.setSession(nil)
}

// Close disconnects from the device. It is safe to call from any state and more than once.
func (c *Connection) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMgr.ToDisconnected()

	var err error
	if l := c.swapLink(nil); l != nil {
		c.logger.Debug("close TCP connection")
		err = l.close()
	}
	c.setSession(nil)

	c.taskMgr.Stop()
	if !c.taskMgr.WaitTimeout(c.cfg.CloseConnTimeout()) {
		c.logger.Error("close timeout", "timeout", c.cfg.CloseConnTimeout())
	}

	c.logger.Info("disconnected from device", "addr", c.cfg.Addr())

	return err
}

// Reconfigure points the connection to a new device host. If host equals the current host the
// connection is left untouched; otherwise it is closed and opened again without waiting for the
// handshake.
func (c *Connection) Reconfigure(host string) error {
	if err := ValidateHost(host); err != nil {
		return err
	}

	if host == c.cfg.Host() {
		c.logger.Debug("host unchanged, keep connection", "host", host)
		return nil
	}

	_ = c.Close()

	if err := c.setHost(host); err != nil {
		return err
	}

	return c.Open(false)
}

func (c *Connection) setHost(host string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.cfg.setHost(host)
}

// SendCommand encodes cmd as an execute-ASCII frame and writes it. It is fire-and-forget:
// the device response is handled asynchronously and only logged when it reports an error.
//
// When the connection is not in the connected state nothing is written and
// titan.ErrNotConnected is returned. A write failure is returned as a *titan.TransportError
// and fails the connection.
func (c *Connection) SendCommand(cmd string) error {
	data, err := titan.EncodeCommand(cmd, c.frameIDs.Next(), c.cfg.moduleID)
	if err != nil {
		return err
	}

	if err := c.sendFrame(data); err != nil {
		if errors.Is(err, titan.ErrNotConnected) {
			c.metrics.incCommandDropCount()
			c.logger.Warn("not connected, drop command", "state", c.stateMgr.State(), "command", cmd)
		}

		return err
	}

	c.metrics.incCommandSendCount()
	c.logger.Debug("command sent", "command", cmd)

	return nil
}

// RecallPreset loads preset (1-14) of group (1-99) on the device.
func (c *Connection) RecallPreset(group, preset int) error {
	cmd, err := titan.RecallPresetCommand(group, preset)
	if err != nil {
		return err
	}

	return c.SendCommand(cmd)
}

// sendFrame writes data only while the connection is in the connected state.
func (c *Connection) sendFrame(data []byte) error {
	var l *link

	ran, err := c.stateMgr.RunInState(titan.ConnectedState, func() error {
		l = c.currentLink()
		if l == nil {
			return titan.ErrNotConnected
		}

		if c.logger.Level() == logger.DebugLevel {
			c.logger.Debug("send frame", "len", len(data), "data", util.HexBytes(data))
		}

		return l.write(data, c.cfg.WriteTimeout())
	})
	if !ran {
		return titan.ErrNotConnected
	}

	if err != nil {
		if errors.Is(err, titan.ErrNotConnected) {
			return err
		}

		terr := &titan.TransportError{Op: "write", Err: err}
		l.post(transportErrorEvent{err: terr})

		return terr
	}

	return nil
}

func (c *Connection) currentLink() *link {
	c.linkMu.RLock()
	defer c.linkMu.RUnlock()

	return c.link
}

func (c *Connection) isCurrentLink(l *link) bool {
	return l != nil && c.currentLink() == l
}

func (c *Connection) setLink(l *link) {
	c.linkMu.Lock()
	c.link = l
	c.linkMu.Unlock()
}

func (c *Connection) swapLink(l *link) *link {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()

	old := c.link
	c.link = l

	return old
}

// detachLink clears the current link if it is l.
func (c *Connection) detachLink(l *link) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()

	if c.link == l {
		c.link = nil
	}
}

func (c *Connection) setSession(s *titan.SessionInfo) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()

	c.session = s
}

func (c *Connection) setLastError(err error) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()

	c.lastErr = err
}
