package titan

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-titan/logger"
)

// ConnState represents the stages of a connection to the device.
type ConnState uint32

// Connection states.
const (
	// DisconnectedState indicates that no TCP connection exists and none is being attempted.
	DisconnectedState ConnState = iota
	// ConnectingState indicates that a TCP connection attempt is in progress.
	ConnectingState
	// HandshakeWaitState indicates that the TCP connection is open and the device handshake
	// has not arrived yet.
	HandshakeWaitState
	// ConnectedState indicates that the handshake was accepted and commands may be sent.
	ConnectedState
	// FailedState indicates that the last connection attempt or the established session failed.
	FailedState
)

// IsDisconnected returns if the state is DisconnectedState.
func (cs ConnState) IsDisconnected() bool { return cs == DisconnectedState }

// IsConnected returns if the state is ConnectedState.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// IsFailed returns if the state is FailedState.
func (cs ConnState) IsFailed() bool { return cs == FailedState }

// IsIdle returns if no socket is open or being opened, i.e. the state is Disconnected or Failed.
func (cs ConnState) IsIdle() bool { return cs == DisconnectedState || cs == FailedState }

// String returns string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case HandshakeWaitState:
		return "handshake-wait"
	case ConnectedState:
		return "connected"
	case FailedState:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the coarse connection status shown to the host application.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Status maps the state to the host-facing status. HandshakeWait is reported as
// connecting and Failed as error.
func (cs ConnState) Status() Status {
	switch cs {
	case ConnectingState, HandshakeWaitState:
		return StatusConnecting
	case ConnectedState:
		return StatusConnected
	case FailedState:
		return StatusError
	default:
		return StatusDisconnected
	}
}

// ConnStateChangeHandler is invoked when the connection state changes.
//
// Note: handlers are invoked synchronously while the state lock is held, after the new
// state has been stored. They must not call ConnStateMgr methods that transition the
// state or run gated work, and should return quickly.
type ConnStateChangeHandler func(prevState ConnState, newState ConnState)

// ConnStateMgr manages the connection state.
//
// All transitions are serialized. It is also the only gate for outbound traffic:
// work passed to RunInState runs under the same lock, so no transition can interleave
// with it.
type ConnStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []ConnStateChangeHandler
}

// NewConnStateMgr creates a new ConnStateMgr in DisconnectedState.
func NewConnStateMgr(l logger.Logger, handlers ...ConnStateChangeHandler) *ConnStateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &ConnStateMgr{
		logger:   l,
		handlers: make([]ConnStateChangeHandler, 0, len(handlers)),
	}
	mgr.cond = sync.NewCond(&mgr.mu)
	mgr.state.Store(uint32(DisconnectedState))
	mgr.AddHandler(handlers...)

	return mgr
}

// State returns the current connection state.
func (cs *ConnStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler adds one or more handlers to be invoked on state changes.
func (cs *ConnStateMgr) AddHandler(handlers ...ConnStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			cs.handlers = append(cs.handlers, h)
		}
	}
}

// WaitState waits until the state becomes one of the given states or ctx is done.
// It returns the state that was reached.
func (cs *ConnStateMgr) WaitState(ctx context.Context, states ...ConnState) (ConnState, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cur := cs.State(); slices.Contains(states, cur) {
		return cur, nil
	}

	stop := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		cs.cond.Broadcast()
		cs.mu.Unlock()
	})
	defer stop()

	for {
		cur := cs.State()
		if slices.Contains(states, cur) {
			return cur, nil
		}

		if err := ctx.Err(); err != nil {
			cs.logger.Debug("wait connection state canceled", "cur_state", cur, "desired_states", states)
			return cur, err
		}

		cs.cond.Wait()
	}
}

// RunInState runs fn while holding the state lock, only if the current state is state.
// It reports whether fn was run, together with the error fn returned.
func (cs *ConnStateMgr) RunInState(state ConnState, fn func() error) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() != state {
		return false, nil
	}

	return true, fn()
}

// ToConnecting transitions to ConnectingState. Allowed from Disconnected and Failed.
func (cs *ConnStateMgr) ToConnecting() error {
	return cs.transition(ConnectingState, DisconnectedState, FailedState)
}

// ToHandshakeWait transitions to HandshakeWaitState. Allowed from Connecting.
func (cs *ConnStateMgr) ToHandshakeWait() error {
	return cs.transition(HandshakeWaitState, ConnectingState)
}

// ToConnected transitions to ConnectedState. Allowed from HandshakeWait.
func (cs *ConnStateMgr) ToConnected() error {
	return cs.transition(ConnectedState, HandshakeWaitState)
}

// ToFailed transitions to FailedState. Allowed from Connecting, HandshakeWait and Connected;
// a disconnected connection cannot fail.
func (cs *ConnStateMgr) ToFailed() error {
	return cs.transition(FailedState, ConnectingState, HandshakeWaitState, ConnectedState)
}

// ToDisconnected transitions to DisconnectedState. Allowed from any state.
func (cs *ConnStateMgr) ToDisconnected() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cur := cs.State()
	if cur == DisconnectedState {
		return
	}

	cs.setState(DisconnectedState)
	cs.invokeHandlers(cur, DisconnectedState)
}

// transition moves to newState if the current state is one of from. A transition to the
// current state is a no-op.
func (cs *ConnStateMgr) transition(newState ConnState, from ...ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cur := cs.State()
	if cur == newState {
		return nil
	}

	if !slices.Contains(from, cur) {
		cs.logger.Debug("reject state transition", "cur_state", cur, "desired_state", newState)
		return ErrInvalidTransition
	}

	cs.setState(newState)
	cs.invokeHandlers(cur, newState)

	return nil
}

// setState stores the new state and wakes up waiters.
func (cs *ConnStateMgr) setState(newState ConnState) {
	cs.state.Store(uint32(newState))
	cs.cond.Broadcast()
}

func (cs *ConnStateMgr) invokeHandlers(prevState ConnState, newState ConnState) {
	cs.logger.Debug("connection state changed", "prev_state", prevState, "new_state", newState)

	for _, handler := range cs.handlers {
		handler(prevState, newState)
	}
}
