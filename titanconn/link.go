package titanconn

import (
	"context"
	"net"
	"sync"
	"time"
)

// event is produced by the socket-facing goroutines of a link and consumed by the
// single dispatcher task of that link.
type event interface{ isEvent() }

type frameEvent struct {
	data []byte
	err  error // parse error, data is nil
}

type transportErrorEvent struct {
	err error // *titan.TransportError
}

type closedEvent struct{}

type handshakeTimeoutEvent struct{}

func (frameEvent) isEvent()            {}
func (transportErrorEvent) isEvent()   {}
func (closedEvent) isEvent()           {}
func (handshakeTimeoutEvent) isEvent() {}

// link is one TCP connection to the device together with its event channel. A new
// link is created by every successful dial; events of a replaced link are ignored.
type link struct {
	conn    net.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan event
	writeMu sync.Mutex
	once    sync.Once
}

const eventQueueSize = 16

func newLink(pctx context.Context, conn net.Conn) *link {
	l := &link{
		conn:   conn,
		events: make(chan event, eventQueueSize),
	}
	l.ctx, l.cancel = context.WithCancel(pctx)

	return l
}

// post delivers ev to the dispatcher. It gives up when the link is closed.
func (l *link) post(ev event) bool {
	select {
	case <-l.ctx.Done():
		return false
	case l.events <- ev:
		return true
	}
}

func (l *link) write(data []byte, timeout time.Duration) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	_, err := l.conn.Write(data)

	return err
}

// close cancels the link context and closes the socket. It is idempotent.
func (l *link) close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		if tcpConn, ok := l.conn.(*net.TCPConn); ok {
			_ = tcpConn.SetLinger(0)
		}
		err = l.conn.Close()
	})

	return err
}
