package titanconn

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// ConnAttemptCount indicates the number of TCP connection attempts.
	ConnAttemptCount atomic.Uint64
	// ConnFailCount indicates the number of connections that ended in the failed state.
	ConnFailCount atomic.Uint64
	// HandshakeRejectCount indicates the number of handshakes refused by the device.
	HandshakeRejectCount atomic.Uint64

	// CommandSendCount indicates the number of command frames written.
	CommandSendCount atomic.Uint64
	// CommandDropCount indicates the number of commands dropped because the connection was not connected.
	CommandDropCount atomic.Uint64
	// CommandErrCount indicates the number of command responses carrying a non-zero error code.
	CommandErrCount atomic.Uint64
	// ResponseRecvCount indicates the number of command responses received.
	ResponseRecvCount atomic.Uint64

	// KeepAliveSendCount indicates the number of keep-alive frames written.
	KeepAliveSendCount atomic.Uint64
	// KeepAliveErrCount indicates the number of keep-alive frames that could not be written.
	KeepAliveErrCount atomic.Uint64

	// ParseErrCount indicates the number of malformed inbound frames.
	ParseErrCount atomic.Uint64
}

func (m *ConnectionMetrics) incConnAttemptCount()     { m.ConnAttemptCount.Add(1) }
func (m *ConnectionMetrics) incConnFailCount()        { m.ConnFailCount.Add(1) }
func (m *ConnectionMetrics) incHandshakeRejectCount() { m.HandshakeRejectCount.Add(1) }
func (m *ConnectionMetrics) incCommandSendCount()     { m.CommandSendCount.Add(1) }
func (m *ConnectionMetrics) incCommandDropCount()     { m.CommandDropCount.Add(1) }
func (m *ConnectionMetrics) incCommandErrCount()      { m.CommandErrCount.Add(1) }
func (m *ConnectionMetrics) incResponseRecvCount()    { m.ResponseRecvCount.Add(1) }
func (m *ConnectionMetrics) incKeepAliveSendCount()   { m.KeepAliveSendCount.Add(1) }
func (m *ConnectionMetrics) incKeepAliveErrCount()    { m.KeepAliveErrCount.Add(1) }
func (m *ConnectionMetrics) incParseErrCount()        { m.ParseErrCount.Add(1) }
