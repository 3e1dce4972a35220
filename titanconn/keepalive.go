package titanconn

import (
	"errors"

	"github.com/arloliu/go-titan/titan"
)

// keepAliveConnStateHandler arms the keep-alive on entering the connected state and disarms it
// on leaving. It runs under the state lock, so disarming completes before the socket is closed.
func (c *Connection) keepAliveConnStateHandler(prevState titan.ConnState, curState titan.ConnState) {
	switch {
	case curState.IsConnected():
		interval := c.cfg.KeepAliveInterval()
		if err := c.taskMgr.StartInterval(keepAliveTaskName, c.keepAliveTask, interval, false); err != nil {
			c.logger.Error("failed to start keep-alive", "error", err)
			return
		}
		c.logger.Debug("keep-alive armed", "interval", interval)

	case prevState.IsConnected():
		if err := c.taskMgr.StopInterval(keepAliveTaskName); err != nil {
			c.logger.Debug("keep-alive not running", "error", err)
			return
		}
		c.logger.Debug("keep-alive disarmed", "state", curState)
	}
}

// keepAliveTask sends one no-op frame. The device drops sessions that stay idle too long.
func (c *Connection) keepAliveTask() bool {
	frame := titan.NewKeepAliveFrame(c.frameIDs.Next(), c.cfg.moduleID)

	if err := c.sendFrame(frame); err != nil {
		if errors.Is(err, titan.ErrNotConnected) {
			c.logger.Debug("keep-alive skipped, not connected")
			return false
		}

		c.metrics.incKeepAliveErrCount()
		c.logger.Error("failed to send keep-alive", "error", err)

		return false
	}

	c.metrics.incKeepAliveSendCount()
	c.logger.Debug("keep-alive sent")

	return true
}
