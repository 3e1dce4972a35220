package controller

import "github.com/arloliu/go-titan/titan"

// InstanceStatus is the status reported to the host application.
type InstanceStatus uint32

const (
	StatusDisconnected InstanceStatus = iota
	StatusConnecting
	StatusOk
	StatusConnectionFailure
	StatusBadConfig
)

func (s InstanceStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusOk:
		return "ok"
	case StatusConnectionFailure:
		return "connection_failure"
	case StatusBadConfig:
		return "bad_config"
	default:
		return "unknown"
	}
}

func instanceStatusOf(state titan.ConnState) InstanceStatus {
	switch state.Status() {
	case titan.StatusConnecting:
		return StatusConnecting
	case titan.StatusConnected:
		return StatusOk
	case titan.StatusError:
		return StatusConnectionFailure
	default:
		return StatusDisconnected
	}
}
