package devicesim

import (
	"errors"

	"github.com/arloliu/go-titan/logger"
	"github.com/arloliu/go-titan/titan"
)

// DefaultMaxSessions is the number of concurrent sessions a real device accepts.
const DefaultMaxSessions = 3

// Responder decides the error code returned for a well-formed command frame.
// Returning false suppresses the response.
type Responder func(socketID byte, frame *titan.Frame) (titan.ErrorCode, bool)

// OKResponder answers every command with CodeOK.
func OKResponder(byte, *titan.Frame) (titan.ErrorCode, bool) {
	return titan.CodeOK, true
}

type config struct {
	maxSessions int
	machineType titan.MachineType
	mbPresent   bool
	handshake   bool
	responder   Responder
	logger      logger.Logger
}

func defaultConfig() *config {
	return &config{
		maxSessions: DefaultMaxSessions,
		machineType: titan.MachineTitan9000,
		handshake:   true,
		responder:   OKResponder,
		logger:      logger.GetLogger(),
	}
}

// Option configures a Server.
type Option func(*config) error

// WithMaxSessions sets the number of concurrent sessions accepted before new connections
// are refused with a handshake nack.
func WithMaxSessions(n int) Option {
	return func(cfg *config) error {
		if n < 0 || n > 255 {
			return errors.New("max sessions out of range [0, 255]")
		}
		cfg.maxSessions = n

		return nil
	}
}

// WithMachineType sets the machine type reported in the handshake ack.
func WithMachineType(m titan.MachineType) Option {
	return func(cfg *config) error {
		cfg.machineType = m
		return nil
	}
}

// WithMBPresent sets the MB existence flag reported in the handshake ack.
func WithMBPresent(present bool) Option {
	return func(cfg *config) error {
		cfg.mbPresent = present
		return nil
	}
}

// WithoutHandshake makes the server accept connections without ever sending a handshake.
func WithoutHandshake() Option {
	return func(cfg *config) error {
		cfg.handshake = false
		return nil
	}
}

// WithResponder sets the function that decides command responses.
func WithResponder(r Responder) Option {
	return func(cfg *config) error {
		if r == nil {
			return errors.New("responder is nil")
		}
		cfg.responder = r

		return nil
	}
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(cfg *config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	}
}
