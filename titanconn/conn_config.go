package titanconn

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/arloliu/go-titan/logger"
	"github.com/arloliu/go-titan/titan"
)

// ErrInvalidHost indicates that the host is not a valid IPv4 or IPv6 address.
var ErrInvalidHost = errors.New("titanconn: invalid host, an IP address is required")

// ConnectionConfig represents the configuration parameters for a connection to a Titan device.
type ConnectionConfig struct {
	mu sync.RWMutex

	// host specifies the IP address of the device. It may be changed with Connection.Reconfigure.
	host string

	// port specifies the TCP port of the device.
	// Defaults to 20036.
	port int

	// keepAliveInterval defines the period of the no-op keep-alive frame sent while connected.
	// The device drops idle sessions, so this must stay below its idle timeout.
	// Defaults to 7 minutes.
	keepAliveInterval time.Duration

	// connectTimeout defines the timeout for establishing the TCP connection. It should be between 1 and 30 seconds.
	// Defaults to 3 seconds.
	connectTimeout time.Duration

	// handshakeTimeout defines how long to wait for the device handshake after the TCP connection
	// is established. It should be between 1 and 240 seconds.
	// Defaults to 10 seconds.
	handshakeTimeout time.Duration

	// writeTimeout defines the deadline of a single frame write. It should be between 1 and 120 seconds.
	// Defaults to 5 seconds.
	writeTimeout time.Duration

	// closeConnTimeout defines the timeout for closing the connection and waiting for its goroutines.
	// It should be between 1 and 30 seconds.
	// Defaults to 3 seconds.
	closeConnTimeout time.Duration

	// moduleID is the module id byte of outbound frames.
	// Defaults to 0xFE.
	moduleID byte

	// frameIDMode selects fixed or monotonic frame ids.
	// Defaults to titan.FixedFrameID with frame id 0.
	frameIDMode titan.FrameIDMode

	// clock drives the keep-alive scheduler.
	// Defaults to the real clock.
	clock clockwork.Clock

	// logger provides a logger instance for logging connection events and errors.
	logger logger.Logger
}

// NewConnectionConfig creates a new connection configuration with the given device host, port number,
// and optional functional options.
//
// The host must be an IP address. A port of 0 selects the default port 20036.
//
// Returns a pointer to the initialized ConnectionConfig and an error if any occurred during the configuration process.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		port:              titan.DefaultPort,
		keepAliveInterval: 7 * time.Minute,
		connectTimeout:    3 * time.Second,
		handshakeTimeout:  10 * time.Second,
		writeTimeout:      5 * time.Second,
		closeConnTimeout:  3 * time.Second,
		moduleID:          titan.DefaultModuleID,
		frameIDMode:       titan.FixedFrameID,
		clock:             clockwork.NewRealClock(),
		logger:            logger.GetLogger(),
	}

	if err := withRemoteHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// ValidateHost checks that host is an IPv4 or IPv6 address.
func ValidateHost(host string) error {
	if net.ParseIP(host) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}

	return nil
}

// Host returns the device IP address.
func (cfg *ConnectionConfig) Host() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.host
}

// Port returns the device TCP port.
func (cfg *ConnectionConfig) Port() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.port
}

// Addr returns the "host:port" dial address.
func (cfg *ConnectionConfig) Addr() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

func (cfg *ConnectionConfig) KeepAliveInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.keepAliveInterval
}

func (cfg *ConnectionConfig) ConnectTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.connectTimeout
}

func (cfg *ConnectionConfig) CloseConnTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.closeConnTimeout
}

func (cfg *ConnectionConfig) HandshakeTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.handshakeTimeout
}

func (cfg *ConnectionConfig) WriteTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.writeTimeout
}

// Update applies runtime options to the configuration. Options that can't be changed at
// runtime are rejected.
func (cfg *ConnectionConfig) Update(opts ...ConnOption) error {
	for _, opt := range opts {
		if o, ok := opt.(*connOptFunc); ok && !o.runtime {
			return fmt.Errorf("option %s can't be changed at runtime", o.name)
		}
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return err
		}
	}

	return nil
}

func (cfg *ConnectionConfig) setHost(host string) error {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	return withRemoteHost(host).apply(cfg)
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	runtime   bool
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error {
	if cfg == nil {
		return titan.ErrConnConfigNil
	}

	return c.applyFunc(cfg)
}

func newConnOptFunc(name string, runtime bool, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{
		name:      name,
		runtime:   runtime,
		applyFunc: f,
	}
}

func withRemoteHost(host string) ConnOption {
	return newConnOptFunc("withRemoteHost", false, func(cfg *ConnectionConfig) error {
		if err := ValidateHost(host); err != nil {
			return err
		}
		cfg.host = host

		return nil
	})
}

func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", false, func(cfg *ConnectionConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		if port == 0 {
			port = titan.DefaultPort
		}
		cfg.port = port

		return nil
	})
}

// WithKeepAliveInterval sets the period of the keep-alive frame.
// An error is returned if the interval is outside the range of 1 second to 1 hour.
//
// The default value is 7 minutes.
//
// This option can be changed at runtime; it takes effect on the next connection.
func WithKeepAliveInterval(val time.Duration) ConnOption {
	return newConnOptFunc("WithKeepAliveInterval", true, func(cfg *ConnectionConfig) error {
		if val < time.Second || val > time.Hour {
			return errors.New("keep-alive interval out of range [1s, 1h]")
		}
		cfg.keepAliveInterval = val

		return nil
	})
}

// WithConnectTimeout sets the timeout for establishing the TCP connection.
// An error is returned if the timeout is outside the valid range (1-30 seconds).
//
// The default value is 3 seconds.
//
// This option can be changed at runtime.
func WithConnectTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", true, func(cfg *ConnectionConfig) error {
		if val < time.Second || val > 30*time.Second {
			return errors.New("connect timeout out of range [1, 30]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithHandshakeTimeout sets how long to wait for the device handshake.
// An error is returned if the timeout is outside the valid range (1-240 seconds).
//
// The default value is 10 seconds.
//
// This option can be changed at runtime.
func WithHandshakeTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithHandshakeTimeout", true, func(cfg *ConnectionConfig) error {
		if val < time.Second || val > 240*time.Second {
			return errors.New("handshake timeout out of range [1, 240]")
		}
		cfg.handshakeTimeout = val

		return nil
	})
}

// WithWriteTimeout sets the deadline of a single frame write.
// An error is returned if the timeout is outside the valid range (1-120 seconds).
//
// The default value is 5 seconds.
//
// This option can be changed at runtime.
func WithWriteTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithWriteTimeout", true, func(cfg *ConnectionConfig) error {
		if val < time.Second || val > 120*time.Second {
			return errors.New("write timeout out of range [1, 120]")
		}
		cfg.writeTimeout = val

		return nil
	})
}

// WithCloseConnTimeout sets the timeout for closing the connection.
// An error is returned if the timeout is outside the valid range (1-30 seconds).
//
// The default value is 3 seconds.
//
// This option can be changed at runtime.
func WithCloseConnTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithCloseConnTimeout", true, func(cfg *ConnectionConfig) error {
		if val < time.Second || val > 30*time.Second {
			return errors.New("close connection timeout out of range [1, 30]")
		}
		cfg.closeConnTimeout = val

		return nil
	})
}

// WithModuleID sets the module id byte of outbound frames.
//
// The default value is 0xFE.
//
// This option can't be changed at runtime.
func WithModuleID(id byte) ConnOption {
	return newConnOptFunc("WithModuleID", false, func(cfg *ConnectionConfig) error {
		cfg.moduleID = id
		return nil
	})
}

// WithMonotonicFrameID makes every outbound frame carry the next frame id instead of the
// fixed frame id 0.
//
// This option can't be changed at runtime.
func WithMonotonicFrameID() ConnOption {
	return newConnOptFunc("WithMonotonicFrameID", false, func(cfg *ConnectionConfig) error {
		cfg.frameIDMode = titan.MonotonicFrameID
		return nil
	})
}

// WithClock sets the clock that drives the keep-alive scheduler.
//
// This option can't be changed at runtime.
func WithClock(clock clockwork.Clock) ConnOption {
	return newConnOptFunc("WithClock", false, func(cfg *ConnectionConfig) error {
		if clock == nil {
			return errors.New("clock is nil")
		}
		cfg.clock = clock

		return nil
	})
}

// WithLogger sets the logger for the connection.
//
// The default logger is the global logger instance.
//
// This option can't be changed at runtime.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", false, func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
