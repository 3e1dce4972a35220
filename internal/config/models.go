package config

import "time"

// CurrentVersion is the only supported file version.
const CurrentVersion = 1

// File is the content of the configuration file.
type File struct {
	Version    int         `yaml:"version"`
	Device     Device      `yaml:"device"`
	Connection *Connection `yaml:"connection,omitempty"`
	LogLevel   string      `yaml:"log_level,omitempty"`
	Simulator  *Simulator  `yaml:"simulator,omitempty"`
}

// Device identifies the video processor.
type Device struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port,omitempty"`
}

// Connection holds optional connection tuning. Zero values keep the library defaults.
type Connection struct {
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval,omitempty"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout,omitempty"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout,omitempty"`
	WriteTimeout      time.Duration `yaml:"write_timeout,omitempty"`
	MonotonicFrameID  bool          `yaml:"monotonic_frame_id,omitempty"`
}

// Simulator configures "titanctl simulate".
type Simulator struct {
	Listen      string `yaml:"listen"`
	MaxSessions int    `yaml:"max_sessions,omitempty"`
}

// New returns a File with default values.
func New() *File {
	return &File{
		Version:  CurrentVersion,
		LogLevel: "info",
		Simulator: &Simulator{
			Listen:      "127.0.0.1:20036",
			MaxSessions: 3,
		},
	}
}
