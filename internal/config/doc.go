// Package config loads the YAML configuration file of titanctl.
//
// # Configuration File Location
//
// Unless --config is given the file is looked up in the platform configuration directory:
//   - Linux: $XDG_CONFIG_HOME/titan/config.yaml or $HOME/.config/titan/config.yaml
//   - macOS: $HOME/.config/titan/config.yaml
//   - Windows: %LOCALAPPDATA%\titan\config.yaml
//
// # Example
//
//	version: 1
//	device:
//	  host: 192.168.0.10
//	  port: 20036
//	connection:
//	  keep_alive_interval: 7m
//	  connect_timeout: 3s
//	  handshake_timeout: 10s
//	log_level: info
//	simulator:
//	  listen: 127.0.0.1:20036
//	  max_sessions: 3
package config
