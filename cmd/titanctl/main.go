// Titanctl drives an Avitech Titan 9000 video processor over its binary TCP protocol.
//
// It recalls presets directly from the command line, keeps a long-running session open for
// interactive use, or runs a local device simulator for testing without hardware.
//
// Usage:
//
//	titanctl [command] [flags]
//
// See 'titanctl --help' for available commands.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-titan/internal/config"
	"github.com/arloliu/go-titan/logger"
)

// Version is set at build time via -ldflags "-X main.Version=v1.2.3".
var Version = ""

// Global flags
var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "titanctl",
	Short: "Avitech Titan 9000 preset recall utility",
	Long: `A utility for controlling Avitech Titan 9000 video processors.

Connects to the device on TCP port 20036, performs the device handshake and
recalls presets using the binary framed ASCII command protocol.`,
	Version:       version(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default is the platform config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("titanctl %s\n", version())
	},
}

func version() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

// loadConfig reads the config file and installs the default logger.
func loadConfig() (*config.File, logger.Logger, error) {
	f, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	name := f.LogLevel
	if logLevel != "" {
		name = logLevel
	}

	level, err := logger.ParseLevel(name)
	if err != nil {
		return nil, nil, err
	}

	l := logger.NewSlog(level, false)
	logger.SetLogger(l)

	return f, l, nil
}
