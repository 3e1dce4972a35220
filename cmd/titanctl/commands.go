package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-titan/controller"
	"github.com/arloliu/go-titan/devicesim"
	"github.com/arloliu/go-titan/internal/config"
	"github.com/arloliu/go-titan/logger"
	"github.com/arloliu/go-titan/titan"
	"github.com/arloliu/go-titan/titanconn"
)

// Command flags
var (
	recallPort    int
	recallPresets []int
	recallGroups  []int
	recallDelay   time.Duration

	simListen      string
	simMaxSessions int
)

func init() {
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)

	recallCmd.Flags().IntVar(&recallPort, "port", titan.DefaultPort, "Device TCP port")
	recallCmd.Flags().IntSliceVar(&recallPresets, "presets", []int{1}, "Presets to recall (1-14)")
	recallCmd.Flags().IntSliceVar(&recallGroups, "groups", []int{1}, "Groups to recall the presets of (1-99)")
	recallCmd.Flags().DurationVar(&recallDelay, "delay", time.Second, "Delay between recalls")

	simulateCmd.Flags().StringVar(&simListen, "listen", "", "Listen address (default from config, 127.0.0.1:20036)")
	simulateCmd.Flags().IntVar(&simMaxSessions, "max-sessions", 0, "Maximum concurrent sessions (default from config, 3)")
}

// recallCmd recalls presets and exits
var recallCmd = &cobra.Command{
	Use:   "recall <host>",
	Short: "Recall presets on a device",
	Long: `Connect to the device, wait for the handshake, recall every preset of
every group in order and disconnect.`,
	Example: `  # Recall preset 1 of group 1
  titanctl recall 192.168.0.10

  # Cycle presets 1 to 3 of groups 1 and 2, two seconds apart
  titanctl recall 192.168.0.10 --presets 1,2,3 --groups 1,2 --delay 2s`,
	Args: cobra.ExactArgs(1),
	RunE: runRecall,
}

func runRecall(cmd *cobra.Command, args []string) error {
	f, l, err := loadConfig()
	if err != nil {
		return err
	}

	refs := make([]titan.PresetRef, 0, len(recallGroups)*len(recallPresets))
	for _, g := range recallGroups {
		for _, p := range recallPresets {
			ref := titan.PresetRef{Group: g, Preset: p}
			if err := ref.Validate(); err != nil {
				return err
			}
			refs = append(refs, ref)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := append(f.ConnOptions(), titanconn.WithLogger(l))
	cfg, err := titanconn.NewConnectionConfig(args[0], recallPort, opts...)
	if err != nil {
		return err
	}

	conn, err := titanconn.NewConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Open(true); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Addr(), err)
	}

	if s, ok := conn.Session(); ok {
		fmt.Printf("Connected to %s (socket %d, %s)\n", cfg.Addr(), s.SocketID, s.MachineType)
	}

	for i, ref := range refs {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(recallDelay):
			}
		}

		if err := conn.RecallPreset(ref.Group, ref.Preset); err != nil {
			return fmt.Errorf("recall %s: %w", ref, err)
		}
		fmt.Printf("Recalled %s\n", ref)
	}

	return nil
}

// runCmd keeps a session open and reads commands from stdin
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a long-lived session driven by stdin",
	Long: `Open a persistent session to the device configured in the config file and
execute commands read line by line from stdin:

  recall <group> <preset>   recall a preset
  send <ascii command>      send a raw ASCII command
  status                    print connection status and variables
  quit                      disconnect and exit

The config file is reloaded on SIGHUP; the session is re-established when
the device host changed.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func runSession(cmd *cobra.Command, args []string) error {
	f, l, err := loadConfig()
	if err != nil {
		return err
	}
	if f.Device.Host == "" {
		return errors.New("device.host is not set in the config file")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := controller.New(l, f.ConnOptions()...)
	if err := ctrl.Init(ctx, f.ControllerConfig()); err != nil {
		return err
	}
	defer ctrl.Destroy()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	lines := make(chan string)
	go scanLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-hup:
			reloadConfig(ctrl, l)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execLine(ctrl, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func scanLines(r io.Reader, out chan<- string) {
	defer close(out)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func reloadConfig(ctrl *controller.Controller, l logger.Logger) {
	f, err := config.Load(configPath)
	if err != nil {
		l.Error("failed to reload config", "error", err)
		return
	}

	if err := ctrl.ConfigUpdated(f.ControllerConfig()); err != nil {
		l.Error("failed to apply config", "error", err)
	}
}

func execLine(ctrl *controller.Controller, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "quit", "exit":
		return true, nil

	case "status":
		fmt.Printf("status: %s\n", ctrl.Status())
		for _, def := range ctrl.VariableDefinitions() {
			v, _ := ctrl.Variable(def.ID)
			fmt.Printf("  %s: %v\n", def.ID, v)
		}

		return false, nil

	case "recall":
		if len(fields) != 3 {
			return false, errors.New("usage: recall <group> <preset>")
		}
		group, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, fmt.Errorf("invalid group: %w", err)
		}
		preset, err := strconv.Atoi(fields[2])
		if err != nil {
			return false, fmt.Errorf("invalid preset: %w", err)
		}

		return false, ctrl.ExecuteAction(controller.ActionPresetRecall, controller.Options{
			controller.OptionGroup:  group,
			controller.OptionPreset: preset,
		})

	case "send":
		cmdText := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "send"))
		if cmdText == "" {
			return false, errors.New("usage: send <ascii command>")
		}

		return false, ctrl.Connection().SendCommand(cmdText)

	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
}

// simulateCmd runs a device simulator
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a local device simulator",
	Long: `Listen for host connections and emulate the device side of the protocol:
handshake ack with an incrementing socket id, the session limit with a
handshake nack, and a command response for every command frame.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	f, l, err := loadConfig()
	if err != nil {
		return err
	}

	listen, maxSessions := f.Simulator.Listen, f.Simulator.MaxSessions
	if simListen != "" {
		listen = simListen
	}
	if simMaxSessions > 0 {
		maxSessions = simMaxSessions
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := devicesim.NewServer(
		devicesim.WithMaxSessions(maxSessions),
		devicesim.WithLogger(l),
		devicesim.WithResponder(func(socketID byte, frame *titan.Frame) (titan.ErrorCode, bool) {
			l.Info("command received", "socket_id", socketID, "command", string(frame.Payload))
			return devicesim.OKResponder(socketID, frame)
		}),
	)
	if err != nil {
		return err
	}

	if err := srv.Listen(ctx, listen); err != nil {
		return err
	}
	defer srv.Close()

	fmt.Printf("Simulator listening on %s (max %d sessions)\n", srv.Addr(), maxSessions)
	<-ctx.Done()

	return nil
}
