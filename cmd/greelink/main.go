// greelink CLI
//
// A LAN controller for GREE-compatible HVAC units: broadcast discovery,
// encrypted UDP sessions, status polling and control, with optional REST,
// WebSocket and MQTT front ends.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/greelink/greelink/pkg/api/rest"
	"github.com/greelink/greelink/pkg/api/ws"
	"github.com/greelink/greelink/pkg/bridge/mqtt"
	"github.com/greelink/greelink/pkg/client"
	"github.com/greelink/greelink/pkg/config"
	"github.com/greelink/greelink/pkg/discovery"
	"github.com/greelink/greelink/pkg/logger"
	"github.com/greelink/greelink/pkg/manager"
)

var (
	version   = "1.0.0"
	buildTime = "dev"
	gitCommit = "unknown"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "greelink",
		Short: "greelink - LAN controller for GREE-compatible HVAC units",
		Long: `greelink speaks the GREE LAN protocol directly to HVAC units on the
local network: it discovers them by broadcast, binds encrypted UDP
sessions, polls their state and applies control commands. A manager
daemon exposes the same over REST, WebSocket and MQTT.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add commands
	rootCmd.AddCommand(
		newServeCmd(),
		newDiscoverCmd(),
		newStatusCmd(),
		newControlCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the device manager daemon",
		Long:  "Run the device manager with all configured devices and API front ends.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// runServe starts the manager daemon.
func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply command line flag overrides
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}

	mgr, err := manager.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("Starting greelink...")
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start manager: %w", err)
	}

	var apiServer *rest.Server
	var wsServer *ws.Server
	if cfg.API.Enabled {
		apiServer = rest.NewServer(mgr, rest.ServerConfig{Port: cfg.API.Port})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}

		wsConfig := ws.DefaultServerConfig()
		if cfg.API.Port > 0 {
			wsConfig.Port = cfg.API.Port + 1
		}
		wsServer = ws.NewServer(mgr, wsConfig)
		if err := wsServer.Start(); err != nil {
			return fmt.Errorf("failed to start WebSocket server: %w", err)
		}
	}

	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		bridge = mqtt.New(mgr, cfg.MQTT)
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("failed to start MQTT bridge: %w", err)
		}
	}

	fmt.Println("greelink is running. Press Ctrl+C to stop.")

	<-sigCh
	fmt.Println("\nShutting down...")

	if bridge != nil {
		bridge.Stop()
	}
	if wsServer != nil {
		if err := wsServer.Stop(context.Background()); err != nil {
			fmt.Printf("Error stopping WebSocket server: %v\n", err)
		}
	}
	if apiServer != nil {
		if err := apiServer.Stop(context.Background()); err != nil {
			fmt.Printf("Error stopping API server: %v\n", err)
		}
	}

	if err := mgr.Stop(); err != nil {
		return fmt.Errorf("failed to stop manager: %w", err)
	}

	fmt.Println("greelink stopped.")
	return nil
}

// newDiscoverCmd creates the discover command.
func newDiscoverCmd() *cobra.Command {
	var broadcast string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find devices on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := discovery.NewOptions()
			opts.Broadcast = broadcast
			opts.Timeout = timeout
			opts.Logger = cliLogger()

			scanner := discovery.New(opts)
			found, err := scanner.Scan(cmd.Context())
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			if jsonOutput {
				return printJSON(found)
			}

			if len(found) == 0 {
				fmt.Println("No devices found.")
				return nil
			}
			fmt.Printf("Found %d device(s):\n", len(found))
			for _, dev := range found {
				fmt.Printf("  %-14s %-20s %-16s %s\n", dev.ID, dev.Name, dev.Address, dev.Version)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&broadcast, "broadcast", "255.255.255.255", "broadcast address to scan")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "scan window")
	return cmd
}

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "status <host>",
		Short: "Connect to a device and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connectOnce(cmd.Context(), args[0], wait)
			if err != nil {
				return err
			}
			defer c.Disconnect()

			status, err := waitForStatus(c, wait)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(status)
			}
			printStatus(status)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the device")
	return cmd
}

// newControlCmd creates the control command.
func newControlCmd() *cobra.Command {
	var wait time.Duration
	var power, mode, fanSpeed, swingVert, swingHor string
	var temperature int

	cmd := &cobra.Command{
		Use:   "control <host>",
		Short: "Apply a control command to a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			control := &client.DeviceControl{}
			changed := false

			if power != "" {
				on := power == "on"
				control.Power = &on
				changed = true
			}
			if mode != "" {
				control.Mode = &mode
				changed = true
			}
			if cmd.Flags().Changed("temp") {
				control.Temperature = &temperature
				changed = true
			}
			if fanSpeed != "" {
				control.FanSpeed = &fanSpeed
				changed = true
			}
			if swingVert != "" {
				control.SwingVert = &swingVert
				changed = true
			}
			if swingHor != "" {
				control.SwingHor = &swingHor
				changed = true
			}
			if !changed {
				return fmt.Errorf("no control flags given")
			}

			c, err := connectOnce(cmd.Context(), args[0], wait)
			if err != nil {
				return err
			}
			defer c.Disconnect()

			if err := c.Control(cmd.Context(), control); err != nil {
				return fmt.Errorf("control failed: %w", err)
			}
			fmt.Println("Command sent.")
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the device")
	cmd.Flags().StringVar(&power, "power", "", "power state (on, off)")
	cmd.Flags().StringVar(&mode, "mode", "", "operation mode (auto, cool, dry, fan_only, heat)")
	cmd.Flags().IntVar(&temperature, "temp", 0, "target temperature in celsius (16-30)")
	cmd.Flags().StringVar(&fanSpeed, "fan", "", "fan speed (auto, low, mediumLow, medium, mediumHigh, high)")
	cmd.Flags().StringVar(&swingVert, "swing-vert", "", "vertical swing position")
	cmd.Flags().StringVar(&swingHor, "swing-hor", "", "horizontal swing position")
	return cmd
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("greelink %s\n", version)
			fmt.Printf("  Commit:  %s\n", gitCommit)
			fmt.Printf("  Built:   %s\n", buildTime)
		},
	}
}

// connectOnce binds a one-off session for a CLI command.
func connectOnce(ctx context.Context, host string, wait time.Duration) (*client.Client, error) {
	opts := client.NewOptions(host)
	opts.Logger = cliLogger()
	opts.Poll = false

	c := client.New(opts)

	connectCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := c.Connect(connectCtx); err != nil {
		c.Disconnect()
		return nil, fmt.Errorf("connect to %s failed: %w", host, err)
	}
	return c, nil
}

// waitForStatus waits for the initial status reply to land in the cache.
func waitForStatus(c *client.Client, wait time.Duration) (client.DeviceStatus, error) {
	deadline := time.Now().Add(wait)
	for {
		status := c.Status()
		if status.Power != nil {
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, fmt.Errorf("device did not report status")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func printStatus(s client.DeviceStatus) {
	fmt.Printf("Device %s\n", s.DeviceID)
	printField := func(name string, v interface{}) {
		fmt.Printf("  %-20s %v\n", name+":", v)
	}
	if s.Power != nil {
		printField("Power", onOffString(*s.Power))
	}
	if s.Mode != nil {
		printField("Mode", *s.Mode)
	}
	if s.Temperature != nil {
		printField("Target temperature", *s.Temperature)
	}
	if s.CurrentTemperature != nil {
		printField("Room temperature", *s.CurrentTemperature)
	}
	if s.FanSpeed != nil {
		printField("Fan speed", *s.FanSpeed)
	}
	if s.SwingVert != nil {
		printField("Vertical swing", *s.SwingVert)
	}
	if s.SwingHor != nil {
		printField("Horizontal swing", *s.SwingHor)
	}
	if s.Lights != nil {
		printField("Lights", onOffString(*s.Lights))
	}
	if s.Turbo != nil {
		printField("Turbo", onOffString(*s.Turbo))
	}
	if s.Quiet != nil {
		printField("Quiet", *s.Quiet)
	}
	if s.Health != nil {
		printField("Health", onOffString(*s.Health))
	}
	if s.Sleep != nil {
		printField("Sleep", onOffString(*s.Sleep))
	}
	if s.PowerSave != nil {
		printField("Power save", onOffString(*s.PowerSave))
	}
}

func onOffString(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cliLogger() *logger.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logger.New(logger.Config{Level: level, Format: "text"})
}
