// locald is the CLI front-end (spec.md §4.7, §6): a short-lived client
// that drives the locald daemon over its Unix-domain control socket, and
// the entry point that starts the daemon itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ryym/locald/internal/client"
	"github.com/ryym/locald/internal/config"
	"github.com/ryym/locald/internal/daemon"
	"github.com/ryym/locald/internal/daemonlife"
)

var (
	configPath string
	quiet      bool
	verbose    bool

	verboseLog zerolog.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "locald: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "locald",
		Short: "A local process supervisor driven by a control socket",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.Disabled
			if verbose {
				level = zerolog.DebugLevel
			}
			verboseLog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).
				With().Timestamp().Logger()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "locald.ini", "path to the daemon config file")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress the success lines of server-stop and server-status")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "write debug diagnostics to stderr")

	root.AddCommand(
		newServerStartCmd(),
		newServerStopCmd(),
		newServerWaitCmd(),
		newServerStatusCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newLogsCmd(),
	)

	return root
}

func loadProvider() (config.Provider, *config.DaemonConfig, error) {
	provider, err := config.NewFileProvider(configPath)
	if err != nil {
		return nil, nil, err
	}
	daemonCfg, err := provider.DaemonConfig()
	if err != nil {
		return nil, nil, err
	}
	return provider, daemonCfg, nil
}

func printf(format string, args ...any) {
	if !quiet {
		fmt.Printf(format, args...)
	}
}

// execDaemonizer runs the daemon entry function by re-executing the
// current binary as a detached background process in its own session.
type execDaemonizer struct{}

func (execDaemonizer) Daemonize(appName, pidPath string, entry func() error) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%s: locate executable: %w", appName, err)
	}

	cmd := exec.Command(exe, "server-start", "--no-daemonize", "--config", configPath)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: spawn detached daemon: %w", appName, err)
	}
	return cmd.Process.Release()
}

func newServerStartCmd() *cobra.Command {
	var noDaemonize bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "server-start",
		Short: "Start the locald daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, daemonCfg, err := loadProvider()
			if err != nil {
				return err
			}

			entry := func() error {
				d, err := daemon.New(provider)
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT)
				defer stop()

				if watch {
					go d.WatchConfig(ctx, configPath)
				}

				verboseLog.Debug().Str("socket", daemonCfg.SocketPath).Msg("starting event loop")
				return d.Run(ctx, daemonCfg.SocketPath)
			}

			return daemonlife.EnsureStarted(daemonCfg, noDaemonize, execDaemonizer{}, entry)
		},
	}

	cmd.Flags().BoolVar(&noDaemonize, "no-daemonize", false, "run the daemon in the foreground")
	cmd.Flags().BoolVar(&watch, "watch", false, "log (but do not act on) config file modifications")
	return cmd
}

func newServerStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server-stop",
		Short: "Stop the locald daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, daemonCfg, err := loadProvider()
			if err != nil {
				return err
			}
			if !daemonlife.Stop(daemonCfg) {
				return fmt.Errorf("server-stop: daemon does not appear to be running")
			}
			printf("sent shutdown signal to daemon\n")
			return nil
		},
	}
}

func newServerWaitCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "server-wait",
		Short: "Wait for the daemon to become ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, daemonCfg, err := loadProvider()
			if err != nil {
				return err
			}
			return client.WaitForServer(daemonCfg, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "total time to wait (default 10s)")
	return cmd
}

func newServerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server-status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, daemonCfg, err := loadProvider()
			if err != nil {
				return err
			}
			if !daemonlife.IsRunning(daemonCfg) {
				fmt.Println(color.RedString("daemon is not running"))
				os.Exit(1)
			}
			printf("%s\n", color.GreenString("daemon is running"))
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	var depsOnly bool

	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Start a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *client.Client) error {
				resp, err := c.Start(args[0], depsOnly)
				if err != nil {
					return err
				}
				client.RenderMessages(resp.Messages)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&depsOnly, "deps-only", false, "start only the service's dependencies")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *client.Client) error {
				resp, err := c.Stop(args[0])
				if err != nil {
					return err
				}
				client.RenderMessages(resp.Messages)
				return nil
			})
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Restart a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *client.Client) error {
				resp, err := c.Restart(args[0])
				if err != nil {
					return err
				}
				client.RenderMessages(resp.Messages)
				return nil
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <names>",
		Short: "Report service statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, daemonCfg, err := loadProvider()
			if err != nil {
				return err
			}

			var declared []string
			for name := range daemonCfg.Services {
				declared = append(declared, name)
			}

			names := client.ExpandStatusNames(args[0], declared)

			return withClient(func(c *client.Client) error {
				merged := make(map[string]string)
				for _, name := range names {
					resp, err := c.Status(name)
					if err != nil {
						return err
					}
					for k, v := range resp.Statuses {
						merged[k] = v
					}
				}
				client.RenderStatuses(merged)
				return nil
			})
		},
	}
}

func newLogsCmd() *cobra.Command {
	var noFollow bool

	cmd := &cobra.Command{
		Use:   "logs <names>",
		Short: "Tail a service's log file (only the first name given is used)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, _, err := loadProvider()
			if err != nil {
				return err
			}

			svcCfg, err := provider.ServiceConfig(args[0])
			if err != nil {
				return err
			}
			if svcCfg.LogPath == "" {
				fmt.Fprintln(os.Stderr, "no log file configured for", args[0])
				os.Exit(1)
			}

			return client.TailLog(svcCfg.LogPath, noFollow)
		},
	}

	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "print existing contents and exit without following")
	return cmd
}

func withClient(fn func(c *client.Client) error) error {
	_, daemonCfg, err := loadProvider()
	if err != nil {
		return err
	}

	c := client.New(daemonCfg)
	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Close()

	return fn(c)
}
