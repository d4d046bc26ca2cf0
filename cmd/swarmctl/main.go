package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swarm-console/internal/config"
	"github.com/swarm-console/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd starts the interactive operator console
var rootCmd = &cobra.Command{
	Use:   "swarmctl",
	Short: "Operator console for a UDP-addressed drone swarm",
	Long: `swarmctl reads operator lines of the form

  <target> <command> [args...]

where target is "all", "g:<group>" or a drone id, and broadcasts one
datagram per accepted line. Directives: sleep, script, sync_groups,
reload_groups, groups, help, exit.

Run without arguments to start the interactive console.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err = logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			Verbose:     verbose,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runInteractive,
}

// runCmd replays scripts without a prompt
var runCmd = &cobra.Command{
	Use:   "run [script...]",
	Short: "Run one or more scripts and exit",
	Long: `Replays each script in order. A failing line is reported and the
script continues; the command exits non-zero if any line failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScripts,
}

// syncCmd pushes the group table to the swarm
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send every group assignment in the groups file, then exit",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

// verbsCmd lists the command registry
var verbsCmd = &cobra.Command{
	Use:   "verbs",
	Short: "List the commands the console accepts",
	Args:  cobra.NoArgs,
	RunE:  listVerbs,
}

// monitorCmd decodes datagrams seen on the broadcast port
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print datagrams received on the broadcast port",
	Args:  cobra.NoArgs,
	RunE:  runMonitor,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default config/default.yaml, or $SWARMCTL_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(verbsCmd)
	rootCmd.AddCommand(monitorCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
