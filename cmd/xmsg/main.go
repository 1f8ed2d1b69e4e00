package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/glimte/xmsg/config"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// globals are the persistent flags shared by every command
type globals struct {
	configPath string
	verbose    bool
}

func (g *globals) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Logger(os.Stderr), nil
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "xmsg",
		Short: "Reliable request/response messaging between extension contexts",
		Long: `xmsg hosts a background context that answers requests over websocket or
RabbitMQ, and sends requests to one from the command line.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to a HuJSON config file")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(g),
		newSendCmd(g),
		newPingCmd(g),
		newStatsCmd(g),
	)

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
