// Command companion runs the conversational assistant from a terminal and performs
// repository maintenance.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eldercare/companion-go/pkg/core"
	"github.com/eldercare/companion-go/pkg/logger"
	"github.com/eldercare/companion-go/pkg/metrics"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "companion",
	Short:         "companion - conversational assistant for older adults",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON config file")
	rootCmd.AddCommand(newChatCmd(), newUserCmd(), newMaintainCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles what every subcommand needs.
type app struct {
	cfg     *core.Config
	log     zerolog.Logger
	metrics *metrics.Manager
	client  *core.Client
	closer  io.Closer
}

func newApp() (*app, error) {
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, closer, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	m := metrics.NewManager(cfg.Metrics)

	client, err := core.NewClientFromConfig(cfg, core.WithLogger(log), core.WithMetrics(m))
	if err != nil {
		closer.Close()
		return nil, err
	}
	if client.Offline() {
		log.Warn().Msg("no LLM API key configured, running in offline mode")
	}
	return &app{cfg: cfg, log: log, metrics: m, client: client, closer: closer}, nil
}

func (a *app) Close() error {
	err := a.client.Close()
	a.closer.Close()
	return err
}
