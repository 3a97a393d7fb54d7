// Package cli defines the stressmon command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/hileamlakB/stress-api-sub000/internal/config"
	"github.com/hileamlakB/stress-api-sub000/internal/logging"
)

// globalFlags are the persistent flags shared by every command. Set flags
// override values from the config file.
type globalFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	logFile     string
	metricsAddr string
	baseURL     string
	wsURL       string
	token       string
}

// Execute runs the root command until ctx is cancelled.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "stressmon",
		Short:         "Live monitor for stress-api load tests",
		Long:          `Submit load tests to a stress-api server and follow them live over the metrics push channel and the summary endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags.bind(root)

	root.AddCommand(newRunCmd(flags), newWatchCmd(flags), newMockCmd(flags))
	return root
}

// bind registers the persistent flags on cmd.
func (f *globalFlags) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "stressmon.yaml", "config file")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", "", "log format (text, json, logfmt)")
	pf.StringVar(&f.logFile, "log-file", "", "write logs to this file (the dashboard discards logs otherwise)")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&f.baseURL, "base-url", "", "stress-api HTTP base URL")
	pf.StringVar(&f.wsURL, "ws-url", "", "push channel base URL (derived from --base-url when empty)")
	pf.StringVar(&f.token, "token", "", "bearer token for the stress-api server")
}

// loadConfig reads the config file and applies flag overrides.
func (f *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	pf := cmd.Flags()
	if pf.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if pf.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if pf.Changed("metrics-addr") {
		cfg.Metrics.Listen = f.metricsAddr
	}
	if pf.Changed("base-url") {
		cfg.API.BaseURL = f.baseURL
	}
	if pf.Changed("ws-url") {
		cfg.API.WSURL = f.wsURL
	}
	if pf.Changed("token") {
		cfg.API.Token = f.token
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. With quiet set and no log file the
// logger discards everything so the dashboard owns the terminal.
func (f *globalFlags) newLogger(cfg *config.Config, stderr io.Writer, quiet bool) (*log.Logger, func(), error) {
	out := stderr
	closeFn := func() {}
	switch {
	case f.logFile != "":
		file, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
		closeFn = func() { file.Close() }
	case quiet:
		return logging.Discard(), closeFn, nil
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Output: out,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return logger, closeFn, nil
}
