package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/hileamlakB/stress-api-sub000/internal/mockapi"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit the test from the config file and monitor it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Test == nil {
				return errors.New("config has no test section")
			}
			logger, closeLog, err := flags.newLogger(cfg, cmd.ErrOrStderr(), !plain)
			if err != nil {
				return err
			}
			defer closeLog()

			rt := newMonitorRuntime(cfg, logger)
			id, err := rt.ctrl.StartTest(cmd.Context(), *cfg.Test)
			if err != nil {
				rt.ctrl.Close()
				return err
			}
			logger.Info("test submitted", "test_id", id)
			return rt.follow(cmd.Context(), id, plain, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "log progress instead of showing the dashboard")
	return cmd
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "watch <test-id>",
		Short: "Monitor a test that is already running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closeLog, err := flags.newLogger(cfg, cmd.ErrOrStderr(), !plain)
			if err != nil {
				return err
			}
			defer closeLog()

			return newMonitorRuntime(cfg, logger).follow(cmd.Context(), args[0], plain, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "log progress instead of showing the dashboard")
	return cmd
}

func newMockCmd(flags *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a simulated stress-api server for demos and tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Mock.Listen = listen
			}
			logger, closeLog, err := flags.newLogger(cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer closeLog()

			server := mockapi.NewServer(cfg.Mock,
				mockapi.WithToken(cfg.API.Token),
				mockapi.WithLogger(logger.WithPrefix("mock")),
			)
			return server.ListenAndServe(cmd.Context(), cfg.Mock.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from mock.listen)")
	return cmd
}
