package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"structwatch/internal/config"
)

// cli глобальные флаги и код выхода выполненной команды
type cli struct {
	out        io.Writer
	configPath string
	dataDir    string
	logLevel   string
	exitCode   int
}

func newCLI(out io.Writer) *cli {
	return &cli{out: out}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "structwatch",
		Short: "Detect structural changes on monitored web pages",
		Long: `structwatch fetches the configured pages, fingerprints the text under their
selectors and compares it with the stored baseline.

Exit status: 0 no changes, 1 changes detected, 2 inconclusive, 3 fatal error.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDetection(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $"+config.EnvConfig+" or built-in targets)")
	root.PersistentFlags().StringVar(&c.dataDir, "data-dir", "", "directory holding state and logs (overrides $"+config.EnvDataDir+")")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(c.runCommand())
	root.AddCommand(c.baselineCommand())
	root.AddCommand(c.journalCommand())
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(config.ResolvePath(c.configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.dataDir != "" {
		cfg.DataDir = c.dataDir
	}
	if c.logLevel != "" {
		cfg.Observability.LogLevel = c.logLevel
	}
	return cfg, nil
}
