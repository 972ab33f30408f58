package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sista/internal/config"
	"sista/internal/decompose"
	"sista/internal/gateway"
	"sista/internal/logging"
)

// app holds what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "sista",
		Short:         "Chat with a local or cloud LLM and turn requests into todo lists",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync(a.logger)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config JSON/JSONC/YAML")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newChatCommand(a),
		newAskCommand(a),
		newTodosCommand(a),
		newServeCommand(a),
		newInitCommand(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) gateway() *gateway.Gateway {
	return gateway.New(a.cfg.Backend, a.logger.Named("gateway"))
}

func (a *app) service(asker decompose.Asker) *decompose.Service {
	return decompose.NewService(asker, a.cfg.Decompose.Instruction, a.logger.Named("decompose"))
}
