package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/logging"
)

var version = "dev"

// app holds state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	env        *viper.Viper
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{env: config.NewEnv()}

	root := &cobra.Command{
		Use:           "predictgate",
		Short:         "predictgate: health-aware gateway for a Gradio prediction backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "predictgate.yaml", "path to config file")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (console, json)")
	pf.String("api-url", "", "prediction backend base URL")
	_ = a.env.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = a.env.BindPFlag("log_format", pf.Lookup("log-format"))
	_ = a.env.BindPFlag("api_url", pf.Lookup("api-url"))

	root.AddCommand(
		newServeCmd(a),
		newPredictCmd(a),
		newHealthCmd(a),
		newCacheCmd(a),
		newAuditCmd(a),
		newMCPCmd(a),
	)
	return root
}

// load resolves the config file, environment and flags, then installs the
// logger. An explicitly named config file must exist.
func (a *app) load(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(a.configPath)
	} else {
		cfg, err = config.LoadOptional(a.configPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cfg.ApplyEnv(a.env)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}

	a.cfg = cfg
	return nil
}

var errSQLiteOnly = errors.New("this command needs cache.backend: sqlite; the memory cache lives only inside a running server")
