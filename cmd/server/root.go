package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/reconciliation-engine/config"
	"github.com/warp/reconciliation-engine/logger"
	"github.com/warp/reconciliation-engine/reconcile"
)

var version = "0.1.0"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v   *viper.Viper
	cfg *config.Config
	log *zap.Logger
}

// flagKeys binds command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"port":           "http.port",
	"db":             "database.path",
	"tax":            "reconcile.default_tax_percent",
	"audit-interval": "audit.interval",
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "recon",
		Short: "Invoice and payment reconciliation",
		Long: `recon derives net, tax, paid, balance and settlement status for invoices
from the payment vouchers linked to them.

Run the HTTP API with "recon serve", or reconcile JSON exports offline with
"recon report".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String("config-dir", "", "directory holding config.toml (default: . and ./config)")
	pf.StringSlice("env-file", []string{".env"}, ".env files to load; missing files are skipped")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "console or json")
	pf.String("tax", "", "default tax percent for invoices without a valid rate")

	root.AddCommand(newServeCmd(a), newReportCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	if err := config.LoadEnv(envFiles...); err != nil {
		return err
	}

	paths := []string{".", "./config"}
	if dir, _ := cmd.Flags().GetString("config-dir"); dir != "" {
		paths = []string{dir}
	}
	a.v = config.New(paths...)
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
	}

	cfg, err := config.Read(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logger.New(cfg.Logger())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))
	return nil
}

func (a *app) engine() (*reconcile.Engine, error) {
	opts, err := a.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	return reconcile.New(opts)
}
