// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Command ghostshift queues and runs project upgrades. The root command
// loads configuration once; subcommands open the store on demand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/ghostshift/buildvars"
	"github.com/toeirei/ghostshift/internal/config"
	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/db"
	"github.com/toeirei/ghostshift/internal/i18n"
	"github.com/toeirei/ghostshift/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	cfg     config.Config
	store   *db.BunStore
}

func newRootCmd() *cobra.Command {
	a := &app{}
	i18n.Init("en")
	cmd := &cobra.Command{
		Use:           "ghostshift",
		Short:         i18n.T("cli.short"),
		Long:          i18n.T("cli.long"),
		Version:       buildvars.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ghostshift.yaml in the user, system or current directory)")
	cmd.PersistentFlags().String("db-type", "", `database type ("sqlite", "postgres", "mysql")`)
	cmd.PersistentFlags().String("db-dsn", "", "database connection string (DSN)")
	cmd.PersistentFlags().String("lang", "", `CLI language ("en", "de")`)
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(a),
		newUpgradeCmd(a),
		newStatusCmd(a),
		newJobsCmd(a),
		newConfigCmd(a),
		newDBCmd(a),
	)
	return cmd
}

// loadConfig resolves configuration and applies logging and language.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), &a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if err := logging.Setup(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	if cfg.Log.Level == "debug" {
		db.SetDebug(true)
	}
	i18n.Init(cfg.Language)
	return nil
}

// openStore opens the configured database and runs migrations.
func (a *app) openStore() (*db.BunStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := db.NewStoreFromDSN(a.cfg.Database.Type, a.cfg.Database.Dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", a.cfg.Database.Type, err)
	}
	a.store = s
	return s, nil
}

func (a *app) masterKey() (*crypto.MasterKey, error) {
	mk, err := crypto.LoadMasterKey(a.cfg.Encryption.RootKey, a.cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("load master key (set encryption.root_key or GHOSTSHIFT_ENCRYPTION_ROOT_KEY): %w", err)
	}
	return mk, nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
