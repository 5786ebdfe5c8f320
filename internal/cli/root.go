// Package cli implements the bglog command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/braingenix/bglog/internal/config"
	"github.com/braingenix/bglog/internal/engine"
	"github.com/braingenix/bglog/internal/logging"
	"github.com/braingenix/bglog/internal/sqlstore"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	cfg        *config.Config
	diag       *slog.Logger
	diagLevel  *slog.LevelVar
}

// NewRootCmd builds the bglog command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "bglog",
		Short:         "Structured logging with local files and a central SQL store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.diag, a.diagLevel = logging.New(cfg.Diag, cmd.ErrOrStderr())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (default "+config.DefaultPath+")")
	pf.String("log-dir", "", "Directory for the local log file")
	pf.Int("retention-lines", 0, "Lines per local file before rotation, 0 disables rotation")
	pf.Bool("console", false, "Echo records to stdout")
	pf.String("compression", "", "Codec for rotated files (zstd, gzip, none)")
	pf.String("node-id", "", "Node identifier stamped on records")
	pf.Bool("store", false, "Enable the central store")
	pf.String("store-driver", "", "Central store driver (mysql, sqlite)")
	pf.String("store-host", "", "Central store host:port")
	pf.String("store-database", "", "Central store database (file path for sqlite)")
	pf.String("key-file", "", "Master key file for sealed secrets")
	pf.String("metrics-addr", "", "Address for the status server, empty disables it")
	pf.String("diag-level", "", "Diagnostic log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(a),
		newLogCmd(a),
		newPullCmd(a),
		newNodesCmd(a),
		newSchemaCmd(a),
		newPurgeCmd(a),
		newLocalCmd(a),
		newSealCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs the command line and reports errors on stderr.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bglog:", err)
		if errors.Is(err, sqlstore.ErrInvalidConfig) {
			return 2
		}
		return 1
	}
	return 0
}

// openLogger starts the structured logger from the loaded configuration.
// The returned slog logger writes to both the diagnostic output and the
// structured logger under the bglog module.
func (a *app) openLogger(ctx context.Context, console bool) (*engine.Logger, *slog.Logger, error) {
	opts, err := a.cfg.EngineOptions(a.diag)
	if err != nil {
		return nil, nil, err
	}
	opts.Console = opts.Console && console

	l, err := engine.Initialize(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(logging.NewMultiHandler(
		a.diag.Handler(),
		engine.NewHandler(l, "bglog", slog.LevelInfo),
	))
	return l, log, nil
}

// withStore checks out a store connection for an administrative command.
func (a *app) withStore(ctx context.Context, fn func(conn *sqlstore.Conn) error) error {
	if !a.cfg.Store.Enabled {
		return engine.ErrStoreDisabled
	}
	storeCfg, err := a.cfg.SQLStore()
	if err != nil {
		return err
	}
	pool, err := sqlstore.Open(storeCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Store.Timeout.Duration)
	defer cancel()

	conn, err := pool.Checkout(ctx)
	if err != nil {
		return fmt.Errorf("connect to central store: %w", err)
	}
	defer conn.Release()
	return fn(conn)
}
