package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/braingenix/bglog/internal/config"
	"github.com/braingenix/bglog/internal/logging"
	"github.com/braingenix/bglog/internal/metrics"
	"github.com/braingenix/bglog/internal/registry"
	"github.com/braingenix/bglog/internal/server"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the logging pipeline until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}
}

func (a *app) run(ctx context.Context) error {
	l, log, err := a.openLogger(ctx, true)
	if err != nil {
		return err
	}

	inst := registry.Describe(l.NodeID())
	log.Info("bglog started",
		"fn", "run",
		"node", inst.NodeID,
		"version", inst.Version,
		"platform", inst.Platform,
		"sink", l.State().String(),
	)

	var srv *server.StatusServer
	if addr := a.cfg.Metrics.Addr; addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.Register(reg, l); err != nil {
			l.CleanExit(context.Background())
			return err
		}
		var auth *server.Auth
		if a.cfg.Metrics.User != "" {
			auth = &server.Auth{User: a.cfg.Metrics.User, PasswordHash: a.cfg.Metrics.PasswordHash}
		}
		srv = server.NewStatusServer(l, reg, auth, a.diag)
		go func() {
			if err := srv.Start(addr); err != nil {
				log.Error("status server stopped", "fn", "run", "error", err)
			}
		}()
	}

	var watcher *config.Watcher
	if path := a.watchPath(); path != "" {
		watcher = config.NewWatcher(path, 0, a.diag)
		watcher.OnReload(func(c *config.Config) {
			l.SetConsole(c.Logger.Console)
			if lvl, ok := logging.ParseLevel(c.Diag.Level); ok {
				a.diagLevel.Set(lvl)
			}
			log.Info("configuration reloaded", "fn", "watch", "console", c.Logger.Console, "diag_level", c.Diag.Level)
		})
		if err := watcher.Start(); err != nil {
			log.Warn("config watcher unavailable", "fn", "run", "error", err)
			watcher = nil
		}
	}

	<-ctx.Done()
	log.Info("bglog stopping", "fn", "run")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if watcher != nil {
		errs = append(errs, watcher.Stop())
	}
	if srv != nil {
		errs = append(errs, srv.Shutdown(shutdownCtx))
	}
	errs = append(errs, l.CleanExit(shutdownCtx))
	return errors.Join(errs...)
}

// watchPath returns the config file to watch, if one exists.
func (a *app) watchPath() string {
	path := a.configPath
	if path == "" {
		path = config.DefaultPath
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
