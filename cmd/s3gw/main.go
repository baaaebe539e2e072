package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/kushalthaman/3fs3/pkg/config"
	"github.com/kushalthaman/3fs3/pkg/logging"
	"github.com/kushalthaman/3fs3/pkg/obs/tracing"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serveFlags struct {
	config   string
	addr     string
	dataRoot string
}

func newRootCommand() *cobra.Command {
	var f serveFlags
	root := &cobra.Command{
		Use:           "s3gw",
		Short:         "S3-compatible gateway over a POSIX filesystem",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), f)
		},
	}
	bindServeFlags(root.PersistentFlags(), &f)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), f)
		},
	}
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the s3gw version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "s3gw %s\n", version)
			return err
		},
	}
	root.AddCommand(serveCmd, versionCmd)
	return root
}

func bindServeFlags(fs *pflag.FlagSet, f *serveFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "path to YAML config (default $S3GW_CONFIG or ./config.yaml)")
	fs.StringVar(&f.addr, "addr", "", "listen address, overrides config and env")
	fs.StringVar(&f.dataRoot, "data-root", "", "bucket root directory, overrides config and env")
}

func loadConfig(f serveFlags) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return config.Config{}, err
	}
	if f.addr != "" {
		cfg.Address = f.addr
	}
	if f.dataRoot != "" {
		cfg.DataRoot = f.dataRoot
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func serve(ctx context.Context, f serveFlags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging.Format, cfg.Logging.Level, os.Stderr).With("app", "s3gw")
	slog.SetDefault(log)

	if err := config.EnsureDirs(cfg); err != nil {
		return fmt.Errorf("ensure data root: %w", err)
	}

	traceShutdown, err := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Protocol:    cfg.Tracing.Protocol,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
		Logger:      log,
	})
	if err != nil {
		log.Warn("tracing init failed", slog.String("error", err.Error()))
		traceShutdown = func(context.Context) error { return nil }
	}

	gw, err := buildGateway(cfg, log)
	if err != nil {
		return err
	}
	maxObj, _ := cfg.MaxObjectBytes()
	if cfg.AuthMode == config.AuthNone {
		log.Warn("authentication disabled; every request is accepted")
	}

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           gw.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		gw.health.SetReady(true)
		log.Info("s3gw listening",
			slog.String("version", version),
			slog.String("addr", cfg.Address),
			slog.String("data_root", gw.root),
			slog.String("auth", cfg.AuthMode),
			slog.String("max_object_size", maxObjectLabel(maxObj)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.TempSweep.Enabled {
		interval, olderThan, _ := cfg.SweepDurations()
		g.Go(func() error {
			gw.fs.StartSweeper(gctx, interval, olderThan, log)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		gw.health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", slog.String("error", err.Error()))
		}
		if err := traceShutdown(shutdownCtx); err != nil {
			log.Error("tracing shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})
	err = g.Wait()
	log.Info("s3gw stopped")
	return err
}

func maxObjectLabel(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(n))
}
