package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/docyard/internal/aggregate"
	"github.com/zulandar/docyard/internal/config"
	"github.com/zulandar/docyard/internal/content"
	"github.com/zulandar/docyard/internal/convert"
	"github.com/zulandar/docyard/internal/db"
	"github.com/zulandar/docyard/internal/dispatch"
	"github.com/zulandar/docyard/internal/handlers"
	"github.com/zulandar/docyard/internal/metrics"
	"github.com/zulandar/docyard/internal/monitor"
	"github.com/zulandar/docyard/internal/ocr"
	"github.com/zulandar/docyard/internal/queue"
	"github.com/zulandar/docyard/internal/raster"
	"github.com/zulandar/docyard/internal/runner"
	"github.com/zulandar/docyard/internal/storage"
	"github.com/zulandar/docyard/internal/store"
	"github.com/zulandar/docyard/internal/worker"
	"gorm.io/gorm"
)

// app is the wired set of components every command draws from.
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *store.Store
	queue   *queue.Queue
	agg     *aggregate.Aggregator
	disp    *dispatch.Dispatcher
}

func loadApp(configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return newApp(cfg, gormDB, newLogger(cfg.Log, logOut))
}

func newApp(cfg *config.Config, gormDB *gorm.DB, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		db:      gormDB,
		logger:  logger,
		metrics: metrics.New(),
		store:   store.New(gormDB),
		queue:   queue.New(gormDB, cfg.Worker.ActiveWindow),
	}
	a.agg = aggregate.New(a.store, logger, a.metrics)
	disp, err := dispatch.New(dispatch.Opts{
		Store:    a.store,
		Queue:    a.queue,
		Observer: a.agg,
		Config:   cfg.Dispatch,
		Logger:   logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.agg.AddListener(disp)
	a.disp = disp
	return a, nil
}

func (a *app) objectStore(ctx context.Context) (storage.ObjectStore, error) {
	return storage.New(ctx, a.cfg.Storage, a.logger)
}

func (a *app) monitor(ctx context.Context) (*monitor.Monitor, error) {
	objects, err := a.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	return monitor.New(monitor.Opts{
		Store:       a.store,
		Queue:       a.queue,
		Resubmitter: a.disp,
		Artifacts:   objects,
		OCRBucket:   a.cfg.Storage.Buckets.OCR,
		Observer:    a.agg,
		Config:      a.cfg.Monitor,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
}

func (a *app) pool(ctx context.Context) (*worker.Pool, error) {
	objects, err := a.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	tools := a.cfg.Tools
	exec := runner.Exec{Logger: a.logger}
	converter := convert.New(exec, tools.Soffice)
	buckets := storage.BucketsFrom(a.cfg.Storage.Buckets)

	registry, err := handlers.Registry(handlers.Deps{
		Content: &content.Loader{
			Store:     objects,
			Buckets:   buckets,
			UploadDir: a.cfg.Storage.UploadDir,
			Converter: converter,
			Logger:    a.logger,
		},
		Store:      objects,
		Buckets:    buckets,
		Converter:  converter,
		Rasterizer: raster.New(exec, tools.Pdftoppm),
		OCR:        ocr.New(exec, tools.Tesseract),
		Tools:      tools,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	return worker.New(worker.Opts{
		Store:       a.store,
		Queue:       a.queue,
		Registry:    registry,
		Resubmitter: a.disp,
		Observer:    a.agg,
		Config:      a.cfg.Worker,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmd.Context())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func parseIDs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, a := range args {
		var id uint
		if _, err := fmt.Sscan(a, &id); err != nil || id == 0 {
			return nil, fmt.Errorf("invalid document id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
