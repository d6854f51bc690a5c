package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/docyard/internal/api"
	"github.com/zulandar/docyard/internal/monitor"
	"golang.org/x/sync/errgroup"
)

func newWorkerCmd() *cobra.Command {
	var (
		configPath  string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Claim and execute processing jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath, concurrency)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent job slots (overrides worker.concurrency)")
	return cmd
}

func runWorker(cmd *cobra.Command, configPath string, concurrency int) error {
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if concurrency > 0 {
		a.cfg.Worker.Concurrency = concurrency
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	pool, err := a.pool(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Worker %s running with %d slots\n", pool.ID(), a.cfg.Worker.Concurrency)
	return pool.Run(ctx)
}

func newMonitorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the stuck-job sweep on its schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	return cmd
}

func runMonitor(cmd *cobra.Command, configPath string) error {
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	mon, err := a.monitor(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Monitor sweeping on schedule %q\n", a.cfg.Monitor.Schedule)
	return mon.Run(ctx, nil)
}

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one stuck-job sweep and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string) error {
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	mon, err := a.monitor(cmd.Context())
	if err != nil {
		return err
	}
	res := mon.Sweep(cmd.Context())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func newServeCmd() *cobra.Command {
	var (
		configPath  string
		port        int
		withMonitor bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, withMonitor)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&withMonitor, "monitor", false, "also run the scheduled stuck-job sweep")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, withMonitor bool) error {
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if port <= 0 {
		port = a.cfg.Server.Port
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	mon, err := a.monitor(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Start(gctx, api.StartOpts{
			Documents:  a.store,
			Dispatcher: a.disp,
			Sweeper:    mon,
			Metrics:    a.metrics,
			Logger:     a.logger,
			Port:       port,
			Out:        cmd.OutOrStdout(),
		})
	})
	if withMonitor {
		g.Go(func() error {
			return mon.Run(gctx, func(res monitor.SweepResult) {
				a.logger.Debug("scheduled sweep", "recovered", res.Recovered, "failed", res.Failed)
			})
		})
	}
	return g.Wait()
}
