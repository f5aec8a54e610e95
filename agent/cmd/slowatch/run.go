package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/slowatch/agent/internal/backend"
	"github.com/obsidianstack/slowatch/agent/internal/compute"
	"github.com/obsidianstack/slowatch/agent/internal/config"
	"github.com/obsidianstack/slowatch/agent/internal/deploys"
	"github.com/obsidianstack/slowatch/agent/internal/incidents"
	"github.com/obsidianstack/slowatch/agent/internal/observations"
	"github.com/obsidianstack/slowatch/agent/internal/publisher"
	"github.com/obsidianstack/slowatch/agent/internal/registry"
	"github.com/obsidianstack/slowatch/agent/internal/scheduler"
	"github.com/obsidianstack/slowatch/agent/internal/security"
	"github.com/obsidianstack/slowatch/agent/internal/status"
)

const shutdownTimeout = 5 * time.Second

// run wires the agent and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, path string) error {
	slog.Info("slowatch starting", "version", Version, "config", path)

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	reg, err := registry.LoadFile(cfg.Agent.SLOConfig)
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"backend", cfg.Backend.Endpoint,
		"queries", reg.Len(),
		"interval", cfg.Agent.Interval,
		"concurrency", cfg.Agent.Concurrency,
		"sentinel_policy", cfg.Agent.SentinelPolicy,
	)

	client, err := backend.New(cfg.Backend)
	if err != nil {
		return err
	}

	store, err := observations.Connect(ctx, cfg.Store, nil)
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("slowatch shut down before the store was reachable")
			return nil
		}
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pub := publisher.New(promReg, cfg.Agent.SentinelPolicy)

	cols := []scheduler.Collector{
		security.NewCertCollector(cfg.Backend.Endpoint, cfg.Backend.TLS.InsecureSkipVerify, pub),
	}
	if cfg.Deployments.Enabled {
		d, err := deploys.Open(cfg.Deployments, pub)
		if err != nil {
			return err
		}
		defer d.Close()
		cols = append(cols, d)
	}
	if cfg.Incidents.Enabled {
		inc, err := incidents.New(cfg.Incidents, pub)
		if err != nil {
			return err
		}
		cols = append(cols, inc)
	}

	ev := compute.NewEvaluator(reg, client, store)
	ev.Concurrency = cfg.Agent.Concurrency

	st := status.NewStore(2 * cfg.Agent.Interval)
	sched := scheduler.New(ev, store, pub, st, cfg.Agent.Interval, cols...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}))
	mux.Handle("/api/v1/", status.NewHandler(st, store))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Agent.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})

	if cfg.Agent.WatchConfig {
		watch := func(file string, reload func() error) {
			g.Go(func() error {
				if err := config.Watch(gctx, file, reload); err != nil {
					slog.Error("config watcher stopped", "path", file, "err", err)
				}
				return nil
			})
		}
		watch(path, func() error {
			_, err := config.Load(path)
			return err
		})
		watch(cfg.Agent.SLOConfig, func() error {
			_, err := registry.LoadFile(cfg.Agent.SLOConfig)
			return err
		})
	}

	err = g.Wait()
	slog.Info("slowatch shutting down")
	return err
}
