package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"patterncore/internal/bus"
	"patterncore/internal/config"
	"patterncore/internal/core"
	"patterncore/internal/episodic"
	"patterncore/internal/extract"
	"patterncore/internal/infra/persistence"
	"patterncore/internal/optimize"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.Open(
		persistence.Driver(cfg.Persistence.Driver),
		persistence.Options{SQLitePath: cfg.Persistence.SQLitePath, PostgresDSN: cfg.Persistence.PostgresDSN},
		core.GateConfig{MinSampleSize: cfg.Gate.MinSampleSize, MinSharpe: cfg.Gate.MinSharpe, MaxDrawdown: cfg.Gate.MaxDrawdown},
		core.DriftConfig{MinLiveTrades: cfg.Drift.MinLiveTrades, Tolerance: cfg.Drift.Tolerance},
		cfg.Episodic.EmbeddingDim,
	)
	if err != nil {
		return fmt.Errorf("open library store: %w", err)
	}

	episodes, err := episodic.Open(episodic.Driver(cfg.Episodic.Driver), cfg.Episodic.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("open episodic store: %w", err)
	}

	b := bus.New()
	defer b.Close()

	evalCfg := core.EvalConfig{
		EmbeddingDim:        cfg.Evaluation.EmbeddingDim,
		MinSampleSize:       cfg.Evaluation.MinSampleSize,
		SharpeMin:           cfg.Evaluation.SharpeMin,
		SharpeMax:           cfg.Evaluation.SharpeMax,
		DrawdownCeiling:     cfg.Evaluation.DrawdownCeiling,
		MaxPositionFraction: cfg.Evaluation.MaxPositionFraction,
		MaxStopLossPct:      cfg.Evaluation.MaxStopLossPct,
		MaxLossPerTrade:     cfg.Evaluation.MaxLossPerTrade,
	}
	for i := 0; i < cfg.Quorum.Managers; i++ {
		m := core.NewManager(fmt.Sprintf("manager-%d", i+1), evalCfg)
		proposals := b.Subscribe(bus.TopicPropose, 256)
		go m.Run(ctx, b, proposals, store)
	}

	metrics, err := core.NewPrometheusMetricsRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	coord := core.NewCoordinator("coordinator-1", b, store, episodes,
		core.QuorumConfig{MinVotes: cfg.Quorum.MinVotes, Window: cfg.Quorum.Window}, metrics)
	go coord.Run(ctx)

	svc, err := core.NewService(store, coord)
	if err != nil {
		return err
	}

	extractor := extract.NewEngine("extractor-1", extract.Config{
		Lookback:           cfg.Extract.Lookback,
		MinClusterSize:     cfg.Extract.MinClusterSize,
		MinClusterWinRate:  cfg.Extract.MinClusterWinRate,
		MinValidatedTrades: cfg.Extract.MinClusterSize,
		Seed:               cfg.Extract.Seed,
		MaxIterations:      50,
		RangeLowPct:        10,
		RangeHighPct:       90,
	}, episodes, svc)
	go runEvery(ctx, cfg.Extract.Interval, func(now time.Time) {
		if n, err := extractor.RunCycle(ctx, now); err != nil {
			log.Printf("[EXTRACT] cycle failed: %v", err)
		} else if n > 0 {
			log.Printf("[EXTRACT] proposed %d patterns", n)
		}
	})

	optimizer := optimize.NewEngine("optimizer-1", optimize.Config{
		MinLiveTrades:    cfg.Drift.MinLiveTrades,
		DriftTolerance:   cfg.Drift.Tolerance,
		JaccardThreshold: cfg.Optimize.JaccardThreshold,
		MutationStep:     cfg.Optimize.MutationStep,
		TopPatterns:      cfg.Optimize.TopPatterns,
		Lookback:         cfg.Optimize.Lookback,
	}, store, episodes, svc)
	go runEvery(ctx, cfg.Optimize.Interval, func(now time.Time) {
		stats, err := optimizer.RunCycle(ctx, now)
		if err != nil {
			log.Printf("[OPTIMIZE] cycle failed: %v", err)
			return
		}
		if stats.Pruned+stats.Combined+stats.Mutated > 0 {
			log.Printf("[OPTIMIZE] pruned=%d combined=%d mutated=%d", stats.Pruned, stats.Combined, stats.Mutated)
		}
	})

	go runEvery(ctx, cfg.Episodic.SweepInterval, func(now time.Time) {
		if n, err := episodes.SweepExpired(ctx, now); err != nil {
			log.Printf("[EPISODIC] sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("[EPISODIC] swept %d expired episodes", n)
		}
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[METRICS] listener failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Printf("patterncored serving: %d managers, quorum %d within %s, storage=%s episodic=%s",
		cfg.Quorum.Managers, cfg.Quorum.MinVotes, cfg.Quorum.Window, cfg.Persistence.Driver, cfg.Episodic.Driver)

	<-ctx.Done()
	log.Println("patterncored shutting down")
	return nil
}

func runEvery(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now.UTC())
		}
	}
}
