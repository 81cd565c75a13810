package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/logging"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/metrics"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/tuning"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/beam.yaml", "path to beam.yaml (empty for built-in defaults)")
	)
	flag.Parse()

	var logCfg logging.Config
	if err := env.Parse(&logCfg); err != nil {
		fmt.Fprintln(os.Stderr, "log config:", err)
		os.Exit(2)
	}
	logger, flush, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer flush()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatal("load tuning", zap.String("path", *tuningPath), zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	relayMetrics := metrics.NewRelay()
	reg.MustRegister(
		relayMetrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	relay, err := ws.NewServer(ws.ConfigFromTuning(tune), ws.Options{Logger: logger, Metrics: relayMetrics})
	if err != nil {
		logger.Fatal("relay", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", relay.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	eg.Go(func() error {
		logger.Info("listening", zap.String("addr", *addr), zap.String("policy", tune.Policy))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		flush()
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
