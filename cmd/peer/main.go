package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/logging"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/metrics"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/persistence/indexdb"
	persistlog "github.com/Apian-Framework/BeamGameCode-sub000/internal/persistence/log"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/persistence/snapshot"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/replication/checkpoint"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/tuning"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/sim/world"
	"github.com/Apian-Framework/BeamGameCode-sub000/internal/transport/ws"
)

func main() {
	var (
		url         = flag.String("url", "ws://localhost:8080/v1/ws", "relay ws url")
		groupID     = flag.String("group", "", "group to join (empty: relay assigns a new one)")
		peerID      = flag.String("peer", "", "peer id (empty: relay assigns one)")
		name        = flag.String("name", "bot", "player name")
		tuningPath  = flag.String("tuning", "./configs/beam.yaml", "path to beam.yaml (empty for built-in defaults)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		keep        = flag.Int("keep_checkpoints", 16, "checkpoint files to keep (0 keeps all)")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite index")
		metricsAddr = flag.String("metrics", "", "listen address for /metrics (empty to disable)")
		turnEvery   = flag.Int64("turn_every_ms", 3000, "mean interval between bot turns")
		seed        = flag.Int64("seed", 0, "bot random seed (0: time based)")
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

	ctx, cancel := signalContext()
	defer cancel()

	client, err := ws.Dial(ctx, ws.DialOptions{URL: *url, GroupID: *groupID, PeerID: *peerID, Name: *name, Logger: logger})
	if err != nil {
		logger.Fatal("dial relay", zap.String("url", *url), zap.Error(err))
	}
	info := client.GroupInfo()
	self := client.PeerID()
	logger = logger.With(zap.String("group", info.ID), zap.String("peer", self))
	logger.Info("admitted", zap.String("policy", info.Policy), zap.String("leader", info.LeaderID), zap.Bool("fresh", info.Fresh))

	groupDir := filepath.Join(*dataDir, info.ID, self)
	commands := persistlog.NewCommandLogger(groupDir)
	defer commands.Close()
	events := persistlog.NewEventLogger(groupDir, func(err error) {
		logger.Warn("event log", zap.Error(err))
	})
	defer events.Close()

	stores := []checkpoint.Store{snapshot.Dir{Root: filepath.Join(groupDir, "checkpoints"), Keep: *keep}}
	journals := []replication.Journal{commands}
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(groupDir, "index.db"))
		if err != nil {
			logger.Fatal("open index", zap.Error(err))
		}
		defer idx.Close()
		stores = append(stores, idx)
		journals = append(journals, idx)
	}

	collector := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	cfg, err := replication.ConfigFromTuning(tune, self)
	if err != nil {
		logger.Fatal("bridge config", zap.Error(err))
	}
	w := world.New(world.Config{GridSize: tune.GridSize, BikeSpeed: tune.BikeSpeed})
	bridge, err := replication.New(cfg, w, client, replication.Options{
		Logger:   logger,
		Metrics:  collector,
		Listener: events,
		Store:    checkpoint.Stores(stores...),
		Journal:  replication.Journals(journals...),
	})
	if err != nil {
		logger.Fatal("bridge", zap.Error(err))
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	player := newBot(self, *name, *turnEvery, *seed, logger)

	err = client.Run(ctx, bridge, time.Duration(tune.TickMs)*time.Millisecond, player.drive)
	bridge.Leave()
	if err != nil {
		logger.Error("peer stopped", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("commands", humanize.Comma(int64(bridge.LastSeq()))),
		zap.Int("epoch", bridge.Epoch().Number),
	}
	if idx != nil {
		st := idx.Stats()
		fields = append(fields, zap.Uint64("index_dropped", st.DropCheckpointTotal+st.DropDivergenceTotal+st.DropCommandTotal))
	}
	logger.Info("stopped", fields...)
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
