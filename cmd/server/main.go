package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/airbar/internal/cache"
	"github.com/example/airbar/internal/config"
	"github.com/example/airbar/internal/dispute"
	httpapi "github.com/example/airbar/internal/http"
	"github.com/example/airbar/internal/lifecycle"
	"github.com/example/airbar/internal/logging"
	"github.com/example/airbar/internal/matcher"
	"github.com/example/airbar/internal/notify"
	"github.com/example/airbar/internal/payments"
	"github.com/example/airbar/internal/storage"
	"github.com/example/airbar/internal/sweep"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var matchCache cache.Cache
	if cfg.RedisAddr != "" {
		matchCache = cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		matchCache = cache.NewMemory()
	}

	wsreg := notify.NewWSRegistry()
	emitters := notify.Fanout{wsreg}
	if len(cfg.KafkaBrokers) > 0 {
		emitters = append(emitters, notify.NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic))
	}

	var escrow payments.Escrow
	if os.Getenv("STRIPE_API_KEY") != "" {
		escrow = payments.NewStripeEscrow()
	}

	finder := matcher.NewFinder(store, matchCache, logging.ForComponent(logger, "matcher"))
	finder.RadiusKm = cfg.MatchRadiusKm
	finder.NearbyLimit = cfg.MatchNearbyTopN
	finder.CacheTTL = cfg.MatchCacheTTL

	catalog := lifecycle.NewCatalog(store)
	disputes := dispute.NewWorkflow(store, logging.ForComponent(logger, "disputes"))
	requests := lifecycle.NewRequests(store, emitters, escrow, logging.ForComponent(logger, "requests"))
	matches := lifecycle.NewMatches(store, emitters, escrow, disputes, logging.ForComponent(logger, "matches"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := sweep.New(store, disputes, logging.ForComponent(logger, "sweep"))
	cr, err := sweeper.Start(ctx)
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	defer cr.Stop()

	srv := httpapi.NewServer(catalog, finder, requests, matches, disputes, store, wsreg, logger)
	hs := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("airbar api listening", "addr", cfg.HTTPAddr)
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func runMigrations(dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_airbar.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	log.Printf("migration applied: 001_create_airbar.sql")
}
