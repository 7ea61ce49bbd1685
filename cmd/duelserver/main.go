package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/Rayray1616/tap-duel-game-sub000/internal/config"
	"github.com/Rayray1616/tap-duel-game-sub000/internal/duel"
	"github.com/Rayray1616/tap-duel-game-sub000/internal/gateway"
	"github.com/Rayray1616/tap-duel-game-sub000/internal/payout"
	"github.com/Rayray1616/tap-duel-game-sub000/internal/progression"
	"github.com/Rayray1616/tap-duel-game-sub000/internal/settlement"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settlementClient := settlement.NewHTTPClient(
		cfg.Settlement.BaseURL, cfg.Settlement.WalletID, cfg.Settlement.APIKey)

	var journal payout.Journal
	if cfg.Postgres.Enabled {
		db, err := setupDatabase(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer db.Close()
		pj := payout.NewPostgresJournal(db)
		if err := pj.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure journal schema")
		}
		journal = pj
	}

	var notifier payout.Notifier
	if cfg.NATS.Enabled {
		natsCfg := progression.DefaultJetStreamConfig()
		natsCfg.URL = cfg.NATS.URL
		publisher, err := progression.NewPublisher(natsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer publisher.Close()
		notifier = publisher
	}

	orchestrator := payout.NewOrchestrator(
		settlementClient, cfg.Settlement.HouseWallet, cfg.Settlement.StakeCeiling,
		notifier, journal)
	stakes := settlement.NewValidator(settlementClient)

	duelCfg := duel.Config{
		CountdownStart:  cfg.Duel.CountdownStart,
		CountdownTick:   cfg.Duel.CountdownTick,
		ActiveWindow:    cfg.Duel.ActiveWindow,
		FinishRetention: cfg.Duel.FinishRetention,
	}

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), nil)
	registry := duel.NewRegistry(duelCfg, clockwork.NewRealClock(), manager, orchestrator, stakes)
	manager.SetDuelService(registry)
	defer registry.Close()

	go manager.Start(ctx)

	server := setupServer(cfg.Server.Addr, manager)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("duel server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func setupDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func setupServer(addr string, manager *gateway.ConnectionManager) *http.Server {
	mux := http.NewServeMux()

	handler := gateway.NewWebSocketHandler(manager)
	handler.RegisterRoutes(mux)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(c.Handler(mux), &http2.Server{}),
	}
}
