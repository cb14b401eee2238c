package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"teamchat/internal/auth"
	"teamchat/internal/chat"
	"teamchat/internal/fanout"
	"teamchat/internal/server"
	"teamchat/internal/storage"
)

type appConfig struct {
	Server  server.EnvConfig
	DB      storage.Config
	NATS    fanout.NATSConfig
	Driver  string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	Migrate bool   `env:"DB_MIGRATE" envDefault:"true"`
}

func main() {
	// a missing .env file is fine, variables may come from the environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("godotenv.Load: %v", err)
	}

	cfg := appConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Cannot parse env config: %v", err)
	}

	var logger *zap.Logger
	var err error
	if cfg.AppEnv == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("zap.New: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	gw, closeGateway := openGateway(sugar, cfg)

	hub := fanout.NewHub(sugar)
	go hub.Run()

	publishers := fanout.Publishers{hub}
	var natsPublisher *fanout.NATSPublisher
	if cfg.NATS.URL != "" {
		natsPublisher, err = fanout.NewNATSPublisher(sugar, cfg.NATS)
		if err != nil {
			sugar.Fatalf("Cannot connect to NATS: %v", err)
		}
		publishers = append(publishers, natsPublisher)
		sugar.Infof("Publishing events to NATS subjects such as %s", cfg.NATS.Subject(fanout.Topic(1)))
	}

	tokens := auth.NewTokens(cfg.Server.JWTSecret, cfg.Server.TokenTTL)
	services := server.Services{
		Accounts:   chat.NewAccounts(sugar, gw, tokens),
		Membership: chat.NewMembership(sugar, gw),
		Messages:   chat.NewMessages(sugar, gw, publishers, cfg.Server.PageSize),
		Presence:   chat.NewPresence(gw, cfg.Server.PresenceThreshold, nil),
		Hub:        hub,
		Tokens:     tokens,
	}

	serverOpts := []server.Option{
		server.WithEnvConfig(cfg.Server),
		server.ReadTimeout(5 * time.Second),
		server.RegisterAfterShutdown(func() {
			if natsPublisher == nil {
				return
			}
			sugar.Info("Draining NATS connection")
			if err := natsPublisher.Close(); err != nil {
				sugar.Errorf("natsPublisher.Close: %v", err)
			}
		}),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing store")
			closeGateway()
			sugar.Info("Store is closed")
		}),
	}

	srv, err := server.NewServer(sugar, services, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}

// openGateway returns datastore selected by STORAGE_DRIVER
func openGateway(logger *zap.SugaredLogger, cfg appConfig) (storage.Gateway, func()) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("Using in-memory storage, data is lost on exit")
		gw := storage.NewMemory(nil)
		return gw, gw.Close

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := storage.NewStore(ctx, logger, cfg.DB, storage.ConnectionTimeout(30*time.Second))
		if err != nil {
			logger.Fatalf("Cannot create Store instance: %v", err)
		}

		if cfg.Migrate {
			if err := store.Migrate(ctx); err != nil {
				logger.Fatalf("Cannot migrate schema: %v", err)
			}
			logger.Info("Schema is up to date")
		}
		return store, store.Close

	default:
		logger.Fatalf("Unknown STORAGE_DRIVER %q, expected postgres or memory", cfg.Driver)
		return nil, nil
	}
}
