// Command chattail prints the latest messages of a channel and follows new ones live.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"teamchat/internal/fanout"
)

type config struct {
	URL      string `env:"CHAT_URL" envDefault:"http://localhost:5000"`
	Email    string `env:"CHAT_EMAIL,required"`
	Password string `env:"CHAT_PASSWORD,required"`
	Channel  int64  `env:"CHAT_CHANNEL,required"`
	// Pages is how many pages of history are loaded before following
	Pages int `env:"CHAT_PAGES" envDefault:"1"`
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("godotenv.Load: %v", err)
	}

	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Cannot parse env config: %v", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, sugar, cfg); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatal(err)
	}
}

func run(ctx context.Context, logger *zap.SugaredLogger, cfg config) error {
	api, err := newAPIClient(cfg.URL)
	if err != nil {
		return err
	}

	me, err := api.login(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return err
	}
	logger.Infof("Logged in as %s", me.Name)

	f := newFollower(logger, api, fanout.NewTimeline(cfg.Channel), os.Stdout)
	return f.run(ctx, cfg.Pages)
}
