package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/kalthreti/mytelegram-confession-bot/internal/config"
	"github.com/kalthreti/mytelegram-confession-bot/internal/confession"
	"github.com/kalthreti/mytelegram-confession-bot/internal/rate"
	"github.com/kalthreti/mytelegram-confession-bot/internal/session"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store/jsonfile"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store/sqlite"
	"github.com/kalthreti/mytelegram-confession-bot/internal/telegram"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, reading environment directly")
	}

	cfg := config.Load()
	if cfg.BotToken == "" {
		log.Fatal("BOT_TOKEN is required")
	}

	st := openStore(cfg)
	defer st.Close()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram auth: %v", err)
	}
	log.Printf("authorized as @%s", api.Self.UserName)

	pub := telegram.NewPublisher(api, cfg.ChannelID, cfg.AdminGroupID)
	svc := confession.NewService(st, pub, cfg.BatchPause)
	limiter := rate.NewMemory(map[rate.Op]rate.Limit{
		rate.OpSubmit:  {Count: cfg.RateLimits.SubmitPerHour, Window: time.Hour},
		rate.OpComment: {Count: cfg.RateLimits.CommentPerMinute, Window: time.Minute},
		rate.OpVote:    {Count: cfg.RateLimits.VotePerMinute, Window: time.Minute},
	})
	bot := telegram.NewBot(api, svc, session.NewManager(), limiter, cfg.AdminGroupID)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Println("shutting down...")
		cancel()
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot stopped: %v", err)
	}
}

func openStore(cfg config.Config) store.Store {
	if cfg.DBPath != "" {
		st, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			log.Fatalf("open sqlite store: %v", err)
		}
		log.Printf("store: sqlite at %s", cfg.DBPath)
		return st
	}
	st, err := jsonfile.Open(cfg.SnapshotPath())
	if err != nil {
		log.Fatalf("open snapshot store: %v", err)
	}
	log.Printf("store: JSON snapshot at %s", cfg.SnapshotPath())
	return st
}
