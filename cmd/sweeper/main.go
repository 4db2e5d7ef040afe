package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gmachhub/lending/internal/availability"
	"github.com/gmachhub/lending/internal/config"
	kafkax "github.com/gmachhub/lending/internal/kafka"
	"github.com/gmachhub/lending/internal/lending"
	"github.com/gmachhub/lending/internal/postgres"
	"github.com/gmachhub/lending/internal/redisx"
	"github.com/gmachhub/lending/internal/sweep"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: conflict & resolved (two topics)
	pConflict := kafkax.NewProducer(cfg.KafkaBrokers, lending.TopicAvailabilityConflict, 1024)
	pConflict.Start(ctx)
	pResolved := kafkax.NewProducer(cfg.KafkaBrokers, lending.TopicAvailabilityResolved, 1024)
	pResolved.Start(ctx)

	// Service
	repo := &lending.Repo{DB: db}
	svc := &sweep.Service{
		Checker:          &availability.Checker{Store: repo},
		Redis:            rdb,
		ProducerConflict: pConflict,
		ProducerResolved: pResolved,
		ServiceName:      cfg.ServiceName + "-sweeper",
	}

	// Consumers: stock updates and order closures both trigger a sweep
	group := getenv("SWEEPER_GROUP", "availability-sweeper")
	workers := mustAtoi(os.Getenv("SWEEPER_WORKERS"), "4")
	cStock := kafkax.NewConsumer(cfg.KafkaBrokers, group, lending.TopicStockUpdated, workers)
	cClosed := kafkax.NewConsumer(cfg.KafkaBrokers, group, lending.TopicOrderClosed, workers)

	go func() {
		log.Printf("sweeper consumer started: group=%s topic=%s workers=%d", group, lending.TopicStockUpdated, workers)
		if err := cStock.Start(ctx, svc.HandleStockUpdated); err != nil {
			log.Printf("stock consumer exit: %v", err)
			cancel()
		}
	}()
	go func() {
		log.Printf("sweeper consumer started: group=%s topic=%s workers=%d", group, lending.TopicOrderClosed, workers)
		if err := cClosed.Start(ctx, svc.HandleOrderClosed); err != nil {
			log.Printf("closed consumer exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down sweeper...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pConflict.Close()
	pResolved.Close()
	pConflict.WaitClosed()
	pResolved.WaitClosed()
}
