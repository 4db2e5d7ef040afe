package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gmachhub/lending/internal/availability"
	"github.com/gmachhub/lending/internal/config"
	"github.com/gmachhub/lending/internal/httpx"
	kafkax "github.com/gmachhub/lending/internal/kafka"
	"github.com/gmachhub/lending/internal/lending"
	"github.com/gmachhub/lending/internal/postgres"
	"github.com/gmachhub/lending/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, lending.TopicOrderCreated, 1024)
	pCreated.Start(ctx)
	pClosed := kafkax.NewProducer(cfg.KafkaBrokers, lending.TopicOrderClosed, 1024)
	pClosed.Start(ctx)
	pStock := kafkax.NewProducer(cfg.KafkaBrokers, lending.TopicStockUpdated, 1024)
	pStock.Start(ctx)

	// Repo, checker, handlers
	repo := &lending.Repo{DB: db}
	checker := &availability.Checker{Store: repo}
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Repo:           repo,
		Checker:        checker,
		ProducerCreate: pCreated,
		ProducerClose:  pClosed,
		ProducerStock:  pStock,
		Redis:          rdb,
		Service:        cfg.ServiceName,
	}
	oh.Register(router)
	ih := &httpx.ItemsHandler{
		Repo:          repo,
		ProducerStock: pStock,
		Redis:         rdb,
		Service:       cfg.ServiceName,
	}
	ih.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range []*kafkax.Producer{pCreated, pClosed, pStock} {
		p.Close() // close inbox -> flush & close writer
	}
	for _, p := range []*kafkax.Producer{pCreated, pClosed, pStock} {
		p.WaitClosed() // drain
	}
}
