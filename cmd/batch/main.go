package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"strata/internal/config"
	"strata/internal/layer"
	"strata/internal/logging"
	"strata/source/kafka"
)

func main() {
	configPath := flag.String("config", "batch.yml", "path to the batch layer config")
	flag.Parse()

	logging.InitFromEnv()
	kafka.Register("sarama", func() kafka.Adapter { return &kafka.SaramaDriver{} })

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	b, err := layer.New(cfg)
	if err != nil {
		log.Fatalf("layer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}
	go func() {
		<-ctx.Done()
		_ = b.Close()
	}()

	if err := b.Await(); err != nil {
		log.Fatalf("await: %v", err)
	}
}
