package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/Apurer/go-commerce-orders/internal/app/rewardsworker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rewardsworker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("rewards worker exited: %v", err)
	}
}
