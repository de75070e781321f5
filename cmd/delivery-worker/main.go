package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/Apurer/go-commerce-orders/internal/app/deliveryworker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := deliveryworker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("delivery worker exited: %v", err)
	}
}
