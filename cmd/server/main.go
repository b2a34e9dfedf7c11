package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/Skriptersz/agariogambling/internal/app"
	"github.com/Skriptersz/agariogambling/internal/config"
)

func main() {
	env, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{Env: env}); err != nil {
		log.Fatalf("%v", err)
	}
}
