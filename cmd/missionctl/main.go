package main

import (
	"errors"
	"log"
	"time"

	"github.com/joho/godotenv"

	"missionctl/internal/cli"
	"missionctl/internal/config"
	"missionctl/internal/gateway"
	"missionctl/internal/logger"
	"missionctl/internal/loop"
	"missionctl/internal/mission"
	"missionctl/internal/persist"
)

func main() {
	// .env is optional; environment variables may come from the shell.
	_ = godotenv.Load()

	cfg, err := config.Load("missionctl.yaml")
	if err != nil {
		log.Fatalf("Fatal Error: Could not load config: %v", err)
	}

	if err := logger.Init(cfg.LogPath); err != nil {
		log.Fatalf("Fatal Error: Could not initialize logger: %v", err)
	}

	provider, err := gateway.NewProvider(gateway.ProviderConfig{
		Backend:    cfg.Backend,
		Model:      cfg.Model,
		OllamaHost: cfg.OllamaHost,
	})
	if err != nil {
		log.Fatalf("Fatal Error: Could not initialize LLM backend: %v", err)
	}

	adapter := persist.NewFileStore(cfg.StatePath)
	saved, err := adapter.Load()
	if err != nil && !errors.Is(err, persist.ErrNotFound) {
		logger.Log.Printf("Discarding unreadable saved mission: %v", err)
		saved = mission.Mission{}
	}

	ctrl := loop.New(saved, gateway.NewLLM(provider, cfg.Model), adapter, loop.Config{
		StepDelay: time.Duration(cfg.StepDelayMs) * time.Millisecond,
		IdleWait:  time.Duration(cfg.IdleWaitMs) * time.Millisecond,
	})

	cli.Execute(ctrl)
}
