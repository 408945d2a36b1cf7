package main

import (
	"fmt"
	"net/http"

	"github.com/comigor/imagen-go/internal/config"
	"github.com/comigor/imagen-go/internal/generate"
	"github.com/comigor/imagen-go/internal/history"
	"github.com/comigor/imagen-go/internal/llm"
	"github.com/comigor/imagen-go/internal/logger"
	"github.com/comigor/imagen-go/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)

	// Open the bounded history store (process-wide persisted state)
	store, err := history.Open(cfg.History)
	if err != nil {
		logger.L.Error("failed to open history store", "error", err)
		return
	}
	defer store.Close()

	// Initialize LLM client and generator
	llmClient := llm.NewClient(cfg.LLM)
	gen := generate.New(llmClient, cfg.LLM)

	srv := server.New(gen, llmClient, store)

	// Start server
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting server", "address", serverAddr)
	if err := http.ListenAndServe(serverAddr, srv.Routes()); err != nil {
		logger.L.Error("failed to start server", "error", err)
	}
}
