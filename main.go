package main

import (
	"context"
	"os"

	"github.com/mudler/xlog"
)

func main() {
	config, err := loadConfig()
	if err != nil {
		xlog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	app := newApplication(config)

	ctx := context.Background()
	if err := app.loadCollections(ctx); err != nil {
		xlog.Error("Failed to load collections", "error", err)
		os.Exit(1)
	}
	app.sources.Start(ctx)

	xlog.Info("Starting corpusbank",
		"address", config.ListenAddress,
		"backend", config.VectorBackend,
		"embedding_model", config.EmbeddingModel,
	)
	if err := startAPI(app, config.ListenAddress); err != nil {
		xlog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
