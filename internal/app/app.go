// Package app wires the application together: configuration, logging,
// tracing, the database pool, Genkit, the stores and the query engine.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recall0/recall/internal/config"
	"github.com/recall0/recall/internal/directory"
	"github.com/recall0/recall/internal/eventstore"
	"github.com/recall0/recall/internal/race"
	"github.com/recall0/recall/internal/vectorstore"
)

// App is the application container. Build it with Setup and release it
// with Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Documents *vectorstore.Store
	Events    *eventstore.Store
	Directory *directory.Directory
	Engine    *race.Engine

	otelCleanup func()
	dbCleanup   func()
}

// Close releases all resources in reverse initialization order.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down")
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
