// Command producer-cli inserts one event and notifies its channel, for
// manually exercising the producer API against a running instance
// without writing a throwaway program.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/U1traVeno/pgebus/internal/config"
	"github.com/U1traVeno/pgebus/internal/db"
	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/producer"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
	"github.com/joho/godotenv"
)

func main() {
	eventType := flag.String("type", "", "dotted event type, e.g. registration.confirmed")
	payload := flag.String("payload", "{}", "JSON payload")
	channel := flag.String("channel", "", "notify channel (defaults to PGEBUS_EVENT_SYSTEM__CHANNEL)")
	flag.Parse()

	if *eventType == "" {
		fmt.Fprintln(os.Stderr, "producer-cli: -type is required")
		os.Exit(2)
	}
	if !json.Valid([]byte(*payload)) {
		fmt.Fprintln(os.Stderr, "producer-cli: -payload is not valid JSON")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.Load()
	ch := *channel
	if ch == "" {
		ch = cfg.EventSystem.Channel
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	pcfg, err := cfg.PoolConfig()
	if err != nil {
		logger.ErrorContext(ctx, "config.pool_config_failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, pcfg)
	if err != nil {
		logger.ErrorContext(ctx, "db.connect_failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool, cfg.Database.SchemaName); err != nil {
		logger.ErrorContext(ctx, "db.ensure_schema_failed", "err", err)
		os.Exit(1)
	}

	repo := postgres.NewEventsRepo(pool, cfg.Database.SchemaName, nil)

	tx, err := pool.Begin(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "db.begin_failed", "err", err)
		os.Exit(1)
	}

	e, err := producer.Produce(ctx, repo, tx, ch, event.CreateRequest{
		Type:    *eventType,
		Payload: json.RawMessage(*payload),
		Source:  event.SourceExternal,
	})
	if err != nil {
		_ = tx.Rollback(ctx)
		logger.ErrorContext(ctx, "producer.produce_failed", "err", err)
		os.Exit(1)
	}

	if err := tx.Commit(ctx); err != nil {
		logger.ErrorContext(ctx, "db.commit_failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("produced event id=%s type=%s channel=%s\n", e.ID, e.Type, ch)
}
