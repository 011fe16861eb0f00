package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/agentworkforce/cardbuilder/internal/editor"
	"github.com/agentworkforce/cardbuilder/internal/events"
	"github.com/agentworkforce/cardbuilder/internal/httpapi"
	"github.com/agentworkforce/cardbuilder/internal/logging"
	"github.com/agentworkforce/cardbuilder/internal/softdelete"
	"github.com/rs/zerolog/log"
)

func main() {
	out, err := logging.New().
		FromWriter(os.Stderr).
		FromPath(os.Getenv("CARDBUILDER_LOG_FILE")).
		WithLevel(os.Getenv("CARDBUILDER_LOG_LEVEL")).
		WithComponent("cardbuilder").
		Make()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	log.Logger = out.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("cardbuilder stopped")
		_ = out.Close()
		os.Exit(1)
	}
	_ = out.Close()
}

func run(ctx context.Context) error {
	addr := envOrDefault("CARDBUILDER_ADDR", ":8080")
	slot, err := buildSlotFromEnv()
	if err != nil {
		return fmt.Errorf("failed to initialize state slot: %w", err)
	}

	bus := events.NewBus(intEnv("CARDBUILDER_EVENT_HISTORY", 0))
	ed, err := editor.New(editor.Options{
		Slot:          slot,
		TabsSlotName:  os.Getenv("CARDBUILDER_TABS_SLOT"),
		CardsSlotName: os.Getenv("CARDBUILDER_CARDS_SLOT"),
		UndoWindow:    durationEnv("CARDBUILDER_UNDO_WINDOW", softdelete.DefaultWindow),
		Layout: editor.Layout{
			TabWidth:       floatEnv("CARDBUILDER_TAB_WIDTH", 0),
			AvailableWidth: floatEnv("CARDBUILDER_AVAILABLE_WIDTH", 0),
		},
		Publisher: bus,
		Logger:    log.Logger,
	})
	if err != nil {
		_ = docstore.CloseSlot(slot)
		return fmt.Errorf("failed to open editor: %w", err)
	}
	defer func() {
		if err := ed.Close(); err != nil {
			log.Warn().Err(err).Msg("editor close failed")
		}
	}()

	server := httpapi.NewServerWithConfig(ed, bus, httpapi.ServerConfig{
		JWTSecret:       os.Getenv("CARDBUILDER_JWT_SECRET"),
		RateLimitMax:    intEnv("CARDBUILDER_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("CARDBUILDER_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("CARDBUILDER_MAX_BODY_BYTES", 0),
		MaxImportBytes:  int64Env("CARDBUILDER_MAX_IMPORT_BYTES", 0),
		OriginPatterns:  listEnv("CARDBUILDER_ALLOWED_ORIGINS"),
		Logger:          log.Logger,
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("cardbuilder listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), durationEnv("CARDBUILDER_SHUTDOWN_TIMEOUT", 10*time.Second))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("name", name).Str("value", raw).Int("fallback", fallback).Msg("invalid integer setting")
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Str("name", name).Str("value", raw).Int64("fallback", fallback).Msg("invalid integer setting")
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warn().Str("name", name).Str("value", raw).Float64("fallback", fallback).Msg("invalid number setting")
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("name", name).Str("value", raw).Dur("fallback", fallback).Msg("invalid duration setting")
		return fallback
	}
	return value
}

func listEnv(name string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(name), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func buildSlotFromEnv() (docstore.Slot, error) {
	profileDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, err
	}
	if dsn := strings.TrimSpace(os.Getenv("CARDBUILDER_STATE_DSN")); dsn != "" {
		return docstore.BuildSlotFromDSN(dsn)
	}
	if profileDSN == "" {
		log.Warn().Msg("no CARDBUILDER_STATE_DSN or CARDBUILDER_BACKEND_PROFILE; state is not persisted")
		return nil, nil
	}
	return docstore.BuildSlotFromDSN(profileDSN)
}

func storageProfileDefaultsFromEnv() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("CARDBUILDER_BACKEND_PROFILE")))
	dataDir := envOrDefault("CARDBUILDER_DATA_DIR", ".cardbuilder")
	switch profile {
	case "", "custom":
		return "", nil
	case "memory", "inmemory":
		return "memory://", nil
	case "production", "prod":
		for _, name := range []string{"CARDBUILDER_PRODUCTION_DSN", "CARDBUILDER_POSTGRES_DSN", "CARDBUILDER_REDIS_URL"} {
			if dsn := strings.TrimSpace(os.Getenv(name)); dsn != "" {
				return dsn, nil
			}
		}
		return "", fmt.Errorf("CARDBUILDER_PRODUCTION_DSN, CARDBUILDER_POSTGRES_DSN or CARDBUILDER_REDIS_URL is required when CARDBUILDER_BACKEND_PROFILE=%s", profile)
	case "durable-local", "local-durable":
		return dataDir, nil
	default:
		return "", fmt.Errorf("unsupported CARDBUILDER_BACKEND_PROFILE: %s", profile)
	}
}
