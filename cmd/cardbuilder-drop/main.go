package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/cardbuilder/internal/dropsync"
	"github.com/agentworkforce/cardbuilder/internal/httpapi"
	"github.com/agentworkforce/cardbuilder/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("CARDBUILDER_BASE_URL", "http://127.0.0.1:8080"), "cardbuilder base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("CARDBUILDER_TOKEN")), "bearer token")
	jwtSecret := flag.String("jwt-secret", strings.TrimSpace(os.Getenv("CARDBUILDER_JWT_SECRET")), "mint a short-lived token with this secret when --token is empty")
	localDir := flag.String("dir", strings.TrimSpace(os.Getenv("CARDBUILDER_DROP_DIR")), "directory to watch for export documents")
	stateFile := flag.String("state-file", strings.TrimSpace(os.Getenv("CARDBUILDER_DROP_STATE_FILE")), "state file path")
	pattern := flag.String("pattern", envOrDefault("CARDBUILDER_DROP_PATTERN", "*.json"), "file name pattern to upload")
	targetTab := flag.Int("tab", 0, "file every card under this tab instead of importing tabs")
	settle := flag.Duration("settle", durationEnv("CARDBUILDER_DROP_SETTLE", 250*time.Millisecond), "quiet period before a burst of changes is uploaded")
	timeout := flag.Duration("timeout", durationEnv("CARDBUILDER_DROP_TIMEOUT", 15*time.Second), "per-request timeout")
	logLevel := flag.String("log-level", envOrDefault("CARDBUILDER_LOG_LEVEL", "info"), "log level")
	once := flag.Bool("once", false, "upload pending files and exit")
	flag.Parse()

	out, err := logging.New().FromWriter(os.Stderr).WithLevel(*logLevel).WithComponent("cardbuilder-drop").Make()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()
	log.Logger = out.Logger

	if strings.TrimSpace(*localDir) == "" {
		log.Fatal().Msg("dir is required (--dir or CARDBUILDER_DROP_DIR)")
	}
	bearer, err := resolveToken(*token, *jwtSecret, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("no usable token")
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}

	client := dropsync.NewHTTPClient(*baseURL, bearer, &http.Client{Timeout: *timeout})
	syncer, err := dropsync.NewSyncer(client, dropsync.SyncerOptions{
		LocalRoot: *localDir,
		StateFile: *stateFile,
		TargetTab: *targetTab,
		Pattern:   *pattern,
		Logger:    log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize drop syncer")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		report, err := syncer.SyncOnce(rootCtx)
		if err != nil {
			log.Error().Err(err).Msg("drop sync failed")
			stop()
			_ = out.Close()
			os.Exit(1)
		}
		log.Info().Int("uploaded", len(report.Uploaded)).Int("rejected", len(report.Rejected)).Int("skipped", report.Skipped).Msg("drop sync completed")
		return
	}

	watcher, err := dropsync.NewWatcher(syncer, *settle)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to watch drop directory")
	}
	log.Info().Str("dir", syncer.LocalRoot()).Str("pattern", *pattern).Msg("watching for export documents")
	if err := watcher.Run(rootCtx); err != nil {
		log.Error().Err(err).Msg("drop watcher stopped")
	}
}

// resolveToken prefers an explicit token. With only the shared secret it
// mints a write token that outlives a long watch session.
func resolveToken(token, secret string, now time.Time) (string, error) {
	if token = strings.TrimSpace(token); token != "" {
		return token, nil
	}
	if secret = strings.TrimSpace(secret); secret == "" {
		return "", fmt.Errorf("token is required (--token or CARDBUILDER_TOKEN), or a --jwt-secret to mint one")
	}
	return httpapi.SignToken(secret, "cardbuilder-drop", []string{"cards:write"}, now.Add(30*24*time.Hour))
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
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
