package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/aidex/internal/chat"
	"github.com/ent0n29/aidex/internal/config"
	"github.com/ent0n29/aidex/internal/gemini"
	"github.com/ent0n29/aidex/internal/httpapi"
	"github.com/ent0n29/aidex/internal/memory"
	"github.com/ent0n29/aidex/internal/observability"
	"github.com/ent0n29/aidex/internal/session"
	"github.com/ent0n29/aidex/internal/vision"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	History  memory.Store
	Chat     *chat.Service
	Vision   *vision.Orchestrator
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	return build(ctx, cfg, metrics)
}

func build(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (*BuildResult, error) {
	history, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	client, err := gemini.NewClient(gemini.Config{
		Mode:       cfg.GeminiMode,
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Timeout:    cfg.GeminiTimeout,
		MaxRetries: cfg.GeminiMaxRetries,
		Metrics:    metrics,
	})
	if err != nil {
		_ = history.Close()
		return nil, fmt.Errorf("gemini client init failed: %w", err)
	}
	if !strings.EqualFold(cfg.GeminiMode, "mock") && strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		log.Warn("GEMINI_API_KEY is not set; chat replies will report a missing credential")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
	})

	chatService := chat.NewService(client, history, sessions, metrics, chat.Models{
		Fast: cfg.GeminiFastModel,
		Pro:  cfg.GeminiProModel,
	})
	visionOrchestrator := vision.NewOrchestrator(client, cfg.GeminiVisionModel, metrics)

	api := httpapi.New(cfg, sessions, history, chatService, visionOrchestrator, metrics)

	cleanup := func() error {
		if err := history.Close(); err != nil {
			return fmt.Errorf("close history store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		History:  history,
		Chat:     chatService,
		Vision:   visionOrchestrator,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
