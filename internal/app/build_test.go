package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ent0n29/aidex/internal/chat"
	"github.com/ent0n29/aidex/internal/config"
	"github.com/ent0n29/aidex/internal/observability"
)

func TestBuildWiresMockPipeline(t *testing.T) {
	cfg := config.Config{
		SessionInactivityTimeout: time.Minute,
		GeminiMode:               "mock",
		GeminiFastModel:          "fast",
		GeminiProModel:           "pro",
		GeminiVisionModel:        "vision",
		GeminiTimeout:            time.Second,
		HistoryWindow:            10,
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_app_%d", time.Now().UnixNano()))

	built, err := build(context.Background(), cfg, metrics)
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer built.Cleanup()

	if built.API == nil || built.Chat == nil || built.Vision == nil {
		t.Fatalf("build() left components unset: %+v", built)
	}

	resp, err := built.Chat.Reply(context.Background(), chat.Request{Message: "I have a fever", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if resp.Outcome != chat.OutcomeAnswered {
		t.Fatalf("Outcome = %q, want %q", resp.Outcome, chat.OutcomeAnswered)
	}
	turns, err := built.History.History(context.Background(), "s1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
}

func TestBuildRejectsUnknownGeminiMode(t *testing.T) {
	cfg := config.Config{
		SessionInactivityTimeout: time.Minute,
		GeminiMode:               "grpc",
		HistoryWindow:            10,
	}
	if _, err := build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("build() expected error for unknown gemini mode")
	}
}
