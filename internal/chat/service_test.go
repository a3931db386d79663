package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/aidex/internal/gemini"
	"github.com/ent0n29/aidex/internal/memory"
	"github.com/ent0n29/aidex/internal/observability"
	"github.com/ent0n29/aidex/internal/prompts"
	"github.com/ent0n29/aidex/internal/session"
)

const (
	fastModel = "fast-model"
	proModel  = "pro-model"
)

type callKind string

const (
	callGate         callKind = "gate"
	callConversation callKind = "conversation"
	callTranslation  callKind = "translation"
)

// fakeClient answers by prompt role and records every call.
type fakeClient struct {
	mu          sync.Mutex
	gate        gemini.Result
	analysis    gemini.Result
	translation gemini.Result
	calls       []gemini.Request
}

func (c *fakeClient) Complete(_ context.Context, req gemini.Request) gemini.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	switch kindOf(req) {
	case callGate:
		return c.gate
	case callTranslation:
		return c.translation
	default:
		return c.analysis
	}
}

func (c *fakeClient) kinds() []callKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]callKind, 0, len(c.calls))
	for _, req := range c.calls {
		out = append(out, kindOf(req))
	}
	return out
}

func kindOf(req gemini.Request) callKind {
	switch {
	case req.JSON:
		return callGate
	case strings.HasPrefix(req.Prompt, "You are a translation model"):
		return callTranslation
	default:
		return callConversation
	}
}

type fixture struct {
	svc      *Service
	client   *fakeClient
	history  *memory.InMemoryStore
	sessions *session.Manager
}

func newFixture(client *fakeClient) fixture {
	return newFixtureWithMetrics(client, nil)
}

func newFixtureWithMetrics(client *fakeClient, metrics *observability.Metrics) fixture {
	history := memory.NewInMemoryStore(memory.DefaultWindow)
	sessions := session.NewManager(time.Minute)
	return fixture{
		svc:      NewService(client, history, sessions, metrics, Models{Fast: fastModel, Pro: proModel}),
		client:   client,
		history:  history,
		sessions: sessions,
	}
}

func analysisWithDisclaimer() gemini.Result {
	return gemini.TextResult("That sounds uncomfortable. When did it start? Is it constant? " + prompts.SafetyDisclaimer)
}

func (f fixture) historyLen(t *testing.T, sessionID string) int {
	t.Helper()
	turns, err := f.history.History(context.Background(), sessionID)
	require.NoError(t, err)
	return len(turns)
}

func TestReplyMedicalGrowsHistoryByTwo(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:     gemini.TextResult(`{"is_medical": true}`),
		analysis: analysisWithDisclaimer(),
	})

	resp, err := f.svc.Reply(context.Background(), Request{Message: "I have a headache", Language: "en", SessionID: "s1"})

	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, resp.Outcome)
	require.Contains(t, resp.Reply, prompts.SafetyDisclaimer)
	require.False(t, resp.Translated)
	require.Equal(t, []callKind{callGate, callConversation}, f.client.kinds())
	require.Equal(t, fastModel, f.client.calls[0].Model)
	require.Equal(t, proModel, f.client.calls[1].Model)

	turns, err := f.history.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, []memory.Turn{
		{Role: memory.RoleUser, Content: "I have a headache"},
		{Role: memory.RoleAssistant, Content: analysisWithDisclaimer().Text},
	}, turns)

	sess, err := f.sessions.Get("s1")
	require.NoError(t, err)
	require.Equal(t, 1, sess.Turns)
}

func TestReplyConversationPromptCarriesHistory(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:     gemini.TextResult(`{"is_medical": true}`),
		analysis: analysisWithDisclaimer(),
	})
	ctx := context.Background()

	_, err := f.svc.Reply(ctx, Request{Message: "My back hurts", SessionID: "s1"})
	require.NoError(t, err)
	_, err = f.svc.Reply(ctx, Request{Message: "Since yesterday", SessionID: "s1"})
	require.NoError(t, err)

	last := f.client.calls[len(f.client.calls)-1]
	require.Contains(t, last.Prompt, "user: My back hurts")
	require.Contains(t, last.Prompt, `"Since yesterday"`)
	require.Equal(t, 4, f.historyLen(t, "s1"))
}

func TestReplyNonMedicalReturnsRefusalVerbatim(t *testing.T) {
	f := newFixture(&fakeClient{gate: gemini.TextResult(`{"is_medical": false}`)})

	resp, err := f.svc.Reply(context.Background(), Request{Message: "What's 2+2?", Language: "en", SessionID: "s2"})

	require.NoError(t, err)
	require.Equal(t, RefusalReply, resp.Reply)
	require.Equal(t, OutcomeRefused, resp.Outcome)
	require.Equal(t, []callKind{callGate}, f.client.kinds())
	require.Zero(t, f.historyLen(t, "s2"))
	_, err = f.sessions.Get("s2")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestReplyNonMedicalTranslatesRefusal(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:        gemini.TextResult(`{"is_medical": false}`),
		translation: gemini.TextResult("Soy Aidex..."),
	})

	resp, err := f.svc.Reply(context.Background(), Request{Message: "¿Quién ganó el partido?", Language: "es"})

	require.NoError(t, err)
	require.Equal(t, "Soy Aidex...", resp.Reply)
	require.True(t, resp.Translated)
	require.Equal(t, []callKind{callGate, callTranslation}, f.client.kinds())
	require.Contains(t, f.client.calls[1].Prompt, "Spanish")
	require.Contains(t, f.client.calls[1].Prompt, "medical assistant named Aidex")
}

func TestReplyRefusalTranslationFailureFallsBack(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:        gemini.TextResult(`{"is_medical": false}`),
		translation: gemini.ErrorResult(gemini.KindUpstreamError, "status 500"),
	})

	resp, err := f.svc.Reply(context.Background(), Request{Message: "hola", Language: "es"})

	require.NoError(t, err)
	require.Equal(t, RefusalReply, resp.Reply)
	require.False(t, resp.Translated)
}

func TestReplyEnglishNeverTranslates(t *testing.T) {
	for _, lang := range []string{"en", "en-US", ""} {
		t.Run(lang, func(t *testing.T) {
			f := newFixture(&fakeClient{
				gate:     gemini.TextResult(`{"is_medical": true}`),
				analysis: analysisWithDisclaimer(),
			})
			_, err := f.svc.Reply(context.Background(), Request{Message: "I feel sick", Language: lang})
			require.NoError(t, err)
			require.NotContains(t, f.client.kinds(), callTranslation)
		})
	}
}

func TestReplySupportedLanguagesTranslate(t *testing.T) {
	for _, lang := range []string{"es", "hi", "fr", "de", "zh", "ja", "ru", "ar", "te"} {
		t.Run(lang, func(t *testing.T) {
			f := newFixture(&fakeClient{
				gate:        gemini.TextResult(`{"is_medical": true}`),
				analysis:    analysisWithDisclaimer(),
				translation: gemini.TextResult("translated"),
			})
			resp, err := f.svc.Reply(context.Background(), Request{Message: "I feel sick", Language: lang})
			require.NoError(t, err)
			require.Equal(t, "translated", resp.Reply)
			require.Equal(t, []callKind{callGate, callConversation, callTranslation}, f.client.kinds())
			require.Equal(t, fastModel, f.client.calls[2].Model)
		})
	}
}

func TestReplyTranslationFailureReturnsAnalysis(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:        gemini.TextResult(`{"is_medical": true}`),
		analysis:    analysisWithDisclaimer(),
		translation: gemini.ErrorResult(gemini.KindTransportFailure, "timeout"),
	})

	resp, err := f.svc.Reply(context.Background(), Request{Message: "I feel sick", Language: "fr"})

	require.NoError(t, err)
	require.Equal(t, analysisWithDisclaimer().Text, resp.Reply)
	require.Equal(t, OutcomeAnswered, resp.Outcome)
}

func TestReplyEmptyMessageMakesNoCalls(t *testing.T) {
	client := &fakeClient{}
	f := newFixture(client)

	for _, msg := range []string{"", "   \n"} {
		_, err := f.svc.Reply(context.Background(), Request{Message: msg, Language: "es"})
		require.ErrorIs(t, err, ErrEmptyMessage)
	}
	require.Empty(t, client.calls)
}

func TestReplyGateFailsClosed(t *testing.T) {
	cases := map[string]gemini.Result{
		"not json":       gemini.TextResult("yes, this is medical"),
		"missing key":    gemini.TextResult(`{"medical": true}`),
		"non boolean":    gemini.TextResult(`{"is_medical": "true"}`),
		"upstream error": gemini.ErrorResult(gemini.KindUpstreamError, "status 503"),
		"bad shape":      gemini.ErrorResult(gemini.KindUnexpectedResponseShape, "no candidates"),
	}
	for name, gate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(&fakeClient{gate: gate, analysis: analysisWithDisclaimer()})
			resp, err := f.svc.Reply(context.Background(), Request{Message: "I have a cough", SessionID: "s1"})
			require.NoError(t, err)
			require.Equal(t, TroubleReply, resp.Reply)
			require.Equal(t, OutcomeGateFailed, resp.Outcome)
			require.Equal(t, []callKind{callGate}, f.client.kinds())
			require.Zero(t, f.historyLen(t, "s1"))
		})
	}
}

func TestReplyMissingCredential(t *testing.T) {
	missing := gemini.ErrorResult(gemini.KindMissingCredential, "GEMINI_API_KEY is not configured")
	f := newFixture(&fakeClient{gate: missing, analysis: missing, translation: missing})

	resp, err := f.svc.Reply(context.Background(), Request{Message: "I have a headache"})

	require.NoError(t, err)
	require.Equal(t, MissingCredentialReply, resp.Reply)
	require.Equal(t, OutcomeMissingCredential, resp.Outcome)
}

func TestReplyAnalysisFailureLeavesHistoryUntouched(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:     gemini.TextResult(`{"is_medical": true}`),
		analysis: gemini.ErrorResult(gemini.KindUpstreamError, "status 500"),
	})

	resp, err := f.svc.Reply(context.Background(), Request{Message: "I have a headache", SessionID: "s1"})

	require.NoError(t, err)
	require.Equal(t, AnalysisFailedReply, resp.Reply)
	require.Equal(t, OutcomeAnalysisFailed, resp.Outcome)
	require.Zero(t, f.historyLen(t, "s1"))
}

func TestReplyDefaultsSessionID(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:     gemini.TextResult(`{"is_medical": true}`),
		analysis: analysisWithDisclaimer(),
	})

	_, err := f.svc.Reply(context.Background(), Request{Message: "I have a headache"})

	require.NoError(t, err)
	require.Equal(t, 2, f.historyLen(t, DefaultSessionID))
}

func TestReplyHistoryKeepsLastFiveExchanges(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:     gemini.TextResult(`{"is_medical": true}`),
		analysis: analysisWithDisclaimer(),
	})
	for i := 0; i < 8; i++ {
		_, err := f.svc.Reply(context.Background(), Request{Message: "still dizzy", SessionID: "s1"})
		require.NoError(t, err)
	}
	require.Equal(t, memory.DefaultWindow, f.historyLen(t, "s1"))
}

func TestReplyCanceledWhileWaitingForSession(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:     gemini.TextResult(`{"is_medical": true}`),
		analysis: analysisWithDisclaimer(),
	})
	release, err := f.sessions.Acquire(context.Background(), "busy")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.svc.Reply(ctx, Request{Message: "I have a headache", SessionID: "busy"})
	require.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
}

func TestReplyConcurrentSameSessionKeepsPairsIntact(t *testing.T) {
	f := newFixture(&fakeClient{
		gate:     gemini.TextResult(`{"is_medical": true}`),
		analysis: analysisWithDisclaimer(),
	})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, msg := range []string{"my ear hurts", "my throat hurts"} {
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			_, err := f.svc.Reply(context.Background(), Request{Message: msg, SessionID: "shared"})
			errs <- err
		}(msg)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	turns, err := f.history.History(context.Background(), "shared")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	for i, turn := range turns {
		want := memory.RoleUser
		if i%2 == 1 {
			want = memory.RoleAssistant
		}
		require.Equal(t, want, turn.Role, "turn %d", i)
	}
	sess, err := f.sessions.Get("shared")
	require.NoError(t, err)
	require.Equal(t, 2, sess.Turns)
}

func indicatorCounts(m *observability.Metrics) map[string]int {
	out := map[string]int{}
	for _, ind := range m.SnapshotStages().Indicators {
		out[ind.Name] = ind.Count
	}
	return out
}

func TestReplyFeedsLatencyIndicators(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
		req    Request
		want   map[string]int
	}{
		{
			name:   "answered",
			client: &fakeClient{gate: gemini.TextResult(`{"is_medical": true}`), analysis: analysisWithDisclaimer()},
			req:    Request{Message: "I have a fever", Language: "en"},
			want:   map[string]int{},
		},
		{
			name:   "gate failed",
			client: &fakeClient{gate: gemini.ErrorResult(gemini.KindTransportFailure, "dial tcp: refused")},
			req:    Request{Message: "I have a fever", Language: "en"},
			want:   map[string]int{IndicatorGateFailed: 1},
		},
		{
			name:   "gate refused",
			client: &fakeClient{gate: gemini.TextResult(`{"is_medical": false}`)},
			req:    Request{Message: "tell me a joke", Language: "en"},
			want:   map[string]int{IndicatorGateRefused: 1},
		},
		{
			name: "refusal translation fallback",
			client: &fakeClient{
				gate:        gemini.TextResult(`{"is_medical": false}`),
				translation: gemini.ErrorResult(gemini.KindUpstreamError, "status 500"),
			},
			req:  Request{Message: "tell me a joke", Language: "es"},
			want: map[string]int{IndicatorGateRefused: 1, IndicatorTranslationFallback: 1},
		},
		{
			name: "analysis failed",
			client: &fakeClient{
				gate:     gemini.TextResult(`{"is_medical": true}`),
				analysis: gemini.ErrorResult(gemini.KindUpstreamError, "status 503"),
			},
			req:  Request{Message: "I have a fever", Language: "en"},
			want: map[string]int{IndicatorAnalysisFailed: 1},
		},
		{
			name:   "missing credential",
			client: &fakeClient{gate: gemini.ErrorResult(gemini.KindMissingCredential, "GEMINI_API_KEY is not set")},
			req:    Request{Message: "I have a fever", Language: "en"},
			want:   map[string]int{IndicatorMissingCredential: 1},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetrics(fmt.Sprintf("test_chat_%d_%d", time.Now().UnixNano(), i))
			f := newFixtureWithMetrics(tt.client, metrics)

			_, err := f.svc.Reply(context.Background(), tt.req)

			require.NoError(t, err)
			require.Equal(t, tt.want, indicatorCounts(metrics))
		})
	}
}

func TestParseGateDecision(t *testing.T) {
	got, err := parseGateDecision("```json\n{\"is_medical\": true}\n```")
	require.NoError(t, err)
	require.True(t, got)

	_, err = parseGateDecision(`[]`)
	require.ErrorIs(t, err, ErrClassification)
}
