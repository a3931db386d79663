// Package chat runs one textual turn through the agent pipeline:
// medical gate, then refusal or symptom conversation, then optional translation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/aidex/internal/gemini"
	"github.com/ent0n29/aidex/internal/logging"
	"github.com/ent0n29/aidex/internal/memory"
	"github.com/ent0n29/aidex/internal/observability"
	"github.com/ent0n29/aidex/internal/policy"
	"github.com/ent0n29/aidex/internal/prompts"
	"github.com/ent0n29/aidex/internal/session"
)

const DefaultSessionID = "default_session"

const (
	RefusalReply = "I am an AI medical assistant named Aidex. I can only answer questions related to " +
		"medical symptoms, health conditions, and wellness. How can I help you with a medical topic?"
	TroubleReply           = "I'm sorry, I'm having trouble understanding the nature of your request right now."
	AnalysisFailedReply    = "I'm sorry, I couldn't look into that right now. Please try again in a moment."
	MissingCredentialReply = "The assistant is not configured yet: the GEMINI_API_KEY credential is missing."
	EmptyMessageMessage    = "Message cannot be empty."
)

var ErrEmptyMessage = errors.New("empty message")

// ErrClassification marks gate output that is not {"is_medical": bool}.
var ErrClassification = errors.New("classification parse failure")

// Outcome names the terminal state of one pass.
type Outcome string

const (
	OutcomeRefused           Outcome = "refused"
	OutcomeAnswered          Outcome = "answered"
	OutcomeGateFailed        Outcome = "gate_failed"
	OutcomeAnalysisFailed    Outcome = "analysis_failed"
	OutcomeMissingCredential Outcome = "missing_credential"
)

// Indicators counted in the /v1/perf/latency snapshot.
const (
	IndicatorGateFailed          = "gate_failed"
	IndicatorGateRefused         = "gate_refused"
	IndicatorAnalysisFailed      = "analysis_failed"
	IndicatorMissingCredential   = "missing_credential"
	IndicatorTranslationFallback = "translation_fallback"
)

type Models struct {
	// Fast serves the gate and translation calls.
	Fast string
	// Pro serves the symptom conversation.
	Pro string
}

type Request struct {
	Message   string
	SessionID string
	Language  string
}

type Response struct {
	Reply      string
	Outcome    Outcome
	Translated bool
}

type Service struct {
	client   gemini.Client
	history  memory.Store
	sessions *session.Manager
	metrics  *observability.Metrics
	models   Models
}

func NewService(client gemini.Client, history memory.Store, sessions *session.Manager, metrics *observability.Metrics, models Models) *Service {
	return &Service{
		client:   client,
		history:  history,
		sessions: sessions,
		metrics:  metrics,
		models:   models,
	}
}

// Reply runs the pipeline. The only errors returned are ErrEmptyMessage and
// context errors; every upstream failure is folded into a user-safe reply.
func (s *Service) Reply(ctx context.Context, req Request) (Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Response{}, ErrEmptyMessage
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = prompts.DefaultLanguage
	}

	start := time.Now()
	logger := logging.FromContext(ctx).WithFields(log.Fields{
		"session_id": sessionID,
		"language":   language,
	})
	if logger.Logger.IsLevelEnabled(log.DebugLevel) {
		logger.Debugf("chat turn received: %q", policy.LogPreview(message, 120))
	}

	resp, err := s.run(ctx, logger, message, sessionID, language)
	if err != nil {
		return Response{}, err
	}
	s.metrics.ObserveStage("chat_total", time.Since(start))
	s.metrics.ObserveChatOutcome(string(resp.Outcome))
	logger.WithField("outcome", resp.Outcome).Info("chat turn complete")
	return resp, nil
}

func (s *Service) run(ctx context.Context, logger *log.Entry, message, sessionID, language string) (Response, error) {
	isMedical, err := s.classify(ctx, message)
	if err != nil {
		var upstream *gemini.Error
		if errors.As(err, &upstream) && upstream.Kind == gemini.KindMissingCredential {
			s.metrics.ObserveIndicator(IndicatorMissingCredential)
			return Response{Reply: MissingCredentialReply, Outcome: OutcomeMissingCredential}, nil
		}
		logger.WithError(err).Warn("gate failed closed")
		s.metrics.ObserveGateDecision("error")
		s.metrics.ObserveIndicator(IndicatorGateFailed)
		return Response{Reply: TroubleReply, Outcome: OutcomeGateFailed}, nil
	}

	if !isMedical {
		s.metrics.ObserveGateDecision("non_medical")
		s.metrics.ObserveIndicator(IndicatorGateRefused)
		reply, translated := s.translate(ctx, logger, RefusalReply, language)
		return Response{Reply: reply, Outcome: OutcomeRefused, Translated: translated}, nil
	}
	s.metrics.ObserveGateDecision("medical")

	analysis, failure, err := s.analyze(ctx, logger, message, sessionID)
	if err != nil {
		return Response{}, err
	}
	if failure != nil {
		return *failure, nil
	}

	reply, translated := s.translate(ctx, logger, analysis, language)
	return Response{Reply: reply, Outcome: OutcomeAnswered, Translated: translated}, nil
}

// classify returns the gate decision, or a *gemini.Error / ErrClassification.
func (s *Service) classify(ctx context.Context, message string) (bool, error) {
	start := time.Now()
	res := s.client.Complete(ctx, gemini.Request{
		Prompt: prompts.Gate(message),
		Model:  s.models.Fast,
		JSON:   true,
	})
	s.metrics.ObserveStage("gate", time.Since(start))
	if !res.OK() {
		return false, res.Err
	}
	return parseGateDecision(res.Text)
}

// analyze holds the session for the history read, the conversation call and
// the history append. Turns are appended only when the conversation call
// succeeded; a non-nil failure Response ends the pipeline.
func (s *Service) analyze(ctx context.Context, logger *log.Entry, message, sessionID string) (analysis string, failure *Response, err error) {
	release, err := s.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("acquire session %s: %w", sessionID, err)
	}
	defer release()

	history, err := s.history.History(ctx, sessionID)
	if err != nil {
		logger.WithError(err).Warn("history unavailable, continuing without context")
		history = nil
	}

	start := time.Now()
	res := s.client.Complete(ctx, gemini.Request{
		Prompt: prompts.Conversation(message, history),
		Model:  s.models.Pro,
	})
	s.metrics.ObserveStage("analysis", time.Since(start))
	if !res.OK() {
		if res.Is(gemini.KindMissingCredential) {
			s.metrics.ObserveIndicator(IndicatorMissingCredential)
			return "", &Response{Reply: MissingCredentialReply, Outcome: OutcomeMissingCredential}, nil
		}
		logger.WithField("kind", res.Err.Kind).Warnf("analysis failed: %s", res.Err.Message)
		s.metrics.ObserveIndicator(IndicatorAnalysisFailed)
		return "", &Response{Reply: AnalysisFailedReply, Outcome: OutcomeAnalysisFailed}, nil
	}

	err = s.history.Append(ctx, sessionID,
		memory.Turn{Role: memory.RoleUser, Content: message},
		memory.Turn{Role: memory.RoleAssistant, Content: res.Text},
	)
	if err != nil {
		logger.WithError(err).Warn("history append failed")
	}
	s.sessions.RecordTurn(sessionID)
	return res.Text, nil, nil
}

// translate is best-effort: any failure returns text unchanged.
func (s *Service) translate(ctx context.Context, logger *log.Entry, text, language string) (string, bool) {
	if !prompts.NeedsTranslation(language) {
		return text, false
	}
	start := time.Now()
	res := s.client.Complete(ctx, gemini.Request{
		Prompt: prompts.Translation(text, language),
		Model:  s.models.Fast,
	})
	s.metrics.ObserveStage("translation", time.Since(start))
	if !res.OK() || strings.TrimSpace(res.Text) == "" {
		if res.Err != nil {
			logger.WithField("kind", res.Err.Kind).Warn("translation failed, returning original text")
		}
		s.metrics.ObserveTranslationFallback()
		s.metrics.ObserveIndicator(IndicatorTranslationFallback)
		return text, false
	}
	return res.Text, true
}

func parseGateDecision(raw string) (bool, error) {
	var decision map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &decision); err != nil {
		return false, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	v, ok := decision[prompts.GateKey]
	if !ok {
		return false, fmt.Errorf("%w: missing %s", ErrClassification, prompts.GateKey)
	}
	var isMedical bool
	if err := json.Unmarshal(v, &isMedical); err != nil {
		return false, fmt.Errorf("%w: %s is not a boolean", ErrClassification, prompts.GateKey)
	}
	return isMedical, nil
}

// stripCodeFence tolerates ```json fenced output.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
