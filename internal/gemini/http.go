package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ent0n29/aidex/internal/observability"
	"github.com/ent0n29/aidex/internal/reliability"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultTimeout    = 60 * time.Second
	errorBodyLimit    = 4 << 10
	responseBodyLimit = 8 << 20
	retryBackoffBase  = 500 * time.Millisecond
	retryBackoffCap   = 8 * time.Second

	textPath = "candidates.0.content.parts.0.text"
)

// HTTPClient calls the generateContent REST endpoint with a query-string API key.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	client     *http.Client
	metrics    *observability.Metrics
}

func NewHTTPClient(cfg Config) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		timeout:    timeout,
		maxRetries: maxRetries,
		client:     &http.Client{},
		metrics:    cfg.Metrics,
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) Result {
	if c.apiKey == "" {
		return ErrorResult(KindMissingCredential, "GEMINI_API_KEY is not configured")
	}

	payload, err := buildPayload(req)
	if err != nil {
		return ErrorResult(KindTransportFailure, "build request: %v", err)
	}

	var res Result
	for attempt := 0; ; attempt++ {
		start := time.Now()
		var status int
		res, status = c.doOnce(ctx, req.Model, payload)
		c.metrics.ObserveUpstream(req.Model, outcomeLabel(res), time.Since(start))

		if res.OK() || attempt >= c.maxRetries {
			break
		}
		if !res.Is(KindUpstreamError) || !reliability.IsRetryableHTTPStatus(status) {
			break
		}
		wait := reliability.ExponentialBackoff(attempt, retryBackoffBase, retryBackoffCap)
		log.WithFields(log.Fields{
			"model":   req.Model,
			"status":  status,
			"attempt": attempt + 1,
			"wait":    wait,
		}).Warn("gemini: retrying upstream call")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrorResult(KindTransportFailure, "%v", ctx.Err())
		case <-timer.C:
		}
	}

	if !res.OK() {
		log.WithFields(log.Fields{
			"model": req.Model,
			"kind":  res.Err.Kind,
		}).Warnf("gemini call failed: %s", res.Err.Message)
	}
	return res
}

func (c *HTTPClient) doOnce(ctx context.Context, model string, payload []byte) (Result, int) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint(model), bytes.NewReader(payload))
	if err != nil {
		return ErrorResult(KindTransportFailure, "create request: %v", redactURLError(err)), 0
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpRes, err := c.client.Do(httpReq)
	if err != nil {
		return ErrorResult(KindTransportFailure, "send request: %v", redactURLError(err)), 0
	}
	defer httpRes.Body.Close()

	if httpRes.StatusCode < 200 || httpRes.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpRes.Body, errorBodyLimit))
		res := ErrorResult(KindUpstreamError, "status %d: %s", httpRes.StatusCode, strings.TrimSpace(string(body)))
		res.Err.StatusCode = httpRes.StatusCode
		return res, httpRes.StatusCode
	}

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, responseBodyLimit))
	if err != nil {
		return ErrorResult(KindTransportFailure, "read response: %v", redactURLError(err)), httpRes.StatusCode
	}
	return parseResponse(body), httpRes.StatusCode
}

func (c *HTTPClient) endpoint(model string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))
}

// buildPayload renders {contents:[{parts:[...]}], generationConfig?}.
func buildPayload(req Request) ([]byte, error) {
	payload := []byte(`{"contents":[{"parts":[]}]}`)
	var err error
	payload, err = sjson.SetBytes(payload, "contents.0.parts.-1", map[string]string{"text": req.Prompt})
	if err != nil {
		return nil, err
	}
	if len(req.Image) > 0 {
		payload, err = sjson.SetBytes(payload, "contents.0.parts.-1", map[string]any{
			"inline_data": map[string]string{
				"mime_type": ImageMimeType,
				"data":      base64.StdEncoding.EncodeToString(req.Image),
			},
		})
		if err != nil {
			return nil, err
		}
	}
	if req.JSON {
		payload, err = sjson.SetBytes(payload, "generationConfig.responseMimeType", "application/json")
		if err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// parseResponse extracts the first generated text segment.
func parseResponse(body []byte) Result {
	if !gjson.ValidBytes(body) {
		return ErrorResult(KindUnexpectedResponseShape, "response body is not valid JSON")
	}
	text := gjson.GetBytes(body, textPath)
	if !text.Exists() || text.Type != gjson.String {
		preview := string(body)
		if len(preview) > 256 {
			preview = preview[:256] + "..."
		}
		return ErrorResult(KindUnexpectedResponseShape, "missing %s in %s", textPath, preview)
	}
	return TextResult(text.String())
}

// redactURLError drops the request URL (which carries the API key) from net/http errors.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}

func outcomeLabel(res Result) string {
	if res.OK() {
		return "ok"
	}
	return string(res.Err.Kind)
}
