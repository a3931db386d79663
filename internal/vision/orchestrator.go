// Package vision analyses webcam frames received over a websocket connection.
package vision

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/aidex/internal/gemini"
	"github.com/ent0n29/aidex/internal/observability"
	"github.com/ent0n29/aidex/internal/policy"
	"github.com/ent0n29/aidex/internal/prompts"
	"github.com/ent0n29/aidex/internal/protocol"
)

// Indicators reported for frames that did not produce a normal analysis.
const (
	IndicatorFrameSkipped = "video_frame_skipped"
	IndicatorFrameInvalid = "video_frame_invalid"
	IndicatorFrameFailed  = "video_analysis_failed"
)

type Orchestrator struct {
	client  gemini.Client
	model   string
	metrics *observability.Metrics
}

func NewOrchestrator(client gemini.Client, model string, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		client:  client,
		model:   model,
		metrics: metrics,
	}
}

// RunConnection processes inbound frames one at a time and emits exactly one
// analysis per frame that carries an image. It returns when inbound is closed
// or ctx ends.
func (o *Orchestrator) RunConnection(ctx context.Context, inbound <-chan []byte, outbound chan<- protocol.VideoAnalysis) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			o.metrics.ObserveWSMessage("inbound", "video_frame")
			analysis, ok := o.Analyze(ctx, raw)
			if !ok {
				o.metrics.ObserveSessionEvent("video_frame_skipped")
				o.metrics.ObserveIndicator(IndicatorFrameSkipped)
				continue
			}
			select {
			case outbound <- analysis:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Analyze handles one raw frame. ok is false when the frame has no image and
// nothing should be sent back.
func (o *Orchestrator) Analyze(ctx context.Context, raw []byte) (protocol.VideoAnalysis, bool) {
	frame, err := protocol.ParseVideoFrame(raw)
	if err != nil {
		o.metrics.ObserveIndicator(IndicatorFrameInvalid)
		return protocol.AnalysisFailure("%v", err), true
	}
	if strings.TrimSpace(frame.Image) == "" {
		return protocol.VideoAnalysis{}, false
	}
	image, err := DecodeImage(frame.Image)
	if err != nil {
		o.metrics.ObserveIndicator(IndicatorFrameInvalid)
		return protocol.AnalysisFailure("invalid image encoding: %v", err), true
	}

	log.WithField("bytes", len(image)).Debugf("video frame received: %q", policy.LogPreview(frame.Prompt, 80))

	start := time.Now()
	res := o.client.Complete(ctx, gemini.Request{
		Prompt: prompts.Visual(frame.Prompt),
		Model:  o.model,
		Image:  image,
	})
	o.metrics.ObserveStage("visual_analysis", time.Since(start))
	if !res.OK() {
		log.WithField("kind", res.Err.Kind).Warnf("visual analysis failed: %s", res.Err.Message)
		o.metrics.ObserveIndicator(IndicatorFrameFailed)
		return protocol.AnalysisFailure("%s", res.Err.Message), true
	}
	return protocol.AnalysisText(res.Text), true
}

// DecodeImage accepts plain base64 or a data URL ("data:image/jpeg;base64,...").
func DecodeImage(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	image, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some browsers drop the padding.
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, err
	}
	return image, nil
}
