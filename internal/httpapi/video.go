package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/aidex/internal/logging"
	"github.com/ent0n29/aidex/internal/protocol"
)

const (
	videoReadLimit = 8 << 20
	// A client that answers neither frames nor pings for this long is dropped.
	defaultVideoIdleTimeout  = 120 * time.Second
	defaultVideoPingInterval = 30 * time.Second
	videoWriteTimeout        = 10 * time.Second
	// Close reasons must fit a control frame.
	maxCloseReasonBytes = 123
)

func (s *Server) handleVideoWS(w http.ResponseWriter, r *http.Request) {
	if s.vision == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "vision orchestrator not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	logger := logging.FromContext(r.Context())
	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Unbuffered: the reader waits while a frame is being analysed.
	inbound := make(chan []byte)
	outbound := make(chan protocol.VideoAnalysis, 1)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.runVision(ctx, inbound, outbound); err != nil {
			logger.WithError(err).Error("video websocket failed")
			closeWithError(conn, err)
			cancel()
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(s.videoPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(videoWriteTimeout)); err != nil {
					s.metrics.ObserveWSWriteError("ping")
					cancel()
					_ = conn.Close()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(videoWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveWSWriteError("write_json")
					cancel()
					_ = conn.Close()
					return
				}
				s.metrics.ObserveWSMessage("outbound", "video_analysis")
			}
		}
	}()

	conn.SetReadLimit(videoReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.videoIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.videoIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				logger.WithError(err).Debug("video websocket read ended")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.videoIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- data:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

// runVision converts a panic in the analysis loop into an error so the
// connection can be closed with an internal-error status.
func (s *Server) runVision(ctx context.Context, inbound <-chan []byte, outbound chan<- protocol.VideoAnalysis) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.vision.RunConnection(ctx, inbound, outbound)
}

func closeWithError(conn *websocket.Conn, cause error) {
	reason := "An internal error occurred: " + cause.Error()
	if len(reason) > maxCloseReasonBytes {
		reason = strings.ToValidUTF8(reason[:maxCloseReasonBytes], "")
	}
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
