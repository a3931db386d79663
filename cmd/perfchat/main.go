package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/aidex/internal/protocol"
)

type options struct {
	baseURL        string
	sessionID      string
	language       string
	turns          int
	frames         int
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultUtterances = []string{
	"I have had a headache since this morning.",
	"It gets worse when I look at screens.",
	"What's the capital of France?",
	"I also feel a bit dizzy when I stand up.",
}

// Bare SOI/EOI markers; enough to exercise the frame path end to end.
var sampleJPEG = []byte{0xff, 0xd8, 0xff, 0xd9}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	fs := flag.NewFlagSet("perfchat", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "Aidex base URL")
	fs.StringVar(&cfg.sessionID, "session-id", "", "session_id for the replay (default: generated)")
	fs.StringVar(&cfg.language, "language", "en", "language code sent with every turn")
	fs.IntVar(&cfg.turns, "turns", 8, "number of chat turns to replay")
	fs.IntVar(&cfg.frames, "frames", 0, "number of video frames to send over /ws/video after the chat replay")
	fs.IntVar(&startDelayMS, "start-delay-ms", 0, "delay before the first turn in milliseconds")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 200, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 90000, "timeout per turn in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns < 0 || cfg.frames < 0 {
		return options{}, fmt.Errorf("turns and frames must be >= 0")
	}
	if cfg.turns == 0 && cfg.frames == 0 {
		return options{}, fmt.Errorf("nothing to replay: turns and frames are both 0")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	if strings.TrimSpace(cfg.sessionID) == "" {
		cfg.sessionID = fmt.Sprintf("perfchat-%d", time.Now().UnixNano())
	}

	texts, err := splitTexts(textsRaw)
	if err != nil {
		return options{}, err
	}
	cfg.texts = texts
	return cfg, nil
}

func splitTexts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultUtterances...), nil
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("texts produced no non-empty utterances")
	}
	return out, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.turnTimeout}
	if cfg.verbose {
		fmt.Printf("perfchat: session=%s turns=%d frames=%d language=%s\n", cfg.sessionID, cfg.turns, cfg.frames, cfg.language)
	}
	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	var latencies []time.Duration
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		reply, err := sendChat(ctx, httpClient, cfg, text)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		elapsed := time.Since(start)
		latencies = append(latencies, elapsed)
		if cfg.verbose {
			fmt.Printf("perfchat: turn %d/%d %s text=%q reply=%q\n", i+1, cfg.turns, elapsed.Truncate(time.Millisecond), text, preview(reply, 80))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	if len(latencies) > 0 {
		fmt.Printf("perfchat: chat %s\n", summarize(latencies))
	}

	if cfg.frames > 0 {
		frameLatencies, err := replayFrames(ctx, cfg)
		if err != nil {
			return fmt.Errorf("video replay: %w", err)
		}
		fmt.Printf("perfchat: video %s\n", summarize(frameLatencies))
	}

	if cfg.verbose {
		if err := printServerStages(ctx, httpClient, cfg.baseURL); err != nil {
			fmt.Fprintf(os.Stderr, "perfchat: fetch stage latency: %v\n", err)
		}
		fmt.Println("perfchat: replay completed")
	}
	return nil
}

func sendChat(ctx context.Context, client *http.Client, cfg options, text string) (string, error) {
	payload, err := json.Marshal(protocol.ChatRequest{
		Message:   text,
		SessionID: cfg.sessionID,
		Language:  cfg.language,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Reply string `json:"reply"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("server error: %s", out.Error)
	}
	return out.Reply, nil
}

func replayFrames(ctx context.Context, cfg options) ([]time.Duration, error) {
	wsURL, err := videoWSURL(cfg.baseURL)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	frame := protocol.VideoFrame{
		Image:  "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(sampleJPEG),
		Prompt: "Describe the lighting in this frame.",
	}

	latencies := make([]time.Duration, 0, cfg.frames)
	for i := 0; i < cfg.frames; i++ {
		start := time.Now()
		if err := conn.WriteJSON(frame); err != nil {
			return nil, fmt.Errorf("frame %d send: %w", i+1, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.turnTimeout))
		var out protocol.VideoAnalysis
		if err := conn.ReadJSON(&out); err != nil {
			return nil, fmt.Errorf("frame %d read: %w", i+1, err)
		}
		elapsed := time.Since(start)
		latencies = append(latencies, elapsed)
		if cfg.verbose {
			fmt.Printf("perfchat: frame %d/%d %s analysis=%s\n", i+1, cfg.frames, elapsed.Truncate(time.Millisecond), describeAnalysis(out.Analysis))
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return latencies, nil
}

func videoWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/video"
	return u.String(), nil
}

func printServerStages(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	var snapshot struct {
		Stages []struct {
			Stage   string  `json:"stage"`
			Samples int     `json:"samples"`
			P50MS   float64 `json:"p50_ms"`
			P95MS   float64 `json:"p95_ms"`
		} `json:"stages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&snapshot); err != nil {
		return err
	}
	for _, s := range snapshot.Stages {
		fmt.Printf("perfchat: server stage=%s samples=%d p50=%.0fms p95=%.0fms\n", s.Stage, s.Samples, s.P50MS, s.P95MS)
	}
	return nil
}

func describeAnalysis(v any) string {
	switch a := v.(type) {
	case string:
		return fmt.Sprintf("%q", preview(a, 60))
	case map[string]any:
		return fmt.Sprintf("error=%v", a["error"])
	default:
		return fmt.Sprintf("%v", a)
	}
}

func preview(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}

// summarize reports count, p50, p95 and max using nearest-rank percentiles.
func summarize(latencies []time.Duration) string {
	if len(latencies) == 0 {
		return "n=0"
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return fmt.Sprintf("n=%d p50=%s p95=%s max=%s",
		len(sorted),
		percentile(sorted, 50).Truncate(time.Millisecond),
		percentile(sorted, 95).Truncate(time.Millisecond),
		sorted[len(sorted)-1].Truncate(time.Millisecond),
	)
}

func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
