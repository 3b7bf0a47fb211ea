// Package notify pushes live analysis events to a websocket listener as
// JSON-RPC 2.0 notifications.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/mikeyg42/videoscope/internal/aggregate"
	"github.com/mikeyg42/videoscope/internal/config"
	"github.com/mikeyg42/videoscope/internal/report"
)

// JSON-RPC methods sent to listeners.
const (
	MethodAnomaly   = "anomaly.detected"
	MethodCompleted = "run.completed"
)

const writeTimeout = 5 * time.Second

// ErrClosed is returned after Close.
var ErrClosed = errors.New("notify: connection closed")

// Notifier receives run events.
type Notifier interface {
	NotifyAnomaly(ctx context.Context, ev aggregate.AnomalyEvent) error
	NotifyCompleted(ctx context.Context, r *report.Report) error
	Close() error
}

// AnomalyParams is the payload of anomaly.detected.
type AnomalyParams struct {
	RunID string `json:"run_id"`
	aggregate.AnomalyEvent
}

// CompletedParams is the payload of run.completed.
type CompletedParams struct {
	RunID          string         `json:"run_id"`
	Frames         int            `json:"total_frames_analyzed"`
	AnomaliesCount int            `json:"anomalies_count"`
	Interrupted    bool           `json:"interrupted"`
	Summary        report.Summary `json:"summary"`
}

// WebSocket sends notifications over one websocket connection.
type WebSocket struct {
	conn   *websocket.Conn
	runID  string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Dial connects to cfg.WebSocketURL, retrying with exponential backoff.
func Dial(ctx context.Context, cfg config.NotifyConfig, runID string) (*WebSocket, error) {
	if cfg.WebSocketURL == "" {
		return nil, errors.New("notify: websocket url is empty")
	}
	logger := zap.L().Named("notify")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.DialTimeout,
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 250 * time.Millisecond
	ebo.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(max(cfg.MaxRetries, 0))), ctx)

	var conn *websocket.Conn
	attempt := 0
	op := func() error {
		attempt++
		c, resp, err := dialer.DialContext(ctx, cfg.WebSocketURL, nil)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err))
			}
			logger.Debug("websocket dial failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("notify: dial %s: %w", cfg.WebSocketURL, err)
	}

	ws := &WebSocket{
		conn:   conn,
		runID:  runID,
		logger: logger,
		done:   make(chan struct{}),
	}
	go ws.drain()

	logger.Info("connected to anomaly listener", zap.String("url", cfg.WebSocketURL), zap.Int("attempts", attempt))
	return ws, nil
}

// drain reads and discards incoming frames so control messages are handled.
func (w *WebSocket) drain() {
	defer close(w.done)
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// NotifyAnomaly sends anomaly.detected.
func (w *WebSocket) NotifyAnomaly(ctx context.Context, ev aggregate.AnomalyEvent) error {
	return w.send(ctx, MethodAnomaly, AnomalyParams{RunID: w.runID, AnomalyEvent: ev})
}

// NotifyCompleted sends run.completed with the report summary.
func (w *WebSocket) NotifyCompleted(ctx context.Context, r *report.Report) error {
	return w.send(ctx, MethodCompleted, CompletedParams{
		RunID:          r.RunID,
		Frames:         r.TotalFramesAnalyzed,
		AnomaliesCount: r.AnomaliesCount,
		Interrupted:    r.Interrupted,
		Summary:        r.Summary,
	})
}

func (w *WebSocket) send(ctx context.Context, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", method, err)
	}
	msg, err := json.Marshal(&jsonrpc2.Request{
		Method: method,
		Params: (*json.RawMessage)(&raw),
		Notif:  true,
	})
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", method, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("notify: set deadline: %w", err)
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("notify: write %s: %w", method, err)
	}
	return nil
}

// Close sends a close frame and releases the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(time.Second))
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(time.Second):
	}
	return w.conn.Close()
}

// Nop discards every notification.
type Nop struct{}

func (Nop) NotifyAnomaly(context.Context, aggregate.AnomalyEvent) error { return nil }
func (Nop) NotifyCompleted(context.Context, *report.Report) error { return nil }
func (Nop) Close() error { return nil }
