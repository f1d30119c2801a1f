package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentmux/agentmux/pkg/worker"
)

// webhookTimeout bounds an on-complete webhook call.
const webhookTimeout = 15 * time.Second

// dispatchWebhook performs the on-complete HTTP call. Failures are logged
// and dropped; the completion already happened and is not rolled back.
func (m *Manager) dispatchWebhook(completedID string, action *worker.OnComplete) {
	if action.URL == "" {
		slog.Warn("onComplete webhook without a URL", "worker_id", completedID)
		return
	}
	method := action.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if action.Body != nil {
		data, err := json.Marshal(action.Body)
		if err != nil {
			slog.Warn("onComplete webhook body marshal failed", "worker_id", completedID, "error", err)
			return
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(m.baseCtx(), webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, action.URL, body)
	if err != nil {
		slog.Warn("onComplete webhook request invalid", "worker_id", completedID, "error", err)
		return
	}
	if action.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range action.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Warn("onComplete webhook failed", "worker_id", completedID, "url", action.URL, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	slog.Info("onComplete webhook dispatched",
		"worker_id", completedID, "url", action.URL, "status", resp.StatusCode)
}
