package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RemoteAdapter drives a remote engine service over HTTP instead of a local
// subprocess. Requests are idempotent, keyed by thread_ts, so the interrupt
// path can address the in-flight call by the same key (a cancel POST to
// /interrupt/<thread_ts>), grounded on the teacher's registerSessionContext
// HTTP-POST-with-short-timeout pattern in internal/bridge/bridge.go.
type RemoteAdapter struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRemoteAdapter constructs a RemoteAdapter against baseURL, authenticated
// with token (sent as a bearer header).
func NewRemoteAdapter(baseURL, token string, logger zerolog.Logger) *RemoteAdapter {
	return &RemoteAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{}, // per-request timeout comes from callCtx
		logger:  logger.With().Str("component", "engine_remote").Logger(),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Interrupt sends the interrupt request on its own goroutine and returns
// immediately.
func (a *RemoteAdapter) Interrupt(threadTS string) {
	go a.sendInterrupt(threadTS)
}

func (a *RemoteAdapter) sendInterrupt(threadTS string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := fmt.Sprintf("%s/interrupt/%s", a.baseURL, threadTS)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return
	}
	a.authorize(req)
	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug().Err(err).Str("thread_ts", threadTS).Msg("interrupt request failed, best-effort only")
		return
	}
	resp.Body.Close()

	a.mu.Lock()
	if cancel, ok := a.cancels[threadTS]; ok {
		cancel()
	}
	a.mu.Unlock()
}

func (a *RemoteAdapter) authorize(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}

type remoteInvokeBody struct {
	ThreadTS      string   `json:"thread_ts"`
	Prompt        string   `json:"prompt"`
	SessionID     string   `json:"session_id,omitempty"`
	Role          string   `json:"role"`
	AllowTools    []string `json:"allow_tools,omitempty"`
	DenyTools     []string `json:"deny_tools,omitempty"`
	MCPConfigPath string   `json:"mcp_config_path,omitempty"`
}

func (a *RemoteAdapter) Invoke(ctx context.Context, req InvokeRequest, onProgress OnProgress, onCompact OnCompact) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.mu.Lock()
	a.cancels[req.ThreadTS] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.cancels, req.ThreadTS)
		a.mu.Unlock()
	}()

	body := remoteInvokeBody{
		ThreadTS:      req.ThreadTS,
		Prompt:        req.Prompt,
		SessionID:     req.SessionID,
		Role:          string(req.Role),
		AllowTools:    req.Policy.Allow,
		DenyTools:     req.Policy.Deny,
		MCPConfigPath: req.Policy.MCPConfigPath,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling remote invoke body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, a.baseURL+"/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building remote invoke request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-ndjson")
	// Idempotency-Key lets a retried POST rebind to the same in-flight
	// call on the remote side instead of starting a duplicate one.
	httpReq.Header.Set("Idempotency-Key", req.ThreadTS)
	a.authorize(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return errorResult(req.SessionID, "timeout", false), nil
		}
		return errorResult(req.SessionID, "engine unavailable", false), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errorResult(req.SessionID, fmt.Sprintf("engine returned status %d", resp.StatusCode), false), nil
	}

	var (
		sessionID   = req.SessionID
		accumulated strings.Builder
		lastEmit    time.Time
		final       *Event
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		ev, perr := ParseLine(line)
		if perr != nil || ev == nil {
			continue
		}
		switch ev.Type {
		case EventSystem:
			sessionID = ev.SessionID
		case EventAssistant:
			accumulated.WriteString(ev.Text)
			if onProgress != nil && time.Since(lastEmit) >= 2*time.Second {
				onProgress(accumulated.String())
				lastEmit = time.Now()
			}
		case EventCompact:
			if onCompact != nil {
				onCompact(ev.CompactTrigger, ev.CompactMessage)
			}
		case EventResult:
			final = ev
		}
	}

	if callCtx.Err() == context.Canceled {
		if final != nil {
			return buildResult(final.Result, orDefault(final.SessionID, sessionID), final.Usage, true), nil
		}
		return errorResult(sessionID, "interrupted", true), nil
	}
	if final == nil {
		return errorResult(sessionID, "engine stream ended without a result", false), nil
	}
	return buildResult(final.Result, orDefault(final.SessionID, sessionID), final.Usage, final.Interrupted), nil
}
