package engine

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SubprocessAdapter spawns the engine binary as a local subprocess per
// call, one process per InvokeRequest, and streams its stdout as the
// line-delimited JSON protocol described in spec §6. Grounded on the
// exec.CommandContext + streaming pattern of the teacher's bridge.go and
// wsbridge.go — the same "spawn, stream, throttle progress" shape, adapted
// from an external CLI wrapper to this system's own engine protocol.
type SubprocessAdapter struct {
	bin              string
	progressThrottle time.Duration
	logger           zerolog.Logger
	debugTrace       func(line string) // non-JSON lines, appended to debug trace

	mu      sync.Mutex
	running map[string]context.CancelFunc // thread_ts → cancel for the in-flight call
}

// NewSubprocessAdapter constructs a SubprocessAdapter invoking bin.
func NewSubprocessAdapter(bin string, progressThrottle time.Duration, logger zerolog.Logger, debugTrace func(line string)) *SubprocessAdapter {
	return &SubprocessAdapter{
		bin:              bin,
		progressThrottle: progressThrottle,
		logger:           logger.With().Str("component", "engine_subprocess").Logger(),
		debugTrace:       debugTrace,
		running:          make(map[string]context.CancelFunc),
	}
}

func (a *SubprocessAdapter) Interrupt(threadTS string) {
	a.mu.Lock()
	cancel, ok := a.running[threadTS]
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

func (a *SubprocessAdapter) Invoke(ctx context.Context, req InvokeRequest, onProgress OnProgress, onCompact OnCompact) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.mu.Lock()
	a.running[req.ThreadTS] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.running, req.ThreadTS)
		a.mu.Unlock()
	}()

	args := a.buildArgs(req)
	cmd := exec.CommandContext(callCtx, a.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errorResult(req.SessionID, "engine not found", false), nil
	}
	if err := cmd.Start(); err != nil {
		a.logger.Warn().Err(err).Str("bin", a.bin).Msg("engine binary not found")
		return errorResult(req.SessionID, "engine not found", false), nil
	}

	var (
		sessionID   = req.SessionID
		accumulated strings.Builder
		lastEmit    time.Time
		final       *Event
	)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		ev, perr := ParseLine(line)
		if perr != nil {
			if a.debugTrace != nil {
				a.debugTrace(string(line))
			}
			continue
		}
		if ev == nil {
			continue
		}
		switch ev.Type {
		case EventSystem:
			sessionID = ev.SessionID
		case EventAssistant:
			accumulated.WriteString(ev.Text)
			if onProgress != nil && time.Since(lastEmit) >= a.progressThrottle {
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

	waitErr := cmd.Wait()

	if callCtx.Err() == context.DeadlineExceeded {
		return errorResult(sessionID, "timeout", false), nil
	}
	if callCtx.Err() == context.Canceled {
		// Either the caller cancelled (process shutdown) or we fired an
		// interrupt; the round is reported as interrupted either way, using
		// the result event's output if one arrived before the cancel.
		if final != nil {
			return buildResult(final.Result, orDefault(final.SessionID, sessionID), final.Usage, true), nil
		}
		return errorResult(sessionID, "interrupted", true), nil
	}

	if final == nil {
		reason := "engine produced no result"
		if waitErr != nil {
			reason = fmt.Sprintf("engine exited: %v", waitErr)
		}
		return errorResult(sessionID, reason, false), nil
	}

	return buildResult(final.Result, orDefault(final.SessionID, sessionID), final.Usage, final.Interrupted), nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// buildArgs constructs the engine invocation's CLI arguments, including the
// role-derived tool policy and, for admin, the signed MCP configuration
// path.
func (a *SubprocessAdapter) buildArgs(req InvokeRequest) []string {
	args := []string{
		"--thread", req.ThreadTS,
		"--prompt", req.Prompt,
	}
	if req.SessionID != "" {
		args = append(args, "--session-id", req.SessionID)
	}
	if len(req.Policy.Allow) > 0 {
		args = append(args, "--allow-tools", strings.Join(req.Policy.Allow, ","))
	}
	if len(req.Policy.Deny) > 0 {
		args = append(args, "--deny-tools", strings.Join(req.Policy.Deny, ","))
	}
	if req.Policy.MCPConfigPath != "" {
		args = append(args, "--mcp-config", req.Policy.MCPConfigPath)
	}
	return args
}
