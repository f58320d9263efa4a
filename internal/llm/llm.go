// Package llm manages a persistent interactive LLM subprocess
// (conversation mode), speaking a line-oriented protocol terminated by
// a literal "> " or "\n> " prompt marker. No pack example manages an
// interactive stdin/stdout subprocess (see DESIGN.md); this is built
// directly on os/exec + bufio per spec §4.6.
package llm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voxcore/internal/orchestrator"
)

const (
	promptMarker    = "\n> "
	promptMarkerAlt = "> "
	clearDirective  = "/clear"
	exitDirective   = "/exit"
)

// Process is a persistent interactive LLM subprocess.
type Process struct {
	executable string
	args       []string
	readyWait  time.Duration
	replyWait  time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	ready   bool
	busy    bool
	cancelc chan struct{}
}

// NewProcess constructs a Process that will spawn executable with
// exactly args. No flags are added: conversation mode, prompt-echo,
// timing-summary and reply-token-cap settings are not set by Process.
// readyWait bounds the initial prompt-marker wait; replyWait bounds
// each chat's wait for the next prompt marker.
func NewProcess(executable string, args []string, readyWait, replyWait time.Duration) *Process {
	return &Process{executable: executable, args: args, readyWait: readyWait, replyWait: replyWait}
}

// Initialize spawns the subprocess and waits for the initial prompt
// marker.
func (p *Process) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.CommandContext(ctx, p.executable, p.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return orchestrator.NewError(orchestrator.KindInitializationFailed, "llm stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return orchestrator.NewError(orchestrator.KindInitializationFailed, "llm stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return orchestrator.NewError(orchestrator.KindInitializationFailed, "start llm subprocess", err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = bufio.NewReader(stdout)

	if err := p.awaitPromptLocked(p.readyWait); err != nil {
		cmd.Process.Kill()
		return orchestrator.NewError(orchestrator.KindInitializationFailed, "initial prompt not observed", err)
	}
	p.ready = true
	return nil
}

// Name satisfies orchestrator.Llm.
func (p *Process) Name() string { return "llm_process" }

// Chat writes userMessage followed by newline and accumulates stdout
// until the next prompt marker, returning the cleaned response.
func (p *Process) Chat(ctx context.Context, userMessage string) (string, error) {
	if err := p.beginRequest(); err != nil {
		return "", err
	}
	defer p.endRequest()

	if err := p.writeLine(userMessage); err != nil {
		return "", err
	}

	raw, err := p.readUntilPromptLocked(ctx, p.replyWait)
	if err != nil {
		return "", err
	}
	return cleanResponse(raw), nil
}

// ChatStream writes userMessage and emits cleaned incremental chunks
// as stdout arrives, closing the channel on the next prompt marker.
// CancelStream closes the consumer-visible channel immediately; the
// subprocess is allowed to finish generating and the trailing prompt
// marker is drained before any subsequent call, preserving the
// at-most-one-outstanding-request invariant.
func (p *Process) ChatStream(ctx context.Context, userMessage string) (<-chan string, error) {
	if err := p.beginRequest(); err != nil {
		return nil, err
	}

	if err := p.writeLine(userMessage); err != nil {
		p.endRequest()
		return nil, err
	}

	out := make(chan string, 16)
	cancelc := make(chan struct{})
	p.mu.Lock()
	p.cancelc = cancelc
	p.mu.Unlock()

	go func() {
		defer close(out)
		defer p.endRequest()

		var pending strings.Builder
		buf := make([]byte, 4096)
		for {
			select {
			case <-cancelc:
				p.drainToPromptLocked()
				return
			default:
			}

			n, err := p.stdout.Read(buf)
			if n > 0 {
				pending.Write(buf[:n])
				s := pending.String()
				if idx := findPromptMarker(s); idx >= 0 {
					chunk := cleanResponse(s[:idx])
					if chunk != "" {
						select {
						case out <- chunk:
						case <-cancelc:
						}
					}
					return
				}
				select {
				case out <- cleanResponse(s):
					pending.Reset()
				case <-cancelc:
					p.drainToPromptLocked()
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return out, nil
}

// CancelStream closes the consumer-visible stream immediately. The
// child process is allowed to finish the in-flight generation and the
// next prompt marker is consumed before any subsequent call.
func (p *Process) CancelStream() {
	p.mu.Lock()
	c := p.cancelc
	p.cancelc = nil
	p.mu.Unlock()
	if c != nil {
		close(c)
	}
}

// ClearContext sends the /clear directive and consumes output up to
// the next prompt marker.
func (p *Process) ClearContext(ctx context.Context) error {
	if err := p.beginRequest(); err != nil {
		return err
	}
	defer p.endRequest()

	if err := p.writeLine(clearDirective); err != nil {
		return err
	}
	_, err := p.readUntilPromptLocked(ctx, p.replyWait)
	return err
}

// Shutdown sends /exit, closes stdin, waits briefly, then kills the
// process if it hasn't exited.
func (p *Process) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	p.writeLineLocked(exitDirective)
	p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		p.cmd.Process.Kill()
		<-done
	}
	p.ready = false
	return nil
}

func (p *Process) beginRequest() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return orchestrator.NewError(orchestrator.KindNotReady, "llm process not ready", nil)
	}
	if p.busy {
		return orchestrator.NewError(orchestrator.KindNotReady, "request already in flight", nil)
	}
	p.busy = true
	return nil
}

func (p *Process) endRequest() {
	p.mu.Lock()
	p.busy = false
	p.cancelc = nil
	p.mu.Unlock()
}

func (p *Process) writeLine(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLineLocked(s)
}

func (p *Process) writeLineLocked(s string) error {
	_, err := io.WriteString(p.stdin, s+"\n")
	return err
}

func (p *Process) awaitPromptLocked(timeout time.Duration) error {
	_, err := p.readUntilPromptLocked(context.Background(), timeout)
	return err
}

func (p *Process) readUntilPromptLocked(ctx context.Context, timeout time.Duration) (string, error) {
	type result struct {
		s   string
		err error
	}
	resc := make(chan result, 1)
	go func() {
		var sb strings.Builder
		buf := make([]byte, 4096)
		for {
			n, err := p.stdout.Read(buf)
			if n > 0 {
				sb.Write(buf[:n])
				if idx := findPromptMarker(sb.String()); idx >= 0 {
					resc <- result{s: sb.String()[:idx]}
					return
				}
			}
			if err != nil {
				resc <- result{err: err}
				return
			}
		}
	}()

	select {
	case r := <-resc:
		return r.s, r.err
	case <-time.After(timeout):
		return "", orchestrator.NewError(orchestrator.KindTimeout, "timeout waiting for prompt marker", nil)
	case <-ctx.Done():
		return "", orchestrator.NewError(orchestrator.KindTimeout, "cancelled waiting for prompt marker", fmt.Errorf("%w: %v", orchestrator.ErrContextCancelled, ctx.Err()))
	}
}

// drainToPromptLocked consumes stdout until the next prompt marker
// without surfacing it to any caller, restoring readiness after a
// cancelled stream.
func (p *Process) drainToPromptLocked() {
	buf := make([]byte, 4096)
	var sb strings.Builder
	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
			if findPromptMarker(sb.String()) >= 0 {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func findPromptMarker(s string) int {
	if idx := strings.Index(s, promptMarker); idx >= 0 {
		return idx
	}
	if strings.HasSuffix(s, promptMarkerAlt) {
		return len(s) - len(promptMarkerAlt)
	}
	return -1
}

// cleanResponse strips optional "| " line prefixes and control/
// backspace bytes, then trims.
func cleanResponse(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, "| ")
	}
	s = strings.Join(lines, "\n")

	var sb strings.Builder
	for _, r := range s {
		if r == '\b' || r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.TrimSpace(sb.String())
}
