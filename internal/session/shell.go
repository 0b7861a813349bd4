package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// promptSuffixes end the output of one command on an interactive network CLI.
var promptSuffixes = []string{">", "#", "assword:", "[confirm]", "[yes/no]:"}

// IsPrompt reports whether the last line of out looks like a CLI prompt.
func IsPrompt(out string) bool {
	trimmed := strings.TrimRight(out, " \t\r\n")
	if trimmed == "" {
		return false
	}

	last := trimmed
	if i := strings.LastIndexAny(trimmed, "\r\n"); i >= 0 {
		last = trimmed[i+1:]
	}

	for _, suffix := range promptSuffixes {
		if strings.HasSuffix(last, suffix) {
			return true
		}
	}

	return false
}

type sshShell struct {
	sess    *ssh.Session
	stdin   io.WriteCloser
	out     *promptBuffer
	timeout time.Duration
}

func (sh *sshShell) Send(ctx context.Context, line string) (string, error) {
	sh.out.Reset()

	if _, err := io.WriteString(sh.stdin, line+"\n"); err != nil {
		return "", fmt.Errorf("%w: write %q: %w", ErrProtocol, line, err)
	}

	return sh.waitPrompt(ctx, line)
}

// waitPrompt waits for a prompt after the echo of line. An echoed command that happens to end in
// '#' or '>' is not a prompt.
func (sh *sshShell) waitPrompt(ctx context.Context, line string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, sh.timeout)
	defer cancel()

	for {
		if rest, ok := afterEcho(sh.out.String(), line); ok && IsPrompt(rest) {
			return rest, nil
		}

		select {
		case <-sh.out.changed:
		case <-waitCtx.Done():
			return sh.out.String(), fmt.Errorf("%w after %s", ErrPromptTimeout, sh.timeout)
		}
	}
}

func (sh *sshShell) Close() error {
	_ = sh.stdin.Close()
	return sh.sess.Close()
}

// afterEcho drops the command line if the device echoed it back. ok is false while the echo is
// still arriving.
func afterEcho(out, line string) (string, bool) {
	trimmed := strings.TrimLeft(out, "\r\n")
	if line == "" {
		return trimmed, true
	}

	if strings.HasPrefix(trimmed, line) {
		return strings.TrimLeft(trimmed[len(line):], "\r\n"), true
	}

	if partial := strings.TrimRight(trimmed, "\r\n"); partial != "" && strings.HasPrefix(line, partial) {
		return "", false
	}

	return trimmed, true
}

// promptBuffer collects shell output and signals every write.
type promptBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	changed chan struct{}
}

func newPromptBuffer() *promptBuffer {
	return &promptBuffer{changed: make(chan struct{}, 1)}
}

func (b *promptBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	n, err := b.buf.Write(p)
	b.mu.Unlock()

	select {
	case b.changed <- struct{}{}:
	default:
	}

	return n, err
}

func (b *promptBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func (b *promptBuffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

// syncBuffer lets stdout and stderr copy into one buffer from separate goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
