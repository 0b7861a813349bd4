// Package session opens authenticated SSH sessions and runs commands over them.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"credsweep/internal/logger"
	"credsweep/internal/model"
)

const (
	DefaultPort    = 22
	DefaultTimeout = 10 * time.Second
)

// Dialer opens one session per call. Implementations must bound every network operation.
type Dialer interface {
	Dial(ctx context.Context, addr netip.Addr, cred model.Credential) (Session, error)
}

// Session is owned by the worker that dialed it and must be closed by that worker.
type Session interface {
	// Exec runs cmd on its own channel and returns combined output. stdin may be empty.
	Exec(ctx context.Context, cmd, stdin string) (string, error)
	// Shell opens an interactive shell, for CLIs that keep mode between commands.
	Shell(ctx context.Context) (Shell, error)
	Close() error
}

type Shell interface {
	// Send writes one line and returns what the device printed up to the next prompt.
	Send(ctx context.Context, line string) (string, error)
	Close() error
}

type DialerOptions struct {
	Port             int
	Timeout          time.Duration
	CommandTimeout   time.Duration
	KnownHostsFile   string
	LegacyAlgorithms bool
}

// SSHDialer dials with password and keyboard-interactive auth.
type SSHDialer struct {
	opts     DialerOptions
	hostKeys ssh.HostKeyCallback
	logger   logger.Logger
}

var _ Dialer = (*SSHDialer)(nil)

func NewSSHDialer(opts DialerOptions, log logger.Logger) (*SSHDialer, error) {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = opts.Timeout
	}

	hostKeys := ssh.InsecureIgnoreHostKey()

	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}

		hostKeys = cb
	}

	return &SSHDialer{opts: opts, hostKeys: hostKeys, logger: log.WithComponent("session")}, nil
}

func (d *SSHDialer) clientConfig(cred model.Credential) *ssh.ClientConfig {
	password := cred.Password

	cfg := &ssh.ClientConfig{
		User: cred.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}

				return answers, nil
			}),
		},
		HostKeyCallback: d.hostKeys,
		Timeout:         d.opts.Timeout,
	}

	if d.opts.LegacyAlgorithms {
		supported, insecure := ssh.SupportedAlgorithms(), ssh.InsecureAlgorithms()
		cfg.KeyExchanges = append(supported.KeyExchanges, insecure.KeyExchanges...)
		cfg.Ciphers = append(supported.Ciphers, insecure.Ciphers...)
		cfg.MACs = append(supported.MACs, insecure.MACs...)
		cfg.HostKeyAlgorithms = append(supported.HostKeys, insecure.HostKeys...)
	}

	return cfg
}

func (d *SSHDialer) Dial(ctx context.Context, addr netip.Addr, cred model.Credential) (Session, error) {
	target := net.JoinHostPort(addr.String(), strconv.Itoa(d.opts.Port))

	dialCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	var nd net.Dialer

	conn, err := nd.DialContext(dialCtx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	// The handshake shares the dial budget; a host that accepts TCP and then stalls is a
	// protocol failure, not a hang.
	if err := conn.SetDeadline(time.Now().Add(d.opts.Timeout)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	stop := context.AfterFunc(dialCtx, func() { _ = conn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(conn, target, d.clientConfig(cred))

	stop()

	if err != nil {
		_ = conn.Close()
		return nil, classifyHandshake(err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	d.logger.Debug().Str("ip", addr.String()).Str("user", cred.Username).Msg("session established")

	return &sshSession{
		client:         ssh.NewClient(c, chans, reqs),
		commandTimeout: d.opts.CommandTimeout,
		logger:         d.logger.WithField("ip", addr.String()),
	}, nil
}

// classifyHandshake separates rejected credentials from every other handshake failure.
// x/crypto/ssh reports auth exhaustion only through the message text.
func classifyHandshake(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

type sshSession struct {
	client         *ssh.Client
	commandTimeout time.Duration
	logger         logger.Logger
}

func (s *sshSession) Exec(ctx context.Context, cmd, stdin string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: open channel: %w", ErrProtocol, err)
	}
	defer sess.Close()

	var out syncBuffer

	sess.Stdout = &out
	sess.Stderr = &out

	if stdin != "" {
		sess.Stdin = strings.NewReader(stdin)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- sess.Run(cmd)
	}()

	select {
	case err = <-done:
	case <-cmdCtx.Done():
		_ = sess.Close()
		return out.String(), fmt.Errorf("%w: %q after %s", ErrCommandTimeout, cmd, s.commandTimeout)
	}

	output := out.String()

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return output, &ExitError{Command: cmd, Status: exitErr.ExitStatus(), Output: output}
		}

		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			// Some network CLIs close exec channels without an exit-status.
			return output, nil
		}

		return output, fmt.Errorf("%w: %q: %w", ErrProtocol, cmd, err)
	}

	return output, nil
}

func (s *sshSession) Shell(ctx context.Context) (Shell, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %w", ErrProtocol, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}

	if err := sess.RequestPty("vt100", 0, 200, modes); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: request pty: %w", ErrProtocol, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: stdin: %w", ErrProtocol, err)
	}

	out := newPromptBuffer()
	sess.Stdout = out
	sess.Stderr = out

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: start shell: %w", ErrProtocol, err)
	}

	sh := &sshShell{sess: sess, stdin: stdin, out: out, timeout: s.commandTimeout}

	if _, err := sh.waitPrompt(ctx, ""); err != nil {
		_ = sh.Close()
		return nil, err
	}

	return sh, nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
