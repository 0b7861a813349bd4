// Package sshtest runs mock SSH devices that answer like a Linux host or a network CLI.
package sshtest

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
)

// Persona selects how the mock device answers.
type Persona int

const (
	PersonaUnix Persona = iota
	PersonaNetworkOS
	// PersonaSilent answers every command with empty output, so it cannot be classified.
	PersonaSilent
)

func (p Persona) String() string {
	switch p {
	case PersonaUnix:
		return "unix"
	case PersonaNetworkOS:
		return "network_os"
	case PersonaSilent:
		return "silent"
	}

	return fmt.Sprintf("persona(%d)", int(p))
}

var ErrUnauthorized = errors.New("unauthorized")

type Options struct {
	Persona  Persona
	Hostname string
	// Users maps username to password. Every listed user may log in.
	Users map[string]string
	// EnableSecret answers the network CLI enable prompt. Empty means any input is accepted.
	EnableSecret string
	// FailOn maps a command prefix to the error text the device prints for it.
	FailOn map[string]string
	// Echo makes the network CLI print every typed line back, except passwords, as IOS does
	// regardless of the PTY modes the client asks for.
	Echo bool
}

// Server is one mock device listening on a single address.
type Server struct {
	opts     Options
	config   *ssh.ServerConfig
	listener net.Listener

	mu       sync.Mutex
	commands []string
	stdin    []string

	active atomic.Int64
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves until Close.
func Start(addr string, opts Options) (*Server, error) {
	if opts.Hostname == "" {
		opts.Hostname = "mock-host"
	}

	s := &Server{opts: opts}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if want, ok := opts.Users[c.User()]; ok && want == string(pass) {
				return nil, nil
			}

			return nil, ErrUnauthorized
		},
	}

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s.config.AddHostKey(signer)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s.listener = ln

	s.wg.Add(1)

	go s.acceptLoop()

	return s, nil
}

// Addr is the listening address.
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

// Commands returns every exec command and shell line received, in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.commands...)
}

// Stdin returns the stdin payloads received by exec commands.
func (s *Server) Stdin() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.stdin...)
}

// ActiveConnections is the number of SSH connections not yet closed by the client.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

func (s *Server) Close() error {
	s.closed.Store(true)
	err := s.listener.Close()
	s.wg.Wait()

	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}

			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) record(cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
}

func (s *Server) recordStdin(in string) {
	s.mu.Lock()
	s.stdin = append(s.stdin, in)
	s.mu.Unlock()
}

func (s *Server) handleConnection(conn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		_ = conn.Close()
		return
	}

	s.active.Add(1)

	go func() {
		_ = sshConn.Wait()
		s.active.Add(-1)
	}()

	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := ch.Accept()
		if err != nil {
			continue
		}

		go s.handleChannel(channel, requests)
	}
}

func (s *Server) handleChannel(channel ssh.Channel, in <-chan *ssh.Request) {
	for req := range in {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}

			_ = req.Reply(true, nil)
			s.serveExec(channel, payload.Command)

			return
		case "pty-req":
			_ = req.Reply(true, nil)
		case "shell":
			if s.opts.Persona != PersonaNetworkOS {
				_ = req.Reply(false, nil)
				continue
			}

			_ = req.Reply(true, nil)
			s.serveCLI(channel)

			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) serveExec(channel ssh.Channel, cmd string) {
	defer channel.Close()

	s.record(cmd)

	// The client half-closes after copying stdin, so this returns once stdin is done.
	data, _ := io.ReadAll(channel)
	if len(data) > 0 {
		s.recordStdin(string(data))
	}

	out, status := s.execResponse(cmd)

	_, _ = io.WriteString(channel, out)
	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
}

func (s *Server) failure(cmd string) (string, bool) {
	for prefix, msg := range s.opts.FailOn {
		if strings.HasPrefix(cmd, prefix) {
			return msg, true
		}
	}

	return "", false
}

func (s *Server) execResponse(cmd string) (string, uint32) {
	if msg, ok := s.failure(cmd); ok {
		return msg + "\n", 1
	}

	switch s.opts.Persona {
	case PersonaSilent:
		return "", 0
	case PersonaNetworkOS:
		return s.networkExec(cmd), 0
	case PersonaUnix:
	}

	return s.unixExec(cmd)
}

func (s *Server) unixExec(cmd string) (string, uint32) {
	switch {
	case cmd == "hostname", cmd == "uname -n", cmd == "cat /etc/hostname":
		return s.opts.Hostname + "\n", 0
	case cmd == "uname -a":
		return "Linux " + s.opts.Hostname + " 5.15.0-virtual #1 SMP x86_64 GNU/Linux\n", 0
	case strings.HasPrefix(cmd, "show "):
		return "bash: show: command not found\n", 127
	case strings.Contains(cmd, "useradd"), strings.Contains(cmd, "chpasswd"),
		strings.Contains(cmd, "usermod"), strings.Contains(cmd, "userdel"):
		return "", 0
	}

	return "mock-output-for: " + cmd + "\n", 0
}

const invalidInput = "                ^\n% Invalid input detected at '^' marker.\n"

func (s *Server) networkExec(cmd string) string {
	switch {
	case cmd == "show version":
		return "Cisco IOS Software, C2960 Software (C2960-LANBASEK9-M), Version 15.0(2)SE11\n" +
			s.opts.Hostname + " uptime is 1 hour, 32 minutes\n"
	case strings.HasPrefix(cmd, "show running-config"):
		return "hostname " + s.opts.Hostname + "\n"
	}

	return invalidInput
}

// cliState is the mode of one network CLI session.
type cliState int

const (
	cliUser cliState = iota
	cliEnablePassword
	cliPrivileged
	cliConfig
	cliConfirm
)

func (s *Server) prompt(state cliState) string {
	switch state {
	case cliUser:
		return s.opts.Hostname + ">"
	case cliEnablePassword:
		return "Password: "
	case cliConfig:
		return s.opts.Hostname + "(config)#"
	case cliConfirm:
		return "Do you want to continue? [confirm]"
	case cliPrivileged:
	}

	return s.opts.Hostname + "#"
}

func (s *Server) serveCLI(channel ssh.Channel) {
	defer channel.Close()

	cli := &cliSession{state: cliUser}
	reader := bufio.NewReader(channel)

	_, _ = io.WriteString(channel, "\r\n"+s.prompt(cli.state))

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		line = strings.TrimRight(line, "\r\n")
		s.record(line)

		if s.opts.Echo && cli.state != cliEnablePassword {
			_, _ = io.WriteString(channel, line)
		}

		out := s.cliStep(cli, line)
		_, _ = io.WriteString(channel, out+s.prompt(cli.state))
	}
}

// maxEnableTries is how many enable secrets IOS takes before giving up.
const maxEnableTries = 3

type cliSession struct {
	state       cliState
	enableTries int
}

// cliStep answers one line and moves the session to its next state.
func (s *Server) cliStep(c *cliSession, line string) string {
	out, next := s.cliAnswer(c, line)
	c.state = next

	return out
}

func (s *Server) cliAnswer(c *cliSession, line string) (string, cliState) {
	state := c.state

	if msg, ok := s.failure(line); ok && state != cliEnablePassword {
		return "\r\n" + msg + "\r\n", state
	}

	switch state {
	case cliEnablePassword:
		if s.opts.EnableSecret != "" && line != s.opts.EnableSecret {
			c.enableTries++
			if c.enableTries < maxEnableTries {
				return "\r\n", cliEnablePassword
			}

			c.enableTries = 0

			return "\r\n% Bad secrets\r\n\r\n", cliUser
		}

		c.enableTries = 0

		return "\r\n", cliPrivileged
	case cliConfirm:
		return "\r\n", cliConfig
	case cliUser:
		if line == "enable" {
			return "\r\n", cliEnablePassword
		}
	case cliPrivileged:
		switch {
		case line == "configure terminal":
			return "\r\nEnter configuration commands, one per line.  End with CNTL/Z.\r\n", cliConfig
		case line == "write memory":
			return "\r\nBuilding configuration...\r\n[OK]\r\n", cliPrivileged
		}
	case cliConfig:
		switch {
		case line == "end":
			return "\r\n", cliPrivileged
		case strings.HasPrefix(line, "username "):
			return "\r\n", cliConfig
		case strings.HasPrefix(line, "no username "):
			return "\r\nThis operation will remove all username related configurations with same name.", cliConfirm
		}
	}

	if line == "" {
		return "\r\n", state
	}

	return "\r\n" + strings.ReplaceAll(invalidInput, "\n", "\r\n"), state
}
