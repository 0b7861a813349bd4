// Package probe decides whether an address is worth a session attempt.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"syscall"
	"time"

	"github.com/go-ping/ping"

	"credsweep/internal/logger"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultCount   = 1
)

var (
	ErrNoReply    = errors.New("no packets received")
	ErrProbeSetup = errors.New("probe setup failed")
	ErrProbeRun   = errors.New("probe run failed")
)

// Result is the probe verdict for one address. Err carries the fault text for unreachable
// hosts and is never returned as a Go error.
type Result struct {
	Addr      netip.Addr
	Reachable bool
	RTT       time.Duration
	Err       error
}

// Prober never fails: any fault is folded into an unreachable Result.
type Prober interface {
	Probe(ctx context.Context, addr netip.Addr) Result
}

type Options struct {
	Timeout    time.Duration
	Count      int
	Privileged bool
	Port       int
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.Count <= 0 {
		o.Count = DefaultCount
	}
}

// ICMPProber sends echo requests with go-ping.
type ICMPProber struct {
	opts   Options
	logger logger.Logger
}

var _ Prober = (*ICMPProber)(nil)

func NewICMPProber(opts Options, log logger.Logger) *ICMPProber {
	opts.applyDefaults()

	return &ICMPProber{opts: opts, logger: log.WithComponent("probe.icmp")}
}

func (p *ICMPProber) Probe(ctx context.Context, addr netip.Addr) Result {
	res := Result{Addr: addr}

	pinger, err := ping.NewPinger(addr.String())
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrProbeSetup, err)
		return res
	}

	pinger.Count = p.opts.Count
	pinger.Timeout = p.opts.Timeout
	pinger.SetPrivileged(p.opts.Privileged)

	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()

	if err := pinger.Run(); err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrProbeRun, err)
		return res
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		res.Err = ErrNoReply
		return res
	}

	res.Reachable = true
	res.RTT = stats.AvgRtt

	p.logger.Debug().Str("ip", addr.String()).Dur("rtt", res.RTT).Msg("echo reply")

	return res
}

// TCPProber treats any answer on the port, accept or reset, as proof of life. It needs no
// raw-socket privileges.
type TCPProber struct {
	opts   Options
	logger logger.Logger
}

var _ Prober = (*TCPProber)(nil)

func NewTCPProber(opts Options, log logger.Logger) *TCPProber {
	opts.applyDefaults()

	if opts.Port == 0 {
		opts.Port = 22
	}

	return &TCPProber{opts: opts, logger: log.WithComponent("probe.tcp")}
}

func (p *TCPProber) Probe(ctx context.Context, addr netip.Addr) Result {
	res := Result{Addr: addr}

	probeCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()

	var dialer net.Dialer

	conn, err := dialer.DialContext(probeCtx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(p.opts.Port)))
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			res.Reachable = true
			res.RTT = time.Since(start)

			return res
		}

		if probeCtx.Err() != nil {
			res.Err = probeCtx.Err()
			return res
		}

		res.Err = err

		return res
	}

	res.Reachable = true
	res.RTT = time.Since(start)

	if err := conn.Close(); err != nil {
		p.logger.Debug().Err(err).Str("ip", addr.String()).Msg("failed to close probe connection")
	}

	return res
}
