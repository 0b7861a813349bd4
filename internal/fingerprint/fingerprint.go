// Package fingerprint works out what a host calls itself and which device class it belongs to,
// using nothing but commands run over an established session.
package fingerprint

import (
	"context"
	"regexp"
	"strings"

	"credsweep/internal/logger"
	"credsweep/internal/model"
	"credsweep/internal/session"
)

// IdentifyCommands are tried in order until one prints a usable name.
var IdentifyCommands = []string{
	"hostname",
	"show running-config | include ^hostname",
	"cat /etc/hostname",
	"uname -n",
}

// ClassifyCommands are tried in order until one output matches a signature.
var ClassifyCommands = []string{
	"show version",
	"uname -a",
}

// Signature maps detection patterns onto a device class. Patterns are matched as whole words,
// case-insensitively.
type Signature struct {
	Class    model.DeviceClass
	Vendor   string
	Patterns []string
}

// Signatures are checked in order; network OS banners come first because some of them mention
// the Linux kernel they run on.
var Signatures = []Signature{
	{Class: model.ClassNetworkOS, Vendor: "cisco", Patterns: []string{"cisco", "ios", "ios-xe", "nx-os", "catalyst", "nexus"}},
	{Class: model.ClassNetworkOS, Vendor: "juniper", Patterns: []string{"junos", "juniper"}},
	{Class: model.ClassNetworkOS, Vendor: "arista", Patterns: []string{"arista", "eos"}},
	{Class: model.ClassNetworkOS, Vendor: "aruba", Patterns: []string{"arubaos", "procurve"}},
	{Class: model.ClassNetworkOS, Vendor: "mikrotik", Patterns: []string{"routeros", "mikrotik"}},
	{Class: model.ClassUnixLike, Vendor: "linux", Patterns: []string{"linux", "gnu/linux"}},
	{Class: model.ClassUnixLike, Vendor: "bsd", Patterns: []string{"freebsd", "openbsd", "netbsd", "darwin"}},
	{Class: model.ClassUnixLike, Vendor: "unix", Patterns: []string{"sunos", "aix", "hp-ux", "unix"}},
}

// shellErrorMarkers identify output that is a complaint about the command, not an answer.
var shellErrorMarkers = []string{
	"command not found",
	"not found",
	"invalid input",
	"unknown command",
	"syntax error",
	"permission denied",
}

var shellErrorPrefixes = []string{"bash:", "-bash:", "sh:", "zsh:", "%", "^", "error:"}

var hostnameLine = regexp.MustCompile(`(?m)^\s*hostname\s+(\S+)\s*$`)

type Fingerprinter struct {
	matchers []matcher
	logger   logger.Logger
}

type matcher struct {
	sig Signature
	re  *regexp.Regexp
}

func New(log logger.Logger) *Fingerprinter {
	f := &Fingerprinter{logger: log.WithComponent("fingerprint")}

	for _, sig := range Signatures {
		quoted := make([]string, len(sig.Patterns))
		for i, p := range sig.Patterns {
			quoted[i] = regexp.QuoteMeta(p)
		}

		re := regexp.MustCompile(`(?i)(^|[^a-z0-9-])(` + strings.Join(quoted, "|") + `)($|[^a-z0-9-])`)
		f.matchers = append(f.matchers, matcher{sig: sig, re: re})
	}

	return f
}

// Identify returns the first usable name the host reports, or "" when none of the candidate
// commands produced one. An empty identifier is not a failure.
func (f *Fingerprinter) Identify(ctx context.Context, sess session.Session) string {
	for _, cmd := range IdentifyCommands {
		if ctx.Err() != nil {
			return ""
		}

		out, err := sess.Exec(ctx, cmd, "")
		if err != nil {
			f.logger.Debug().Err(err).Str("command", cmd).Msg("identify candidate failed")
			continue
		}

		if name := parseIdentifier(out); name != "" {
			return name
		}
	}

	return ""
}

// Classify runs the version commands and matches their output against Signatures.
func (f *Fingerprinter) Classify(ctx context.Context, sess session.Session) model.DeviceClass {
	for _, cmd := range ClassifyCommands {
		if ctx.Err() != nil {
			return model.ClassUnknown
		}

		out, err := sess.Exec(ctx, cmd, "")
		if err != nil || LooksLikeShellError(out) {
			continue
		}

		if sig, ok := f.Match(out); ok {
			f.logger.Debug().Str("command", cmd).Str("vendor", sig.Vendor).Str("class", sig.Class.String()).
				Msg("device classified")

			return sig.Class
		}
	}

	return model.ClassUnknown
}

// Match returns the first signature whose patterns occur in out.
func (f *Fingerprinter) Match(out string) (Signature, bool) {
	for _, m := range f.matchers {
		if m.re.MatchString(out) {
			return m.sig, true
		}
	}

	return Signature{}, false
}

// LooksLikeShellError reports whether out is an error message printed by a shell or CLI.
func LooksLikeShellError(out string) bool {
	trimmed := strings.TrimSpace(out)
	lower := strings.ToLower(trimmed)

	for _, prefix := range shellErrorPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}

	for _, marker := range shellErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}

func parseIdentifier(out string) string {
	if LooksLikeShellError(out) {
		return ""
	}

	if m := hostnameLine.FindStringSubmatch(out); m != nil {
		return m[1]
	}

	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}

	return ""
}
