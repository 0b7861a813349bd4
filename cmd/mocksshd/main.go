// Command mocksshd runs a fleet of mock SSH devices on loopback addresses for trying credsweep
// without real hardware.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"credsweep/internal/logger"
	"credsweep/internal/sshtest"
)

var personas = map[string]sshtest.Persona{
	"unix":       sshtest.PersonaUnix,
	"network_os": sshtest.PersonaNetworkOS,
	"silent":     sshtest.PersonaSilent,
}

func main() {
	start := flag.String("start", "127.10.0.1", "first address of the fleet")
	count := flag.Int("count", 16, "number of devices")
	port := flag.Int("port", 2222, "SSH port every device listens on")
	username := flag.String("username", "admin", "login accepted by every device")
	password := flag.String("password", "admin", "password for --username")
	enableSecret := flag.String("enable-secret", "", "enable secret of network_os devices (empty accepts any)")
	mix := flag.String("personas", "unix,network_os", "comma-separated personas, assigned round-robin")
	excludeList := flag.String("exclude", "", "comma-separated addresses to leave dark")
	flag.Parse()

	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log = log.WithComponent("mocksshd")

	first, err := netip.ParseAddr(*start)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid --start")
	}

	cycle, err := parsePersonas(*mix)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid --personas")
	}

	excluded := map[string]bool{}
	for _, ip := range strings.Split(*excludeList, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			excluded[ip] = true
		}
	}

	var servers []*sshtest.Server

	addr := first
	for i := 0; i < *count && addr.IsValid(); i, addr = i+1, addr.Next() {
		if excluded[addr.String()] {
			log.Info().Str("ip", addr.String()).Msg("skipping excluded address")
			continue
		}

		persona := cycle[i%len(cycle)]

		srv, err := sshtest.Start(net.JoinHostPort(addr.String(), strconv.Itoa(*port)), sshtest.Options{
			Persona:      persona,
			Hostname:     fmt.Sprintf("%s-%03d", strings.ReplaceAll(persona.String(), "_", ""), i+1),
			Users:        map[string]string{*username: *password},
			EnableSecret: *enableSecret,
		})
		if err != nil {
			log.Warn().Err(err).Str("ip", addr.String()).Msg("failed to start device")
			continue
		}

		servers = append(servers, srv)
	}

	log.Info().Int("devices", len(servers)).Int("port", *port).Msg("mock fleet running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	for _, srv := range servers {
		_ = srv.Close()
	}

	log.Info().Msg("mock fleet stopped")
}

func parsePersonas(s string) ([]sshtest.Persona, error) {
	var out []sshtest.Persona

	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		p, ok := personas[name]
		if !ok {
			return nil, fmt.Errorf("unknown persona %q", name)
		}

		out = append(out, p)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no personas in %q", s)
	}

	return out, nil
}
