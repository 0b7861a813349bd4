package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"credsweep/internal/config"
)

const usage = `credsweep - find SSH-managed devices and rotate their privileged credential

Usage:
  credsweep init --config <path> [--force]
  credsweep validate --config <path>
  credsweep run --config <path> [--dry-run] [--probe icmp|tcp] [--report-dir <dir>] [--formats xlsx,csv,json]

Secrets may be left out of the config file and supplied as
CREDSWEEP_OLD_PASSWORD, CREDSWEEP_NEW_PASSWORD and CREDSWEEP_SMTP_PASSWORD.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "init":
		handleInit(os.Args[2:])
	case "validate":
		handleValidate(os.Args[2:])
	case "run":
		handleRun(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "credsweep.yaml", "path of the config file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil && !*force {
		fatal(fmt.Errorf("%s already exists, use --force to overwrite", *configPath))
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		fatal(err)
	}

	fatal(config.Save(*configPath, config.Example()))
	fmt.Printf("wrote %s; edit ranges and credentials before running\n", *configPath)
}

func handleValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg := mustLoad(*configPath)
	fmt.Printf("config ok: %d range(s), probe %s, %s -> %s\n",
		len(cfg.Ranges), cfg.Probe.Method, cfg.OldCredentials.Username, cfg.NewCredentials.Username)
}

// mustLoad reads, defaults and validates the config or exits.
func mustLoad(path string) config.Config {
	if path == "" {
		fatal(errors.New("--config is required"))
	}

	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}

	if err := config.Validate(cfg); err != nil {
		fatal(fmt.Errorf("invalid config %s: %w", path, err))
	}

	return cfg
}

func splitList(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

func fatal(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
