package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"credsweep/internal/config"
	"credsweep/internal/logger"
	"credsweep/internal/notify"
	"credsweep/internal/probe"
	"credsweep/internal/publish"
	"credsweep/internal/remediate"
	"credsweep/internal/report"
	"credsweep/internal/session"
	"credsweep/internal/sweep"
)

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	dryRun := fs.Bool("dry-run", false, "probe and fingerprint only, change nothing")
	probeMethod := fs.String("probe", "", "override probe.method (icmp or tcp)")
	reportDir := fs.String("report-dir", "", "override report.dir")
	formats := fs.String("formats", "", "override report.formats, comma-separated")
	_ = fs.Parse(args)

	if *configPath == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	if *probeMethod != "" {
		cfg.Probe.Method = *probeMethod
	}

	if *reportDir != "" {
		cfg.Report.Dir = *reportDir
	}

	if *formats != "" {
		cfg.Report.Formats = splitList(*formats)
	}

	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := session.NewSSHDialer(session.DialerOptions{
		Port:             cfg.Port,
		Timeout:          cfg.Session.Timeout,
		CommandTimeout:   cfg.Session.CommandTimeout,
		KnownHostsFile:   cfg.Session.KnownHosts,
		LegacyAlgorithms: cfg.Session.LegacyAlgorithms,
	}, log)
	if err != nil {
		fatal(err)
	}

	orch := sweep.New(sweep.Options{
		ProbeConcurrency:   cfg.Probe.Concurrency,
		SessionConcurrency: cfg.Session.Concurrency,
		MaxHostBits:        cfg.Probe.MaxHostBits,
		HostTimeout:        cfg.Session.HostTimeout,
		DryRun:             *dryRun,
		VerifyLogin:        cfg.Remediation.VerifyLogin,
		Remediation:        remediationOptions(cfg.Remediation),
	}, newProber(cfg, log), dialer, log)

	if cfg.Publish.Endpoint != "" {
		pub, err := publish.New(cfg.Publish.Endpoint, cfg.Publish.Settle, log)
		if err != nil {
			log.Error().Err(err).Msg("event publishing disabled")
		} else {
			defer pub.Close()

			orch.AddObserver(pub)
		}
	}

	rs, err := orch.Run(ctx, cfg.Ranges, cfg.Credentials())
	if err != nil {
		fatal(err)
	}

	files, err := report.Render(cfg.Report.Dir, rs, cfg.Report.Formats)
	if err != nil {
		log.Error().Err(err).Msg("failed to write report")
	}

	if err := report.WriteSummary(os.Stdout, rs, files); err != nil {
		log.Error().Err(err).Msg("failed to print summary")
	}

	mailer := notify.NewMailer(notify.Config{
		Host:       cfg.Email.SMTPHost,
		Port:       cfg.Email.SMTPPort,
		Username:   cfg.Email.Username,
		Password:   cfg.Email.Password,
		From:       cfg.Email.From,
		Recipients: cfg.Email.Recipients,
	}, log)

	if mailer.Enabled() {
		// Mail still goes out after an interrupt; the run it reports on is complete.
		if err := mailer.Send(context.WithoutCancel(ctx), rs, files); err != nil {
			log.Error().Err(err).Msg("failed to mail report")
		}
	}
}

func newProber(cfg config.Config, log logger.Logger) probe.Prober {
	opts := probe.Options{
		Timeout:    cfg.Probe.Timeout,
		Count:      cfg.Probe.Count,
		Privileged: cfg.Probe.Privileged,
		Port:       cfg.Port,
	}

	if cfg.Probe.Method == "tcp" {
		return probe.NewTCPProber(opts, log)
	}

	return probe.NewICMPProber(opts, log)
}

func remediationOptions(r config.RemediationConfig) remediate.Options {
	return remediate.Options{
		EnableCommand: r.NetworkOS.EnableCommand,
		ConfigCommand: r.NetworkOS.ConfigCommand,
		SaveCommand:   r.NetworkOS.SaveCommand,
		Privilege:     r.NetworkOS.Privilege,
		Sudo:          r.UnixLike.Sudo,
		SudoCheck:     r.UnixLike.SudoCheck,
		Shell:         r.UnixLike.Shell,
		AdminGroup:    r.UnixLike.AdminGroup,
	}
}
