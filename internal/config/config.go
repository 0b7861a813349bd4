package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"credsweep/internal/logger"
	"credsweep/internal/model"
)

const (
	DefaultPort               = 22
	DefaultProbeMethod        = "icmp"
	DefaultProbeConcurrency   = 20
	DefaultProbeTimeout       = 5 * time.Second
	DefaultProbeCount         = 1
	DefaultSessionConcurrency = 5
	DefaultSessionTimeout     = 10 * time.Second
	DefaultHostTimeout        = 2 * time.Minute
	DefaultMaxHostBits        = 16
	DefaultEnableCommand      = "enable"
	DefaultConfigCommand      = "configure terminal"
	DefaultSaveCommand        = "write memory"
	DefaultPrivilege          = 15
	DefaultSudo               = "sudo -k -S -p ''"
	DefaultSudoCheck          = "sudo -k -n true"
	DefaultShell              = "/bin/bash"
	DefaultAdminGroup         = "sudo"
	DefaultReportDir          = "."
	DefaultSMTPPort           = 587
	DefaultPublishSettle      = time.Second

	EnvOldPassword  = "CREDSWEEP_OLD_PASSWORD"
	EnvNewPassword  = "CREDSWEEP_NEW_PASSWORD"
	EnvSMTPPassword = "CREDSWEEP_SMTP_PASSWORD"
)

var (
	ErrNoRanges        = errors.New("at least one range is required")
	ErrBadProbeMethod  = errors.New("probe.method must be icmp or tcp")
	ErrBadReportFormat = errors.New("report.formats accepts xlsx, csv and json")
	ErrIncompleteEmail = errors.New("email.smtp_host and email.from are required when recipients are set")
	ErrBadConcurrency  = errors.New("concurrency must be positive")
)

var (
	supportedFormats      = []string{"xlsx", "csv", "json"}
	supportedProbeMethods = []string{"icmp", "tcp"}
)

// Config is the whole run configuration. The JSON form is accepted as well since YAML is a
// superset of it.
type Config struct {
	Ranges         []string          `yaml:"ranges" json:"ranges"`
	Port           int               `yaml:"port" json:"port"`
	OldCredentials model.Credential  `yaml:"old_credentials" json:"old_credentials"`
	NewCredentials model.Credential  `yaml:"new_credentials" json:"new_credentials"`
	Probe          ProbeConfig       `yaml:"probe" json:"probe"`
	Session        SessionConfig     `yaml:"session" json:"session"`
	Remediation    RemediationConfig `yaml:"remediation" json:"remediation"`
	Report         ReportConfig      `yaml:"report" json:"report"`
	Email          EmailConfig       `yaml:"email" json:"email"`
	Publish        PublishConfig     `yaml:"publish" json:"publish"`
	Log            logger.Config     `yaml:"log" json:"log"`
}

type ProbeConfig struct {
	Method      string        `yaml:"method" json:"method"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Count       int           `yaml:"count" json:"count"`
	Privileged  bool          `yaml:"privileged" json:"privileged"`
	MaxHostBits int           `yaml:"max_host_bits" json:"max_host_bits"`
}

type SessionConfig struct {
	Concurrency    int           `yaml:"concurrency" json:"concurrency"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`
	KnownHosts     string        `yaml:"known_hosts,omitempty" json:"known_hosts,omitempty"`
	// HostTimeout caps everything done for one host once it answered the probe.
	HostTimeout time.Duration `yaml:"host_timeout" json:"host_timeout"`
	// LegacyAlgorithms also offers the insecure kex and cipher suites older devices still run.
	LegacyAlgorithms bool `yaml:"legacy_algorithms" json:"legacy_algorithms"`
}

type RemediationConfig struct {
	VerifyLogin bool            `yaml:"verify_login" json:"verify_login"`
	NetworkOS   NetworkOSConfig `yaml:"network_os" json:"network_os"`
	UnixLike    UnixLikeConfig  `yaml:"unix_like" json:"unix_like"`
}

type NetworkOSConfig struct {
	EnableCommand string `yaml:"enable_command" json:"enable_command"`
	ConfigCommand string `yaml:"config_command" json:"config_command"`
	SaveCommand   string `yaml:"save_command" json:"save_command"`
	Privilege     int    `yaml:"privilege" json:"privilege"`
}

type UnixLikeConfig struct {
	Sudo       string `yaml:"sudo" json:"sudo"`
	// SudoCheck succeeds when sudo runs without asking for a password.
	SudoCheck  string `yaml:"sudo_check" json:"sudo_check"`
	Shell      string `yaml:"shell" json:"shell"`
	AdminGroup string `yaml:"admin_group" json:"admin_group"`
}

type ReportConfig struct {
	Dir     string   `yaml:"dir" json:"dir"`
	Formats []string `yaml:"formats" json:"formats"`
}

type EmailConfig struct {
	SMTPHost   string   `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort   int      `yaml:"smtp_port" json:"smtp_port"`
	Username   string   `yaml:"username" json:"username"`
	Password   string   `yaml:"password" json:"password"`
	From       string   `yaml:"from" json:"from"`
	Recipients []string `yaml:"recipients" json:"recipients"`
}

type PublishConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Settle is how long to wait after binding so subscribers can connect before the first event.
	Settle time.Duration `yaml:"settle" json:"settle"`
}

// Load reads and parses a YAML (or JSON) config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Credentials returns the pair every worker receives.
func (c Config) Credentials() model.CredentialPair {
	return model.CredentialPair{Old: c.OldCredentials, New: c.NewCredentials}
}

// Validate checks what a run cannot start without.
func Validate(cfg Config) error {
	if len(cfg.Ranges) == 0 {
		return ErrNoRanges
	}

	if err := cfg.Credentials().Validate(); err != nil {
		return err
	}

	if !slices.Contains(supportedProbeMethods, cfg.Probe.Method) {
		return fmt.Errorf("%w: %q", ErrBadProbeMethod, cfg.Probe.Method)
	}

	if cfg.Probe.Concurrency < 1 || cfg.Session.Concurrency < 1 {
		return ErrBadConcurrency
	}

	for _, f := range cfg.Report.Formats {
		if !slices.Contains(supportedFormats, f) {
			return fmt.Errorf("%w: %q", ErrBadReportFormat, f)
		}
	}

	if len(cfg.Email.Recipients) > 0 && (cfg.Email.SMTPHost == "" || cfg.Email.From == "") {
		return ErrIncompleteEmail
	}

	return nil
}

// ApplyEnv fills secrets left empty in the file from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvOldPassword); v != "" && cfg.OldCredentials.Password == "" {
		cfg.OldCredentials.Password = v
	}

	if v := os.Getenv(EnvNewPassword); v != "" && cfg.NewCredentials.Password == "" {
		cfg.NewCredentials.Password = v
	}

	if v := os.Getenv(EnvSMTPPassword); v != "" && cfg.Email.Password == "" {
		cfg.Email.Password = v
	}
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	applyProbeDefaults(&cfg.Probe)
	applySessionDefaults(&cfg.Session)
	applyRemediationDefaults(&cfg.Remediation)

	if cfg.Report.Dir == "" {
		cfg.Report.Dir = DefaultReportDir
	}

	if cfg.Report.Formats == nil {
		cfg.Report.Formats = []string{"xlsx"}
	}

	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = DefaultSMTPPort
	}

	if cfg.Publish.Endpoint != "" && cfg.Publish.Settle == 0 {
		cfg.Publish.Settle = DefaultPublishSettle
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyProbeDefaults(p *ProbeConfig) {
	if p.Method == "" {
		p.Method = DefaultProbeMethod
	}

	if p.Concurrency == 0 {
		p.Concurrency = DefaultProbeConcurrency
	}

	if p.Timeout == 0 {
		p.Timeout = DefaultProbeTimeout
	}

	if p.Count == 0 {
		p.Count = DefaultProbeCount
	}

	if p.MaxHostBits == 0 {
		p.MaxHostBits = DefaultMaxHostBits
	}
}

func applySessionDefaults(s *SessionConfig) {
	if s.Concurrency == 0 {
		s.Concurrency = DefaultSessionConcurrency
	}

	if s.Timeout == 0 {
		s.Timeout = DefaultSessionTimeout
	}

	if s.CommandTimeout == 0 {
		s.CommandTimeout = s.Timeout
	}

	if s.HostTimeout == 0 {
		s.HostTimeout = DefaultHostTimeout
	}
}

func applyRemediationDefaults(r *RemediationConfig) {
	if r.NetworkOS.EnableCommand == "" {
		r.NetworkOS.EnableCommand = DefaultEnableCommand
	}

	if r.NetworkOS.ConfigCommand == "" {
		r.NetworkOS.ConfigCommand = DefaultConfigCommand
	}

	if r.NetworkOS.SaveCommand == "" {
		r.NetworkOS.SaveCommand = DefaultSaveCommand
	}

	if r.NetworkOS.Privilege == 0 {
		r.NetworkOS.Privilege = DefaultPrivilege
	}

	if r.UnixLike.Sudo == "" {
		r.UnixLike.Sudo = DefaultSudo
	}

	if r.UnixLike.SudoCheck == "" {
		r.UnixLike.SudoCheck = DefaultSudoCheck
	}

	if r.UnixLike.Shell == "" {
		r.UnixLike.Shell = DefaultShell
	}

	if r.UnixLike.AdminGroup == "" {
		r.UnixLike.AdminGroup = DefaultAdminGroup
	}
}

// Example is the starting config written by `credsweep init`.
func Example() Config {
	cfg := Config{
		Ranges:         []string{"192.168.1.0/24"},
		OldCredentials: model.Credential{Username: "admin", Password: "admin"},
		NewCredentials: model.Credential{Username: "netadmin", Password: "ChangeMe-Now1"},
		Report:         ReportConfig{Formats: []string{"xlsx", "json"}},
	}

	ApplyDefaults(&cfg)

	return cfg
}
