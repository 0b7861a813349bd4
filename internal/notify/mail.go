// Package notify e-mails the outcome of a run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/wneessen/go-mail"

	"credsweep/internal/logger"
	"credsweep/internal/model"
)

var ErrNoRecipients = errors.New("no recipients configured")

type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

type Mailer struct {
	cfg    Config
	logger logger.Logger
}

func NewMailer(cfg Config, log logger.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: log.WithComponent("notify")}
}

// Enabled reports whether there is anyone to send to.
func (m *Mailer) Enabled() bool {
	return len(m.cfg.Recipients) > 0
}

// Message builds the report mail without sending it.
func (m *Mailer) Message(rs *model.ResultSet, attachments []string) (*mail.Msg, error) {
	if !m.Enabled() {
		return nil, ErrNoRecipients
	}

	msg := mail.NewMsg()

	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}

	if err := msg.To(m.cfg.Recipients...); err != nil {
		return nil, fmt.Errorf("recipient addresses: %w", err)
	}

	msg.Subject(Subject(rs))
	msg.SetBodyString(mail.TypeTextPlain, Body(rs, attachments))

	for _, path := range attachments {
		msg.AttachFile(path, mail.WithFileName(filepath.Base(path)))
	}

	return msg, nil
}

// Send delivers the report over SMTP. STARTTLS is used when the server offers it.
func (m *Mailer) Send(ctx context.Context, rs *model.ResultSet, attachments []string) error {
	msg, err := m.Message(rs, attachments)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}

	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send report mail: %w", err)
	}

	m.logger.Info().Strs("recipients", m.cfg.Recipients).Int("attachments", len(attachments)).Msg("report mailed")

	return nil
}

func Subject(rs *model.ResultSet) string {
	s := fmt.Sprintf("Credential sweep report: %d/%d rotated", rs.Counters.RemediationSuccess, rs.Counters.Targets)
	if rs.DryRun {
		s += " (dry run)"
	}

	return s
}

// Body is the plain-text summary placed in the mail.
func Body(rs *model.ResultSet, attachments []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s\n", rs.RunID)
	fmt.Fprintf(&b, "Started:  %s\n", rs.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Finished: %s\n", rs.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Ranges:   %s\n\n", strings.Join(rs.Ranges, ", "))

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, row := range rs.Summary() {
		fmt.Fprintf(tw, "%s\t%d\n", row.Category, row.Count)
	}

	_ = tw.Flush()

	if failed := rs.ReachableButFailed(); len(failed) > 0 {
		b.WriteString("\nReachable hosts not rotated:\n")

		for _, rec := range failed {
			reason := rec.ErrorDetail
			if reason == "" {
				reason = rec.Remediation.String()
			}

			fmt.Fprintf(&b, "  %s %s: %s\n", rec.Address, rec.Identifier, reason)
		}
	}

	if len(attachments) > 0 {
		b.WriteString("\nAttached: ")

		names := make([]string, len(attachments))
		for i, a := range attachments {
			names[i] = filepath.Base(a)
		}

		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}

	return b.String()
}
