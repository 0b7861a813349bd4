package notify

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"credsweep/internal/logger"
	"credsweep/internal/model"
)

func resultSet(t *testing.T) *model.ResultSet {
	t.Helper()

	rec := model.NewDeviceRecord(netip.MustParseAddr("10.9.0.4"))
	require.NoError(t, rec.SetReachability(model.Reachable, time.Millisecond, ""))
	require.NoError(t, rec.SetSession(model.SessionProtocolError, "ssh: handshake failed: EOF"))

	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	return model.BuildResultSet("run-42", at, at.Add(2*time.Minute), []string{"10.9.0.0/29"}, nil,
		[]model.DeviceRecord{rec}, false)
}

func TestMessage(t *testing.T) {
	t.Parallel()

	attachment := filepath.Join(t.TempDir(), "credsweep_20260501_080000.csv")
	require.NoError(t, os.WriteFile(attachment, []byte("IP Address\n10.9.0.4\n"), 0o600))

	m := NewMailer(Config{From: "sweep@example.net", Recipients: []string{"noc@example.net", "sec@example.net"}},
		logger.NewTestLogger())

	msg, err := m.Message(resultSet(t), []string{attachment})
	require.NoError(t, err)

	assert.Equal(t, []string{"<noc@example.net>", "<sec@example.net>"}, msg.GetToString())
	assert.Equal(t, []string{"Credential sweep report: 0/1 rotated"}, msg.GetGenHeader(mail.HeaderSubject))

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "Run run-42")
	assert.Contains(t, raw, "credsweep_20260501_080000.csv")
}

func TestBody(t *testing.T) {
	t.Parallel()

	body := Body(resultSet(t), []string{"/var/reports/credsweep_x.xlsx"})

	assert.Contains(t, body, "Ranges:   10.9.0.0/29")
	assert.Contains(t, body, "Protocol error")
	assert.Contains(t, body, "10.9.0.4")
	assert.Contains(t, body, "handshake failed")
	assert.Contains(t, body, "Attached: credsweep_x.xlsx")
}

func TestSend_WithoutRecipients(t *testing.T) {
	t.Parallel()

	m := NewMailer(Config{Host: "localhost"}, logger.NewTestLogger())

	assert.False(t, m.Enabled())
	require.ErrorIs(t, m.Send(context.Background(), resultSet(t), nil), ErrNoRecipients)
}
