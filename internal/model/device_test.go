package model

import (
	"encoding/json"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceRecord_UnreachableBlocksSession(t *testing.T) {
	t.Parallel()

	rec := NewDeviceRecord(netip.MustParseAddr("10.0.0.1"))
	require.NoError(t, rec.SetReachability(Unreachable, 0, "no packets received"))

	err := rec.SetSession(SessionConnected, "")
	require.ErrorIs(t, err, ErrNotReachable)

	assert.Equal(t, SessionNotAttempted, rec.SessionStatus)
	assert.Equal(t, RemediationNotAttempted, rec.Remediation)
	assert.Equal(t, "no packets received", rec.ErrorDetail)
}

func TestDeviceRecord_StatusesAreMonotonic(t *testing.T) {
	t.Parallel()

	rec := NewDeviceRecord(netip.MustParseAddr("10.0.0.2"))
	require.NoError(t, rec.SetReachability(Reachable, time.Millisecond, ""))
	require.ErrorIs(t, rec.SetReachability(Unreachable, 0, "late"), ErrStatusFinal)
	assert.Equal(t, Reachable, rec.Reachable)

	require.NoError(t, rec.SetSession(SessionAuthFailed, "unable to authenticate"))
	require.ErrorIs(t, rec.SetSession(SessionConnected, ""), ErrStatusFinal)
	assert.Equal(t, SessionAuthFailed, rec.SessionStatus)

	require.ErrorIs(t, rec.SetIdentity("r1", ClassNetworkOS), ErrNotConnected)
	require.ErrorIs(t, rec.SetRemediation(RemediationOutcome{Status: RemediationSuccess}), ErrNotConnected)
	assert.Equal(t, "unable to authenticate", rec.ErrorDetail)
}

func TestDeviceRecord_RemediationFailureKeepsStep(t *testing.T) {
	t.Parallel()

	rec := NewDeviceRecord(netip.MustParseAddr("10.0.0.3"))
	require.NoError(t, rec.SetReachability(Reachable, 0, ""))
	require.NoError(t, rec.SetSession(SessionConnected, ""))
	require.NoError(t, rec.SetIdentity("sw1", ClassNetworkOS))
	require.ErrorIs(t, rec.SetIdentity("other", ClassUnixLike), ErrStatusFinal)

	out := RemediationOutcome{
		Status:     RemediationFailed,
		FailedStep: "save-config",
		Err:        errors.New("step save-config: % Error opening nvram:/startup-config"),
	}
	require.NoError(t, rec.SetRemediation(out))
	require.ErrorIs(t, rec.SetRemediation(RemediationOutcome{Status: RemediationSuccess}), ErrStatusFinal)

	assert.Equal(t, RemediationFailed, rec.Remediation)
	assert.Equal(t, "save-config", rec.FailedStep)
	assert.Contains(t, rec.ErrorDetail, "save-config")
	assert.Equal(t, "sw1", rec.Identifier)
	assert.Equal(t, ClassNetworkOS, rec.DeviceClass)
}

func TestDeviceRecord_FinalizeOnce(t *testing.T) {
	t.Parallel()

	rec := NewDeviceRecord(netip.MustParseAddr("10.0.0.4"))
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec.Finalize(first)
	rec.Finalize(first.Add(time.Hour))

	assert.True(t, rec.Finalized())
	assert.Equal(t, first, rec.ObservedAt)
}

func TestDeviceRecord_JSONUsesNames(t *testing.T) {
	t.Parallel()

	rec := NewDeviceRecord(netip.MustParseAddr("192.0.2.10"))
	require.NoError(t, rec.SetReachability(Reachable, 0, ""))
	require.NoError(t, rec.SetSession(SessionProtocolError, "ssh: handshake failed"))

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"address":"192.0.2.10"`)
	assert.Contains(t, s, `"reachable":"reachable"`)
	assert.Contains(t, s, `"session_status":"protocol_error"`)
	assert.Contains(t, s, `"remediation_status":"not_attempted"`)
}

func TestCredentialPair_Validate(t *testing.T) {
	t.Parallel()

	ok := CredentialPair{
		Old: Credential{Username: "admin", Password: "admin"},
		New: Credential{Username: "netadmin", Password: "N3w!pass"},
	}
	require.NoError(t, ok.Validate())
	assert.True(t, ok.RetiresOld())
	assert.NotContains(t, ok.New.String(), "N3w!pass")

	missing := ok
	missing.New.Password = ""
	require.ErrorIs(t, missing.Validate(), ErrMissingPassword)

	injected := ok
	injected.New.Username = "bob; reboot"
	require.ErrorIs(t, injected.Validate(), ErrInvalidUsername)

	multiline := ok
	multiline.New.Password = "first\nroot:owned"
	require.ErrorIs(t, multiline.Validate(), ErrInvalidPassword)

	same := ok
	same.New.Username = "admin"
	assert.False(t, same.RetiresOld())
}
