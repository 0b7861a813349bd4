package model

import (
	"fmt"
	"net/netip"
	"time"
)

// DeviceRecord is the unit of work and of reporting: one per enumerated address.
//
// Status fields only move forward. The setters below refuse to overwrite a terminal value and
// refuse transitions an earlier stage does not permit, so a worker cannot produce a record that
// reads "unreachable" and "connected" at the same time.
type DeviceRecord struct {
	Address       netip.Addr        `json:"address"`
	Reachable     Reachability      `json:"reachable"`
	ProbeRTT      time.Duration     `json:"probe_rtt,omitempty"`
	SessionStatus SessionStatus     `json:"session_status"`
	Identifier    string            `json:"identifier,omitempty"`
	DeviceClass   DeviceClass       `json:"device_class"`
	Remediation   RemediationStatus `json:"remediation_status"`
	FailedStep    string            `json:"failed_step,omitempty"`
	ErrorDetail   string            `json:"error_detail,omitempty"`
	OldUsername   string            `json:"old_username,omitempty"`
	NewUsername   string            `json:"new_username,omitempty"`
	ObservedAt    time.Time         `json:"observed_at"`

	fingerprinted bool
}

// NewDeviceRecord returns a record in the Enumerated state.
func NewDeviceRecord(addr netip.Addr) DeviceRecord {
	return DeviceRecord{Address: addr}
}

// SetReachability records the probe verdict. detail is kept as ErrorDetail for unreachable hosts.
func (r *DeviceRecord) SetReachability(v Reachability, rtt time.Duration, detail string) error {
	if v == ReachUnknown {
		return fmt.Errorf("%w: reachability %s", ErrInvalidTransition, v)
	}

	if r.Reachable != ReachUnknown {
		return fmt.Errorf("%w: reachable already %s", ErrStatusFinal, r.Reachable)
	}

	r.Reachable = v
	r.ProbeRTT = rtt

	if v == Unreachable {
		r.setDetail(detail)
	}

	return nil
}

// SetSession records the session attempt outcome. Only reachable hosts get one.
func (r *DeviceRecord) SetSession(s SessionStatus, detail string) error {
	if r.Reachable != Reachable {
		return fmt.Errorf("%w: %s", ErrNotReachable, r.Address)
	}

	if s == SessionNotAttempted {
		return fmt.Errorf("%w: session %s", ErrInvalidTransition, s)
	}

	if r.SessionStatus != SessionNotAttempted {
		return fmt.Errorf("%w: session already %s", ErrStatusFinal, r.SessionStatus)
	}

	r.SessionStatus = s

	if s.Failed() {
		r.setDetail(detail)
	}

	return nil
}

// SetIdentity records the fingerprint of a connected host. An empty identifier is allowed.
func (r *DeviceRecord) SetIdentity(identifier string, class DeviceClass) error {
	if r.SessionStatus != SessionConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, r.Address)
	}

	if r.fingerprinted {
		return fmt.Errorf("%w: already fingerprinted", ErrStatusFinal)
	}

	r.Identifier = identifier
	r.DeviceClass = class
	r.fingerprinted = true

	return nil
}

// SetRemediation records the remediation outcome of a fingerprinted host.
func (r *DeviceRecord) SetRemediation(o RemediationOutcome) error {
	if !r.fingerprinted {
		return fmt.Errorf("%w: %s not fingerprinted", ErrNotConnected, r.Address)
	}

	if o.Status == RemediationNotAttempted {
		return fmt.Errorf("%w: remediation %s", ErrInvalidTransition, o.Status)
	}

	if r.Remediation != RemediationNotAttempted {
		return fmt.Errorf("%w: remediation already %s", ErrStatusFinal, r.Remediation)
	}

	r.Remediation = o.Status

	if o.Status == RemediationFailed {
		r.FailedStep = o.FailedStep

		if o.Err != nil {
			r.setDetail(o.Err.Error())
		} else {
			r.setDetail("step " + o.FailedStep + " failed")
		}
	}

	return nil
}

// Finalize stamps the record. A second call keeps the first timestamp.
func (r *DeviceRecord) Finalize(at time.Time) {
	if r.ObservedAt.IsZero() {
		r.ObservedAt = at
	}
}

// Finalized reports whether Finalize has been called.
func (r *DeviceRecord) Finalized() bool {
	return !r.ObservedAt.IsZero()
}

// FullySucceeded is true when the credential rotation completed.
func (r *DeviceRecord) FullySucceeded() bool {
	return r.Remediation == RemediationSuccess
}

// ReachableButFailed is true for hosts that answered the probe but were not remediated.
func (r *DeviceRecord) ReachableButFailed() bool {
	return r.Reachable == Reachable && r.Remediation != RemediationSuccess
}

func (r *DeviceRecord) setDetail(detail string) {
	if r.ErrorDetail == "" {
		r.ErrorDetail = detail
	}
}
