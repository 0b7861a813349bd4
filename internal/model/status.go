package model

import "fmt"

// Reachability is the outcome of the liveness probe. It is set exactly once per record.
type Reachability uint8

const (
	ReachUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case ReachUnknown:
		return "unknown"
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	}

	return fmt.Sprintf("reachability(%d)", uint8(r))
}

func (r Reachability) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// SessionStatus is the outcome of the remote shell connection attempt.
type SessionStatus uint8

const (
	SessionNotAttempted SessionStatus = iota
	SessionConnected
	SessionAuthFailed
	SessionProtocolError
	SessionConnectFailed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionNotAttempted:
		return "not_attempted"
	case SessionConnected:
		return "connected"
	case SessionAuthFailed:
		return "auth_failed"
	case SessionProtocolError:
		return "protocol_error"
	case SessionConnectFailed:
		return "connect_failed"
	}

	return fmt.Sprintf("session_status(%d)", uint8(s))
}

func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Failed reports whether the status is one of the failure variants.
func (s SessionStatus) Failed() bool {
	return s == SessionAuthFailed || s == SessionProtocolError || s == SessionConnectFailed
}

// DeviceClass selects the remediation command plan. The set is closed: AllDeviceClasses
// lists every member and the remediate package is tested against it.
type DeviceClass uint8

const (
	ClassUnknown DeviceClass = iota
	ClassNetworkOS
	ClassUnixLike
)

// AllDeviceClasses enumerates the closed DeviceClass set.
var AllDeviceClasses = []DeviceClass{ClassUnknown, ClassNetworkOS, ClassUnixLike}

func (c DeviceClass) String() string {
	switch c {
	case ClassUnknown:
		return "unknown"
	case ClassNetworkOS:
		return "network_os"
	case ClassUnixLike:
		return "unix_like"
	}

	return fmt.Sprintf("device_class(%d)", uint8(c))
}

func (c DeviceClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// RemediationStatus is the outcome of the credential rotation.
type RemediationStatus uint8

const (
	RemediationNotAttempted RemediationStatus = iota
	RemediationSuccess
	RemediationUnsupported
	RemediationFailed
)

func (r RemediationStatus) String() string {
	switch r {
	case RemediationNotAttempted:
		return "not_attempted"
	case RemediationSuccess:
		return "success"
	case RemediationUnsupported:
		return "unsupported_class"
	case RemediationFailed:
		return "failed"
	}

	return fmt.Sprintf("remediation_status(%d)", uint8(r))
}

func (r RemediationStatus) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// RemediationOutcome is what the remediation engine hands back for one host.
type RemediationOutcome struct {
	Status     RemediationStatus
	FailedStep string
	Err        error
}
