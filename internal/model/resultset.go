package model

import (
	"encoding/json"
	"net/netip"
	"slices"
	"time"
)

// RangeError is a range expression the enumerator could not use.
type RangeError struct {
	Range  string `json:"range"`
	Reason string `json:"reason"`
}

// Counters are the run-level totals handed to reporting alongside the records.
type Counters struct {
	Targets            int `json:"targets"`
	Reachable          int `json:"reachable"`
	SessionSuccess     int `json:"session_success"`
	RemediationSuccess int `json:"remediation_success"`
	RangeErrors        int `json:"range_errors"`
}

// SummaryRow is one outcome category and how many records fell into it.
type SummaryRow struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ResultSet is the finalized outcome of one run. It is built once by BuildResultSet and
// never changes afterwards; accessors hand out copies.
type ResultSet struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Ranges      []string
	RangeErrors []RangeError
	Counters    Counters
	DryRun      bool

	records []DeviceRecord
}

// BuildResultSet orders the records by address and derives the counters.
func BuildResultSet(runID string, started, finished time.Time, ranges []string,
	rangeErrs []RangeError, records []DeviceRecord, dryRun bool) *ResultSet {
	recs := slices.Clone(records)
	slices.SortFunc(recs, func(a, b DeviceRecord) int {
		return a.Address.Compare(b.Address)
	})

	rs := &ResultSet{
		RunID:       runID,
		StartedAt:   started,
		FinishedAt:  finished,
		Ranges:      slices.Clone(ranges),
		RangeErrors: slices.Clone(rangeErrs),
		DryRun:      dryRun,
		records:     recs,
	}

	rs.Counters.Targets = len(recs)
	rs.Counters.RangeErrors = len(rangeErrs)

	for i := range recs {
		if recs[i].Reachable == Reachable {
			rs.Counters.Reachable++
		}

		if recs[i].SessionStatus == SessionConnected {
			rs.Counters.SessionSuccess++
		}

		if recs[i].Remediation == RemediationSuccess {
			rs.Counters.RemediationSuccess++
		}
	}

	return rs
}

// Len is the number of records.
func (rs *ResultSet) Len() int {
	return len(rs.records)
}

// All returns every record ordered by address.
func (rs *ResultSet) All() []DeviceRecord {
	return slices.Clone(rs.records)
}

// Lookup finds the record for addr.
func (rs *ResultSet) Lookup(addr netip.Addr) (DeviceRecord, bool) {
	i, found := slices.BinarySearchFunc(rs.records, addr, func(r DeviceRecord, a netip.Addr) int {
		return r.Address.Compare(a)
	})
	if !found {
		return DeviceRecord{}, false
	}

	return rs.records[i], true
}

// ReachableButFailed returns hosts that answered the probe but were not remediated.
func (rs *ResultSet) ReachableButFailed() []DeviceRecord {
	return rs.filter(func(r *DeviceRecord) bool { return r.ReachableButFailed() })
}

// FullySuccessful returns hosts whose credentials were rotated.
func (rs *ResultSet) FullySuccessful() []DeviceRecord {
	return rs.filter(func(r *DeviceRecord) bool { return r.FullySucceeded() })
}

// Summary counts records per outcome category.
func (rs *ResultSet) Summary() []SummaryRow {
	var (
		unreachable, authFailed, protoErr, connFailed int
		unsupported, remFailed                        int
	)

	for i := range rs.records {
		r := &rs.records[i]

		if r.Reachable == Unreachable {
			unreachable++
		}

		switch r.SessionStatus {
		case SessionAuthFailed:
			authFailed++
		case SessionProtocolError:
			protoErr++
		case SessionConnectFailed:
			connFailed++
		case SessionNotAttempted, SessionConnected:
		}

		switch r.Remediation {
		case RemediationUnsupported:
			unsupported++
		case RemediationFailed:
			remFailed++
		case RemediationNotAttempted, RemediationSuccess:
		}
	}

	return []SummaryRow{
		{Category: "Total addresses", Count: rs.Counters.Targets},
		{Category: "Reachable", Count: rs.Counters.Reachable},
		{Category: "Unreachable", Count: unreachable},
		{Category: "Session connected", Count: rs.Counters.SessionSuccess},
		{Category: "Authentication failed", Count: authFailed},
		{Category: "Protocol error", Count: protoErr},
		{Category: "Connection failed", Count: connFailed},
		{Category: "Credentials rotated", Count: rs.Counters.RemediationSuccess},
		{Category: "Unsupported device class", Count: unsupported},
		{Category: "Remediation failed", Count: remFailed},
		{Category: "Invalid ranges", Count: rs.Counters.RangeErrors},
	}
}

func (rs *ResultSet) filter(keep func(*DeviceRecord) bool) []DeviceRecord {
	out := make([]DeviceRecord, 0)

	for i := range rs.records {
		if keep(&rs.records[i]) {
			out = append(out, rs.records[i])
		}
	}

	return out
}

type resultSetJSON struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Ranges      []string       `json:"ranges"`
	RangeErrors []RangeError   `json:"range_errors,omitempty"`
	Counters    Counters       `json:"counters"`
	DryRun      bool           `json:"dry_run,omitempty"`
	Summary     []SummaryRow   `json:"summary"`
	Records     []DeviceRecord `json:"records"`
}

func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultSetJSON{
		RunID:       rs.RunID,
		StartedAt:   rs.StartedAt,
		FinishedAt:  rs.FinishedAt,
		Ranges:      rs.Ranges,
		RangeErrors: rs.RangeErrors,
		Counters:    rs.Counters,
		DryRun:      rs.DryRun,
		Summary:     rs.Summary(),
		Records:     rs.records,
	})
}
