package model

import (
	"encoding/json"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, addr string, build func(*DeviceRecord)) DeviceRecord {
	t.Helper()

	rec := NewDeviceRecord(netip.MustParseAddr(addr))
	build(&rec)
	rec.Finalize(time.Now())

	return rec
}

func sampleResultSet(t *testing.T) *ResultSet {
	t.Helper()

	unreachable := record(t, "10.0.0.9", func(r *DeviceRecord) {
		require.NoError(t, r.SetReachability(Unreachable, 0, "timeout"))
	})
	authFailed := record(t, "10.0.0.2", func(r *DeviceRecord) {
		require.NoError(t, r.SetReachability(Reachable, 0, ""))
		require.NoError(t, r.SetSession(SessionAuthFailed, "bad password"))
	})
	rotated := record(t, "10.0.0.1", func(r *DeviceRecord) {
		require.NoError(t, r.SetReachability(Reachable, 0, ""))
		require.NoError(t, r.SetSession(SessionConnected, ""))
		require.NoError(t, r.SetIdentity("core-sw", ClassNetworkOS))
		require.NoError(t, r.SetRemediation(RemediationOutcome{Status: RemediationSuccess}))
	})
	unsupported := record(t, "10.0.0.10", func(r *DeviceRecord) {
		require.NoError(t, r.SetReachability(Reachable, 0, ""))
		require.NoError(t, r.SetSession(SessionConnected, ""))
		require.NoError(t, r.SetIdentity("", ClassUnknown))
		require.NoError(t, r.SetRemediation(RemediationOutcome{Status: RemediationUnsupported}))
	})

	return BuildResultSet("run-1", time.Now(), time.Now(), []string{"10.0.0.0/28", "bogus"},
		[]RangeError{{Range: "bogus", Reason: "parse"}},
		[]DeviceRecord{unreachable, authFailed, rotated, unsupported}, false)
}

func TestBuildResultSet_OrdersByAddressAndCounts(t *testing.T) {
	t.Parallel()

	rs := sampleResultSet(t)
	all := rs.All()
	require.Len(t, all, 4)

	got := make([]string, 0, len(all))
	for _, r := range all {
		got = append(got, r.Address.String())
	}

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.9", "10.0.0.10"}, got)
	assert.Equal(t, Counters{Targets: 4, Reachable: 3, SessionSuccess: 2, RemediationSuccess: 1, RangeErrors: 1}, rs.Counters)
}

func TestResultSet_Views(t *testing.T) {
	t.Parallel()

	rs := sampleResultSet(t)

	failed := rs.ReachableButFailed()
	require.Len(t, failed, 2)
	assert.Equal(t, "10.0.0.2", failed[0].Address.String())
	assert.Equal(t, "10.0.0.10", failed[1].Address.String())

	ok := rs.FullySuccessful()
	require.Len(t, ok, 1)
	assert.Equal(t, "core-sw", ok[0].Identifier)

	rec, found := rs.Lookup(netip.MustParseAddr("10.0.0.9"))
	require.True(t, found)
	assert.Equal(t, Unreachable, rec.Reachable)

	_, found = rs.Lookup(netip.MustParseAddr("10.0.0.3"))
	assert.False(t, found)

	summary := map[string]int{}
	for _, row := range rs.Summary() {
		summary[row.Category] = row.Count
	}

	assert.Equal(t, 1, summary["Unreachable"])
	assert.Equal(t, 1, summary["Authentication failed"])
	assert.Equal(t, 1, summary["Unsupported device class"])
	assert.Equal(t, 1, summary["Invalid ranges"])
}

func TestResultSet_AccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	rs := sampleResultSet(t)
	all := rs.All()
	all[0].Identifier = "tampered"

	assert.Equal(t, "core-sw", rs.All()[0].Identifier)
}

func TestResultSet_MarshalJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(sampleResultSet(t))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Len(t, decoded["records"], 4)
	assert.Len(t, decoded["summary"], 11)
}
