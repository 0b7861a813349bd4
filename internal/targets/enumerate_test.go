package targets

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrs(t *testing.T, in []netip.Addr) []string {
	t.Helper()

	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, a.String())
	}

	return out
}

func TestEnumerator_SmallRangeReturnsUsableHosts(t *testing.T) {
	t.Parallel()

	e := New([]string{"10.0.0.0/30"}, 0)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, addrs(t, e.All()))
	assert.Empty(t, e.Errors())
}

func TestEnumerator_HostBitsAreMasked(t *testing.T) {
	t.Parallel()

	e := New([]string{"192.168.5.77/29"}, 0)
	got := addrs(t, e.All())

	require.Len(t, got, 6)
	assert.Equal(t, "192.168.5.73", got[0])
	assert.Equal(t, "192.168.5.78", got[5])
}

func TestEnumerator_PointToPointAndSingleHost(t *testing.T) {
	t.Parallel()

	e := New([]string{"10.9.9.0/31", "10.9.9.10/32", "10.9.9.20"}, 0)
	assert.Equal(t, []string{"10.9.9.0", "10.9.9.1", "10.9.9.10", "10.9.9.20"}, addrs(t, e.All()))
}

func TestEnumerator_MappedPrefixMatchesIPv4(t *testing.T) {
	t.Parallel()

	e := New([]string{"::ffff:10.0.0.1/128", "10.0.0.1", "::ffff:10.0.1.0/126"}, 0)
	assert.Equal(t, []string{"10.0.0.1", "10.0.1.1", "10.0.1.2"}, addrs(t, e.All()))
}

func TestEnumerator_DeduplicatesOverlaps(t *testing.T) {
	t.Parallel()

	e := New([]string{"10.0.0.0/29", "10.0.0.4/30", "10.0.0.2"}, 0)
	got := addrs(t, e.All())

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"}, got)
}

func TestEnumerator_MalformedRangeIsSkipped(t *testing.T) {
	t.Parallel()

	e := New([]string{"not-a-range", "10.0.0.0/30", "10.0.0.0/33", " ", "10.0.0.0/8"}, 16)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, addrs(t, e.All()))

	errs := e.Errors()
	require.Len(t, errs, 4)
	assert.Equal(t, "not-a-range", errs[0].Range)
	assert.Equal(t, "10.0.0.0/33", errs[1].Range)
	require.ErrorIs(t, errs[2], ErrEmptyRange)
	require.ErrorIs(t, errs[3], ErrRangeTooLarge)
}

func TestEnumerator_IPv6KeepsEveryAddress(t *testing.T) {
	t.Parallel()

	e := New([]string{"2001:db8::/126"}, 0)
	assert.Equal(t, []string{"2001:db8::", "2001:db8::1", "2001:db8::2", "2001:db8::3"}, addrs(t, e.All()))
}

func TestEnumerator_IsNotRestartable(t *testing.T) {
	t.Parallel()

	e := New([]string{"10.1.1.0/30"}, 0)
	require.Len(t, e.All(), 2)

	_, ok := e.Next()
	assert.False(t, ok)
	assert.Empty(t, e.All())
}

func TestEnumerator_LargeRangeWithinLimit(t *testing.T) {
	t.Parallel()

	e := New([]string{"172.16.0.0/22"}, 0)
	got := e.All()

	require.Len(t, got, 1022)
	assert.Equal(t, "172.16.0.1", got[0].String())
	assert.Equal(t, "172.16.3.254", got[len(got)-1].String())

	unique := make(map[netip.Addr]struct{}, len(got))
	for _, a := range got {
		unique[a] = struct{}{}
	}

	assert.Len(t, unique, len(got))
}
