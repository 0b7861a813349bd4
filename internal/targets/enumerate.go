// Package targets expands configured range expressions into host addresses.
package targets

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

const DefaultMaxHostBits = 16

var (
	ErrRangeTooLarge = errors.New("range too large")
	ErrEmptyRange    = errors.New("empty range expression")
)

// RangeError reports a range expression that was skipped.
type RangeError struct {
	Range string
	Err   error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %q: %v", e.Range, e.Err)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// span is one parsed range: first and last address to yield, inclusive.
type span struct {
	first netip.Addr
	last  netip.Addr
}

// Enumerator yields every usable host of its ranges once. It is lazy and cannot be rewound.
type Enumerator struct {
	spans  []span
	errs   []*RangeError
	idx    int
	next   netip.Addr
	primed bool
	seen   map[netip.Addr]struct{}
}

// New parses every range up front. Malformed ranges are recorded in Errors and skipped.
// maxHostBits <= 0 selects DefaultMaxHostBits.
func New(ranges []string, maxHostBits int) *Enumerator {
	if maxHostBits <= 0 {
		maxHostBits = DefaultMaxHostBits
	}

	e := &Enumerator{seen: make(map[netip.Addr]struct{})}

	for _, raw := range ranges {
		sp, err := parseRange(raw, maxHostBits)
		if err != nil {
			e.errs = append(e.errs, &RangeError{Range: raw, Err: err})
			continue
		}

		if sp.first.IsValid() {
			e.spans = append(e.spans, sp)
		}
	}

	return e
}

// Errors returns the ranges that failed to parse.
func (e *Enumerator) Errors() []*RangeError {
	return e.errs
}

// Next returns the next not-yet-seen address.
func (e *Enumerator) Next() (netip.Addr, bool) {
	for e.idx < len(e.spans) {
		sp := e.spans[e.idx]

		var cur netip.Addr
		if !e.primed {
			cur = sp.first
			e.primed = true
		} else {
			if e.next == sp.last {
				e.idx++
				e.primed = false

				continue
			}

			cur = e.next.Next()
		}

		e.next = cur

		if _, dup := e.seen[cur]; dup {
			continue
		}

		e.seen[cur] = struct{}{}

		return cur, true
	}

	return netip.Addr{}, false
}

// All drains the enumerator.
func (e *Enumerator) All() []netip.Addr {
	var out []netip.Addr

	for addr, ok := e.Next(); ok; addr, ok = e.Next() {
		out = append(out, addr)
	}

	return out
}

func parseRange(raw string, maxHostBits int) (span, error) {
	expr := strings.TrimSpace(raw)
	if expr == "" {
		return span{}, ErrEmptyRange
	}

	if !strings.Contains(expr, "/") {
		addr, err := netip.ParseAddr(expr)
		if err != nil {
			return span{}, err
		}

		addr = addr.Unmap()

		return span{first: addr, last: addr}, nil
	}

	prefix, err := netip.ParsePrefix(expr)
	if err != nil {
		return span{}, err
	}

	// Host bits set in the expression are dropped, as a non-strict parse would.
	prefix = prefix.Masked()

	// A v4-mapped prefix names the same hosts as its IPv4 form.
	if a := prefix.Addr(); a.Is4In6() && prefix.Bits() >= 96 {
		prefix = netip.PrefixFrom(a.Unmap(), prefix.Bits()-96)
	}

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > maxHostBits {
		return span{}, fmt.Errorf("%w: /%d exceeds %d host bits", ErrRangeTooLarge, prefix.Bits(), maxHostBits)
	}

	first := prefix.Addr()
	last := lastAddr(prefix)

	// IPv4 network and broadcast addresses are not hosts, except on /31 and /32.
	if first.Is4() && hostBits >= 2 {
		first = first.Next()
		last = last.Prev()
	}

	return span{first: first, last: last}, nil
}

func lastAddr(prefix netip.Prefix) netip.Addr {
	raw := prefix.Addr().AsSlice()
	bits := prefix.Bits()

	for i := range raw {
		byteStart := i * 8
		switch {
		case byteStart >= bits:
			raw[i] = 0xff
		case byteStart+8 > bits:
			raw[i] |= 0xff >> (bits - byteStart)
		}
	}

	addr, _ := netip.AddrFromSlice(raw)

	return addr
}
