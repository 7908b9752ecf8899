package server

import (
	"net"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
)

type addrMatcher struct {
	addrs    []netip.Addr
	prefixes []netip.Prefix
}

func newAddrMatcher(filters []string) (*addrMatcher, error) {
	matcher := &addrMatcher{}

	for _, filter := range filters {
		filter = strings.TrimSpace(filter)
		if filter == "" {
			continue
		}
		if strings.Contains(filter, "/") {
			prefix, err := netip.ParsePrefix(filter)
			if err != nil {
				return nil, err
			}
			matcher.prefixes = append(matcher.prefixes, prefix.Masked())
		} else {
			addr, err := netip.ParseAddr(filter)
			if err != nil {
				return nil, err
			}
			matcher.addrs = append(matcher.addrs, addr.Unmap())
		}
	}

	return matcher, nil
}

func (a *addrMatcher) Match(addr netip.Addr) bool {
	// ::ffff:127.0.0.1 is compared as 127.0.0.1
	addr = addr.Unmap()
	for _, candidate := range a.addrs {
		if candidate == addr {
			return true
		}
	}
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (a *addrMatcher) Empty() bool {
	return a == nil || (len(a.addrs) == 0 && len(a.prefixes) == 0)
}

// ClientFilter performs allow/deny filtering of client IP addresses
type ClientFilter struct {
	allow *addrMatcher
	deny  *addrMatcher
}

func NewClientFilterAllowAll() *ClientFilter {
	return &ClientFilter{}
}

// NewClientFilter provides a mechanism to evaluate client IP addresses and determine if
// they should be allowed access or not.
// The allows and denies can each or both be nil or contain addresses and CIDR prefixes.
func NewClientFilter(allows []string, denies []string) (*ClientFilter, error) {
	allow, err := newAddrMatcher(allows)
	if err != nil {
		return nil, errors.Wrap(err, "invalid allow filter")
	}
	deny, err := newAddrMatcher(denies)
	if err != nil {
		return nil, errors.Wrap(err, "invalid deny filter")
	}
	return &ClientFilter{
		allow: allow,
		deny:  deny,
	}, nil
}

// Allow determines if the given address is allowed by this filter.
// A non-empty allow list takes precedence over the deny list.
func (f *ClientFilter) Allow(addrPort netip.AddrPort) bool {
	if !f.allow.Empty() {
		return f.allow.Match(addrPort.Addr())
	}
	if !f.deny.Empty() {
		return !f.deny.Match(addrPort.Addr())
	}

	return true
}

// AllowAddr applies Allow to a connection's remote address. Non-IP addresses are
// only allowed when no filter is configured.
func (f *ClientFilter) AllowAddr(addr net.Addr) bool {
	if f.allow.Empty() && f.deny.Empty() {
		return true
	}
	addrPort, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return false
	}
	return f.Allow(addrPort)
}
