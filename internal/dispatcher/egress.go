package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var ErrPolicyDenied = errors.New("egress policy denied")

// EgressPolicy restricts where records may be sent. The zero value allows
// any http or https URL and follows redirects, checking every hop.
type EgressPolicy struct {
	HTTPSOnly bool
	// NoRedirects hands a 3xx response back as the result instead of
	// following it.
	NoRedirects bool

	Allow []EgressRule
}

// EgressRule matches a destination by exact host, by subdomain of Host, or
// by resolved address when IsCIDR is set.
type EgressRule struct {
	Host       string
	Subdomains bool
	CIDR       netip.Prefix
	IsCIDR     bool
}

// ParseEgressRules turns "host", "*.domain" and "cidr" entries into rules.
func ParseEgressRules(entries []string) ([]EgressRule, error) {
	rules := make([]EgressRule, 0, len(entries))
	for _, raw := range entries {
		entry := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case entry == "":
		case strings.Contains(entry, "/"):
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("egress rule %q: %w", raw, err)
			}
			rules = append(rules, EgressRule{CIDR: p.Masked(), IsCIDR: true})
		case strings.HasPrefix(entry, "*."):
			rules = append(rules, EgressRule{Host: canonicalHost(entry[2:]), Subdomains: true})
		default:
			rules = append(rules, EgressRule{Host: canonicalHost(entry)})
		}
	}
	return rules, nil
}

func (r EgressRule) matches(host string, addrs []netip.Addr) bool {
	if r.IsCIDR {
		for _, a := range addrs {
			if r.CIDR.Contains(a) {
				return true
			}
		}
		return false
	}
	switch {
	case r.Host == "" || host == "":
		return false
	case r.Host == "*":
		return true
	case r.Subdomains:
		return strings.HasSuffix(host, "."+r.Host)
	default:
		return host == r.Host
	}
}

type resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

func checkEgressPolicy(ctx context.Context, rawURL string, policy EgressPolicy, r resolver) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	return checkEgressPolicyURL(ctx, u, policy, r)
}

func checkEgressPolicyURL(ctx context.Context, u *url.URL, policy EgressPolicy, r resolver) error {
	if u == nil {
		return fmt.Errorf("%w: empty url", ErrPolicyDenied)
	}
	switch scheme := strings.ToLower(u.Scheme); {
	case scheme != "http" && scheme != "https":
		return fmt.Errorf("%w: scheme %q is not allowed", ErrPolicyDenied, u.Scheme)
	case policy.HTTPSOnly && scheme != "https":
		return fmt.Errorf("%w: https_only enforced", ErrPolicyDenied)
	}

	host := canonicalHost(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrPolicyDenied)
	}
	if len(policy.Allow) == 0 {
		return nil
	}

	var addrs []netip.Addr
	if policy.needsAddrs() {
		var err error
		if addrs, err = lookupAddrs(ctx, host, r); err != nil {
			return err
		}
	}
	for _, rule := range policy.Allow {
		if rule.matches(host, addrs) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q not in egress allowlist", ErrPolicyDenied, host)
}

func (p EgressPolicy) needsAddrs() bool {
	for _, r := range p.Allow {
		if r.IsCIDR {
			return true
		}
	}
	return false
}

func lookupAddrs(ctx context.Context, host string, r resolver) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a.Unmap()}, nil
	}
	if r == nil {
		r = net.DefaultResolver
	}
	found, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	addrs := make([]netip.Addr, 0, len(found))
	for _, ip := range found {
		if a, ok := netip.AddrFromSlice(ip.IP); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("dns lookup returned no addresses for %q", host)
	}
	return addrs, nil
}

func canonicalHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
