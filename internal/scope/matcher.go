// Package scope checks scan targets against their declared type and the
// networks an operator is allowed to test.
package scope

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrOutOfScope is returned for targets outside every allowed network.
var ErrOutOfScope = errors.New("target outside allowed networks")

type rule struct {
	Definition string
	Type       string // "ip", "cidr" or "domain"
	prefix     netip.Prefix
	addr       netip.Addr
}

// Matcher holds allowed networks and domains. An empty matcher allows
// everything.
type Matcher struct {
	rules []rule
}

// NewMatcher parses definitions. Each is an IP, a CIDR or a domain that
// also covers its subdomains.
func NewMatcher(definitions []string) (*Matcher, error) {
	var rules []rule
	for _, def := range definitions {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		r := rule{Definition: def}

		if prefix, err := netip.ParsePrefix(def); err == nil {
			r.Type = "cidr"
			r.prefix = prefix.Masked()
			rules = append(rules, r)
			continue
		}
		if addr, err := netip.ParseAddr(def); err == nil {
			r.Type = "ip"
			r.addr = addr
			rules = append(rules, r)
			continue
		}
		if validHostname(def) {
			r.Type = "domain"
			r.Definition = normalizeHost(def)
			rules = append(rules, r)
			continue
		}
		return nil, fmt.Errorf("invalid scope definition %q", def)
	}
	return &Matcher{rules: rules}, nil
}

// Allows reports whether a target of the given type may be scanned.
// Repositories are never network scoped.
func (m *Matcher) Allows(targetType, value string) bool {
	if m == nil || len(m.rules) == 0 || targetType == "repository" {
		return true
	}
	if targetType == "ip" {
		if prefix, err := netip.ParsePrefix(value); err == nil {
			return m.coversPrefix(prefix.Masked())
		}
	}
	host := targetHost(targetType, value)
	if addr, err := netip.ParseAddr(host); err == nil {
		return m.coversPrefix(netip.PrefixFrom(addr, addr.BitLen()))
	}
	host = normalizeHost(host)
	for _, r := range m.rules {
		if r.Type == "domain" && (host == r.Definition || strings.HasSuffix(host, "."+r.Definition)) {
			return true
		}
	}
	return false
}

func (m *Matcher) coversPrefix(p netip.Prefix) bool {
	for _, r := range m.rules {
		switch r.Type {
		case "cidr":
			if r.prefix.Bits() <= p.Bits() && r.prefix.Contains(p.Addr()) {
				return true
			}
		case "ip":
			if p.IsSingleIP() && r.addr == p.Addr() {
				return true
			}
		}
	}
	return false
}

// Validate checks that value is well formed for targetType.
func Validate(targetType, value string) error {
	switch targetType {
	case "url":
		if strings.Contains(value, "://") {
			u, err := url.Parse(value)
			if err != nil {
				return fmt.Errorf("invalid url %q: %w", value, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("unsupported url scheme %q", u.Scheme)
			}
			if u.Hostname() == "" {
				return fmt.Errorf("url %q has no host", value)
			}
			return nil
		}
		if !validHost(targetHost("url", value)) {
			return fmt.Errorf("invalid url %q", value)
		}
	case "domain":
		if !validHostname(value) {
			return fmt.Errorf("invalid domain %q", value)
		}
	case "ip":
		if _, err := netip.ParseAddr(value); err == nil {
			return nil
		}
		if _, err := netip.ParsePrefix(value); err != nil {
			return fmt.Errorf("invalid ip or cidr %q", value)
		}
	case "repository":
		if strings.ContainsAny(value, " \t\n") {
			return fmt.Errorf("invalid repository %q", value)
		}
	default:
		return fmt.Errorf("unknown target type %q", targetType)
	}
	return nil
}

// targetHost extracts the host a url or domain target points at.
func targetHost(targetType, value string) string {
	if targetType != "url" {
		return value
	}
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil {
			return u.Hostname()
		}
		return ""
	}
	hostport, _, _ := strings.Cut(value, "/")
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func validHost(host string) bool {
	if _, err := netip.ParseAddr(host); err == nil {
		return true
	}
	return validHostname(host)
}

func validHostname(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if host == "" || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
