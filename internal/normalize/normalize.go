package normalize

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExtractRootDomain reduces a URL or host to its registrable root domain
// (eTLD+1), lowercased, without scheme, port, path or "www.".
// Every domain comparison in the module must go through this function.
//
//	"https://www.Example.com/x"  -> "example.com"
//	"shop.example.co.uk:8080"    -> "example.co.uk"
//	"http://[::1"                -> "http://[::1" (unparsable, returned as-is)
func ExtractRootDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	host, ok := hostOf(s)
	if !ok || host == "" {
		return s
	}
	if net.ParseIP(host) != nil {
		return host
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}

// Host returns the lowercased host of a URL or bare domain with "www."
// stripped, keeping subdomains.
func Host(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	host, ok := hostOf(s)
	if !ok {
		return s
	}
	return host
}

func hostOf(s string) (string, bool) {
	if !strings.Contains(s, "://") {
		if i := strings.IndexAny(s, "/?#"); i >= 0 {
			s = s[:i]
		}
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	host = strings.TrimPrefix(host, "www.")
	return host, true
}

// URL canonicalizes a URL for equality checks between crawl logs and stored
// URL entries: lowercase scheme and host, no "www.", no fragment, no default
// port and no trailing slash.
func URL(raw string) string {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(s), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" && !(port == "80" && u.Scheme == "http") && !(port == "443" && u.Scheme == "https") {
		host = net.JoinHostPort(host, port)
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	out := u.String()
	return strings.TrimSuffix(out, "/")
}
