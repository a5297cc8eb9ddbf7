package scrape

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExtractDomain extracts the lowercase hostname from a URL string
func ExtractDomain(urlStr string) (string, error) {
	urlStr = strings.TrimSpace(urlStr)

	// Handle protocol-relative URLs
	if strings.HasPrefix(urlStr, "//") {
		urlStr = "https:" + urlStr
	}

	if !strings.Contains(urlStr, "://") {
		return "", fmt.Errorf("url %q has no scheme", urlStr)
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("url %q has no host", urlStr)
	}

	return strings.ToLower(hostname), nil
}

// ExtractRootDomain extracts the registrable domain from a hostname
// Example: careers.example.com -> example.com, jobs.acme.co.uk -> acme.co.uk
// IP addresses are returned as is; hosts the public suffix list rejects
// fall back to the last two labels.
func ExtractRootDomain(domain string) string {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	if net.ParseIP(domain) != nil {
		return domain
	}
	if root, err := publicsuffix.EffectiveTLDPlusOne(domain); err == nil {
		return root
	}

	parts := strings.Split(domain, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "." + parts[len(parts)-1]
	}
	return domain
}

// ResolveURL resolves href against base and drops fragments.
// Returns "" for empty, malformed or non-http(s) references.
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := u
	if base != nil {
		resolved = base.ResolveReference(u)
	}

	switch strings.ToLower(resolved.Scheme) {
	case "http", "https":
	default:
		return ""
	}

	resolved.Fragment = ""
	return resolved.String()
}
