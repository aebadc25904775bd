package common

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HostFromURL returns the lower-cased host of rawURL without port or "www.".
func HostFromURL(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return strings.TrimPrefix(host, "www."), nil
}

// RegistrableDomain returns the eTLD+1 of a URL or host, e.g. "news.bbc.co.uk" -> "bbc.co.uk".
// IP hosts and bare suffixes are returned as-is.
func RegistrableDomain(rawURL string) (string, error) {
	host, err := HostFromURL(rawURL)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host, nil
	}
	return domain, nil
}

// DomainTLD returns the last label of the public suffix of domain ("bbc.co.uk" -> "uk").
func DomainTLD(domain string) string {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	if domain == "" || net.ParseIP(domain) != nil {
		return ""
	}
	suffix, _ := publicsuffix.PublicSuffix(domain)
	if i := strings.LastIndexByte(suffix, '.'); i >= 0 {
		suffix = suffix[i+1:]
	}
	return suffix
}
