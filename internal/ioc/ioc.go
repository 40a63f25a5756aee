// Package ioc classifies and canonicalizes indicator-of-compromise values.
package ioc

import (
	"errors"
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"github.com/threatlens/threatlens/internal/models"
)

// MaxInputLength is the hard ceiling on raw indicator input.
const MaxInputLength = 2048

// maxDomainLength is the RFC 1035 limit on a full domain name.
const maxDomainLength = 253

var (
	// ErrEmptyOrTooLong indicates the input was empty or exceeded MaxInputLength.
	ErrEmptyOrTooLong = errors.New("indicator value is empty or too long")

	// ErrUnrecognized indicates the input matched no known indicator format.
	ErrUnrecognized = errors.New("unrecognized indicator format")
)

var (
	md5Pattern    = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
	sha1Pattern   = regexp.MustCompile(`^[a-fA-F0-9]{40}$`)
	sha256Pattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	domainPattern = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]$`)
)

// Classify detects the indicator type of a raw string. Detection runs
// most-specific first: hashes, then IPs, then URLs, then domains.
func Classify(raw string) (models.IndicatorType, error) {
	if raw == "" || len(raw) > MaxInputLength {
		return "", ErrEmptyOrTooLong
	}

	switch {
	case sha256Pattern.MatchString(raw):
		return models.TypeSHA256, nil
	case sha1Pattern.MatchString(raw):
		return models.TypeSHA1, nil
	case md5Pattern.MatchString(raw):
		return models.TypeMD5, nil
	}

	if addr, err := netip.ParseAddr(raw); err == nil {
		if addr.Is4() {
			return models.TypeIPv4, nil
		}
		return models.TypeIPv6, nil
	}

	if isURL(raw) {
		return models.TypeURL, nil
	}

	if isDomain(raw) {
		return models.TypeDomain, nil
	}

	return "", ErrUnrecognized
}

// isURL reports whether the value is an http, https or ftp URL with a
// valid host and optional port and path.
func isURL(value string) bool {
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp":
	default:
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if host == "localhost" || isDomain(host) {
		return true
	}
	if _, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return true
	}
	return false
}

// isDomain reports whether the value is an RFC-1035-shaped domain name.
func isDomain(value string) bool {
	if len(value) > maxDomainLength {
		return false
	}
	return domainPattern.MatchString(value)
}

// Canonicalize normalizes a classified indicator value. It is idempotent:
// canonicalizing an already canonical value returns it unchanged.
func Canonicalize(value string, t models.IndicatorType) string {
	switch {
	case t.IsIP():
		return value
	case t == models.TypeDomain:
		return strings.TrimSuffix(strings.ToLower(value), ".")
	case t == models.TypeURL:
		return canonicalizeURL(value)
	case t.IsHash():
		return strings.ToLower(value)
	}
	return value
}

// canonicalizeURL lower-cases the scheme and host, keeps path and query
// untouched, and drops any fragment.
func canonicalizeURL(value string) string {
	u, err := url.Parse(value)
	if err != nil {
		return value
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}
