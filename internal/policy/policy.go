// Package policy compiles the user's site list into URL matchers.
// Each site filter becomes a wildcard match pattern covering the domain and
// every subdomain over any scheme, e.g. "example.com" -> "*://*.example.com/*".
package policy

import (
	"net/url"
	"regexp"
	"strings"
)

// Pattern expands a site filter into its wildcard match pattern.
func Pattern(filter string) string {
	p := "*://*." + strings.TrimSpace(filter)
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + "*"
}

// Matcher is a compiled match pattern. The zero value matches nothing.
type Matcher struct {
	pattern    string
	valid      bool
	scheme     string // "*" for any
	host       string // "" for any host
	subdomains bool
	path       *regexp.Regexp
}

// Compile parses a match pattern of the form scheme://host/path.
// Malformed patterns yield a matcher that matches nothing.
func Compile(pattern string) Matcher {
	m := Matcher{pattern: pattern}

	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok || scheme == "" {
		return m
	}
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return m
	}
	host, path := strings.ToLower(rest[:slash]), rest[slash:]

	switch {
	case host == "*":
		host = ""
	case strings.HasPrefix(host, "*."):
		host = host[2:]
		m.subdomains = true
		if host == "" || strings.ContainsAny(host, "*/:") {
			return m
		}
	case host == "" || strings.Contains(host, "*"):
		return m
	}

	re, err := regexp.Compile(globToRegexp(path))
	if err != nil {
		return m
	}

	m.scheme = strings.ToLower(scheme)
	m.host = host
	m.path = re
	m.valid = true
	return m
}

// globToRegexp turns a path glob where '*' matches any run of characters
// into an anchored regular expression.
func globToRegexp(glob string) string {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "^" + strings.Join(parts, ".*") + "$"
}

// String returns the literal pattern the matcher was compiled from.
func (m Matcher) String() string {
	return m.pattern
}

// Match reports whether rawURL is covered by the pattern.
func (m Matcher) Match(rawURL string) bool {
	if !m.valid {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return false
	}
	if m.scheme != "*" && !strings.EqualFold(u.Scheme, m.scheme) {
		return false
	}
	if !m.matchHost(strings.ToLower(u.Hostname())) {
		return false
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return m.path.MatchString(path)
}

func (m Matcher) matchHost(host string) bool {
	if host == "" {
		return false
	}
	if m.host == "" {
		return true
	}
	if host == m.host {
		return true
	}
	return m.subdomains && strings.HasSuffix(host, "."+m.host)
}
