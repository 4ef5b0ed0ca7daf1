// Package urlmatch implements browser-extension style URL match patterns
// such as "<all_urls>", "*://*.example.com/*" and "https://host/path*".
package urlmatch

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/publicsuffix"
)

// AllURLs matches every http, https, ws and wss URL.
const AllURLs = "<all_urls>"

const cacheSize = 512

var (
	allSchemes = map[string]struct{}{"http": {}, "https": {}, "ws": {}, "wss": {}}
	wildScheme = map[string]struct{}{"http": {}, "https": {}}

	compiled, _ = lru.New[string, *Matcher](cacheSize)
)

// Matcher is a compiled match pattern. It is safe for concurrent use.
type Matcher struct {
	pattern string
	schemes map[string]struct{}
	host    glob.Glob // nil matches any host
	path    glob.Glob
}

// Compile parses pattern. Compiled matchers are cached, so repeated calls
// with the same pattern are cheap.
func Compile(pattern string) (*Matcher, error) {
	if m, ok := compiled.Get(pattern); ok {
		return m, nil
	}
	m, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	compiled.Add(pattern, m)
	return m, nil
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(pattern string) *Matcher {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

func compile(pattern string) (*Matcher, error) {
	if pattern == AllURLs {
		return &Matcher{pattern: pattern, schemes: allSchemes, path: glob.MustCompile("*")}, nil
	}

	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok {
		return nil, fmt.Errorf("invalid match pattern %q: missing scheme separator", pattern)
	}

	m := &Matcher{pattern: pattern}
	switch scheme {
	case "*":
		m.schemes = wildScheme
	case "http", "https", "ws", "wss", "file":
		m.schemes = map[string]struct{}{scheme: {}}
	default:
		return nil, fmt.Errorf("invalid match pattern %q: unsupported scheme %q", pattern, scheme)
	}

	host, path, found := strings.Cut(rest, "/")
	if !found {
		return nil, fmt.Errorf("invalid match pattern %q: missing path", pattern)
	}
	path = "/" + path

	if scheme != "file" {
		hostGlob, err := compileHost(host)
		if err != nil {
			return nil, fmt.Errorf("invalid match pattern %q: %w", pattern, err)
		}
		m.host = hostGlob
	}

	pathGlob, err := glob.Compile(quoteMeta(path, '*'))
	if err != nil {
		return nil, fmt.Errorf("invalid match pattern %q: %w", pattern, err)
	}
	m.path = pathGlob
	return m, nil
}

// compileHost accepts "*", "*.domain" or an exact host. A leading "*."
// matches the domain itself and any subdomain.
func compileHost(host string) (glob.Glob, error) {
	host = strings.ToLower(host)
	switch {
	case host == "*":
		return nil, nil
	case host == "":
		return nil, fmt.Errorf("empty host")
	case strings.HasPrefix(host, "*."):
		domain := host[2:]
		if domain == "" || strings.Contains(domain, "*") {
			return nil, fmt.Errorf("wildcard only allowed as leading label in %q", host)
		}
		quoted := quoteMeta(domain)
		return glob.Compile("{"+quoted+",**."+quoted+"}", '.')
	case strings.Contains(host, "*"):
		return nil, fmt.Errorf("wildcard only allowed as leading label in %q", host)
	}
	return glob.Compile(quoteMeta(host), '.')
}

// quoteMeta escapes glob syntax except for the runes in keep.
func quoteMeta(s string, keep ...rune) string {
	var b strings.Builder
	for _, r := range s {
		special := strings.ContainsRune(`*?[]{}\!`, r)
		kept := false
		for _, k := range keep {
			if r == k {
				kept = true
			}
		}
		if special && !kept {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// String returns the source pattern.
func (m *Matcher) String() string {
	return m.pattern
}

// Match reports whether rawURL matches. Unparseable URLs never match.
func (m *Matcher) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return m.MatchURL(u)
}

// MatchURL is Match for an already parsed URL. The query string takes part
// in path matching; the fragment does not.
func (m *Matcher) MatchURL(u *url.URL) bool {
	if _, ok := m.schemes[strings.ToLower(u.Scheme)]; !ok {
		return false
	}
	if u.Scheme != "file" && u.Hostname() == "" {
		return false
	}
	if m.host != nil && !m.host.Match(strings.ToLower(u.Hostname())) {
		return false
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return m.path.Match(path)
}

// MatchAny reports whether rawURL matches any of patterns. Invalid patterns
// are skipped; the first one is returned as err so callers can report it.
func MatchAny(patterns []string, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, nil
	}

	var firstErr error
	for _, p := range patterns {
		m, err := Compile(p)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if m.MatchURL(u) {
			return true, firstErr
		}
	}
	return false, firstErr
}

// Site returns the registrable domain (eTLD+1) of rawURL, used to group tabs
// by site. Hosts without a public suffix, such as localhost or IP addresses,
// are returned as is.
func Site(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}
