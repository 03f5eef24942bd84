package transport

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultTrustedOrigins matches the hosted display domains, with or without a port.
var DefaultTrustedOrigins = []string{
	"http*://display*{hubstairs.io,hubstairs.com,nfinite.app}",
	"http*://display*{hubstairs.io,hubstairs.com,nfinite.app}:*",
}

// OriginPolicy decides which origins a session trusts.
type OriginPolicy struct {
	patterns []string
}

// NewOriginPolicy compiles a set of doublestar patterns. An empty set trusts nothing.
func NewOriginPolicy(patterns ...string) (*OriginPolicy, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid origin pattern %q", p)
		}
	}
	return &OriginPolicy{patterns: append([]string(nil), patterns...)}, nil
}

// DefaultOriginPolicy trusts DefaultTrustedOrigins.
func DefaultOriginPolicy() *OriginPolicy {
	return &OriginPolicy{patterns: append([]string(nil), DefaultTrustedOrigins...)}
}

// Patterns returns the configured patterns.
func (p *OriginPolicy) Patterns() []string {
	return append([]string(nil), p.patterns...)
}

// Allow reports whether origin matches a trusted pattern.
func (p *OriginPolicy) Allow(origin string) bool {
	if origin == "" || origin == AnyOrigin {
		return false
	}
	for _, pattern := range p.patterns {
		if ok, _ := doublestar.Match(pattern, origin); ok {
			return true
		}
	}
	return false
}

// AllowURL reports whether the origin of a full URL is trusted.
func (p *OriginPolicy) AllowURL(raw string) bool {
	origin, err := OriginOf(raw)
	if err != nil {
		return false
	}
	return p.Allow(origin)
}

// OriginOf returns scheme://host[:port] for a URL. Websocket schemes map to
// their http equivalents, since that is the origin a frame reports.
func OriginOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no origin", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(u.Host), nil
}
