package service

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/url"
)

// OriginPolicy answers the two origin questions both ceremonies ask: does
// the authenticator's relying-party-id hash match one of our hostnames, and
// is the client data origin one of our allowed URLs (exact string match).
type OriginPolicy struct {
	origins  map[string]struct{}
	rpHashes [][]byte
}

// NewOriginPolicy builds a policy from the configured allowed origin URLs.
// Relying-party-id hashes are SHA-256 digests of each origin's hostname.
func NewOriginPolicy(allowed []string) (*OriginPolicy, error) {
	if len(allowed) == 0 {
		return nil, fmt.Errorf("no allowed origins configured")
	}

	p := &OriginPolicy{origins: make(map[string]struct{}, len(allowed))}
	seen := make(map[string]struct{})
	for _, origin := range allowed {
		u, err := url.Parse(origin)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("invalid origin %q", origin)
		}
		p.origins[origin] = struct{}{}

		host := u.Hostname()
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		sum := sha256.Sum256([]byte(host))
		p.rpHashes = append(p.rpHashes, sum[:])
	}
	return p, nil
}

// MatchesRPID reports whether hash equals the SHA-256 of one of the allowed
// hostnames.
func (p *OriginPolicy) MatchesRPID(hash []byte) bool {
	for _, want := range p.rpHashes {
		if bytes.Equal(hash, want) {
			return true
		}
	}
	return false
}

// AllowsOrigin reports whether origin is exactly one of the allowed URLs.
// Prefix or suffix matches do not count.
func (p *OriginPolicy) AllowsOrigin(origin string) bool {
	_, ok := p.origins[origin]
	return ok
}
