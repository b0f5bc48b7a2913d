package messaging

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// ErrUntrustedOrigin is returned for messages from an origin the policy
// does not list.
var ErrUntrustedOrigin = errors.New("untrusted origin")

// OriginPolicy lists the origins allowed to talk to an endpoint. "*" allows
// every origin.
type OriginPolicy struct {
	Allowed []string
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}

// Allows reports whether origin is trusted.
func (p OriginPolicy) Allows(origin string) bool {
	o := normalizeOrigin(origin)
	for _, a := range p.Allowed {
		if a == "*" || normalizeOrigin(a) == o {
			return true
		}
	}
	return false
}

// Check returns ErrUntrustedOrigin when origin is not allowed.
func (p OriginPolicy) Check(origin string) error {
	if !p.Allows(origin) {
		return ErrUntrustedOrigin
	}
	return nil
}

// CheckRequest is a websocket CheckOrigin. Requests without an Origin header
// come from non-browser clients and are accepted; with an empty policy only
// same-host origins pass.
func (p OriginPolicy) CheckRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(p.Allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	return p.Allows(origin)
}
