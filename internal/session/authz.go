package session

import (
	"strings"

	"github.com/rliang/library-server/internal/models"
)

// Verdict of an authorization check
type Verdict int

const (
	// VerdictPending means the session is still resolving; render a loading
	// state, never a login gate.
	VerdictPending Verdict = iota
	VerdictAllow
	// VerdictDeny sends the caller to the login entry point. Decision.From
	// preserves the originally requested path so it can be restored after
	// authentication.
	VerdictDeny
)

// Decision is the outcome of Rules.Authorize
type Decision struct {
	Verdict Verdict
	From    string
}

// Rules maps route paths to role restrictions plus a whitelist of paths
// reachable without a session. A whitelist pattern is either an exact path
// or a prefix pattern ending in "/*".
type Rules struct {
	restricted map[string][]models.Role
	whitelist  []string
}

func NewRules() *Rules {
	return &Rules{restricted: make(map[string][]models.Role)}
}

// Whitelist marks paths as reachable without authentication
func (r *Rules) Whitelist(patterns ...string) *Rules {
	r.whitelist = append(r.whitelist, patterns...)
	return r
}

// Restrict limits a path to the given roles. A path with no restriction is
// open to any authenticated user.
func (r *Rules) Restrict(path string, roles ...models.Role) *Rules {
	r.restricted[path] = roles
	return r
}

// Whitelisted reports whether the path matches a whitelist pattern
func (r *Rules) Whitelisted(path string) bool {
	for _, pattern := range r.whitelist {
		if strings.HasSuffix(pattern, "/*") {
			if strings.HasPrefix(path, strings.TrimSuffix(pattern, "/*")) {
				return true
			}
		} else if path == pattern {
			return true
		}
	}
	return false
}

// Authorize gates access to path for the given session snapshot.
//
// Whitelisted paths are always allowed. Before the session resolves the
// verdict is Pending. An anonymous caller, or one whose role does not
// satisfy the path's restriction, is denied with the original path
// preserved in From. A restricted path with the profile not yet loaded is
// Pending rather than denied, since the live role is unknown.
func (r *Rules) Authorize(path string, snap Snapshot) Decision {
	if r.Whitelisted(path) {
		return Decision{Verdict: VerdictAllow}
	}

	switch snap.State {
	case StateUnknown:
		return Decision{Verdict: VerdictPending}
	case StateAnonymous:
		return Decision{Verdict: VerdictDeny, From: path}
	}

	roles, ok := r.restricted[path]
	if !ok || len(roles) == 0 {
		return Decision{Verdict: VerdictAllow}
	}
	if snap.Profile == nil {
		return Decision{Verdict: VerdictPending}
	}
	for _, role := range roles {
		if snap.Profile.Role == role {
			return Decision{Verdict: VerdictAllow}
		}
	}
	return Decision{Verdict: VerdictDeny, From: path}
}

// LoginTarget returns where to navigate after a successful authentication:
// the preserved origin when there is one, the root otherwise.
func LoginTarget(from string) string {
	if from == "" {
		return "/"
	}
	return from
}
