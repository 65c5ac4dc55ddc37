package client

import (
	"time"

	"github.com/abidjan-digital/declaration-api/internal/models"
)

// Verdict is the outcome of a route authorization check.
type Verdict int

const (
	// VerdictNotReady means the session is still resolving; hold the
	// navigation and ask again once the session settles.
	VerdictNotReady Verdict = iota
	// VerdictAllow lets the navigation proceed.
	VerdictAllow
	// VerdictRedirect sends the caller to Decision.Target instead.
	VerdictRedirect
)

// Decision is the full guard outcome, including where to go on redirect.
type Decision struct {
	Verdict Verdict
	Target  string
}

// Guard answers "may this session open a route restricted to these roles".
type Guard struct {
	session *Session
}

// NewGuard builds a Guard over a session.
func NewGuard(session *Session) *Guard {
	return &Guard{session: session}
}

// Authorize checks the current session against the roles allowed on a route.
// An empty role list means any authenticated principal may enter. While the
// session is uninitialized or loading the verdict is NotReady, never a
// redirect: a slow principal fetch must not bounce a logged-in agent to the
// login page.
func (g *Guard) Authorize(allowed ...models.Role) Decision {
	snapshot := g.session.Snapshot()

	switch snapshot.State {
	case SessionUninitialized, SessionLoading:
		return Decision{Verdict: VerdictNotReady}
	case SessionAnonymous:
		return Decision{Verdict: VerdictRedirect, Target: models.RouteLogin}
	}

	// Expiry is checked per call: a session authenticated an hour ago may be
	// dead by the time the next navigation happens.
	if !snapshot.ExpiresAt.IsZero() && time.Now().After(snapshot.ExpiresAt) {
		g.session.expire()
		return Decision{Verdict: VerdictRedirect, Target: models.RouteLogin}
	}

	if len(allowed) == 0 {
		return Decision{Verdict: VerdictAllow}
	}

	role := snapshot.Principal.Role
	for _, r := range allowed {
		if r == role {
			return Decision{Verdict: VerdictAllow}
		}
	}

	// Authenticated but wrong role: send them to their own dashboard, not
	// to login.
	return Decision{Verdict: VerdictRedirect, Target: models.DefaultRouteFor(role)}
}
