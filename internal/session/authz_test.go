package session_test

import (
	"testing"

	"github.com/rliang/library-server/internal/models"
	"github.com/rliang/library-server/internal/session"
	"github.com/stretchr/testify/assert"
)

func appRules() *session.Rules {
	return session.NewRules().
		Whitelist("/login", "/books/preview/*").
		Restrict("/admin/books", models.RoleStaff).
		Restrict("/admin/users", models.RoleStaff)
}

func authedSnap(role models.Role) session.Snapshot {
	return session.Snapshot{
		State:     session.StateAuthenticated,
		Principal: &session.Principal{ID: "user-1", Token: "tok"},
		Profile:   &models.Profile{ID: "user-1", Username: "alex", Role: role},
	}
}

func TestAuthorizeWhitelistedWithoutSession(t *testing.T) {
	rules := appRules()

	d := rules.Authorize("/login", session.Snapshot{State: session.StateAnonymous})
	assert.Equal(t, session.VerdictAllow, d.Verdict)

	// Prefix pattern.
	d = rules.Authorize("/books/preview/42", session.Snapshot{State: session.StateAnonymous})
	assert.Equal(t, session.VerdictAllow, d.Verdict)
}

func TestAuthorizeUnresolvedSessionIsPending(t *testing.T) {
	d := appRules().Authorize("/catalog", session.Snapshot{State: session.StateUnknown})
	assert.Equal(t, session.VerdictPending, d.Verdict)
}

func TestAuthorizeAnonymousDeniedWithOriginPreserved(t *testing.T) {
	d := appRules().Authorize("/catalog", session.Snapshot{State: session.StateAnonymous})

	assert.Equal(t, session.VerdictDeny, d.Verdict)
	assert.Equal(t, "/catalog", d.From)

	// After authentication the user lands back where they started.
	assert.Equal(t, "/catalog", session.LoginTarget(d.From))
}

func TestAuthorizeStaffOnlyRouteDeniesStudent(t *testing.T) {
	d := appRules().Authorize("/admin/books", authedSnap(models.RoleStudent))

	assert.Equal(t, session.VerdictDeny, d.Verdict)
	assert.Equal(t, "/admin/books", d.From)
	assert.Equal(t, "/admin/books", session.LoginTarget(d.From))
}

func TestAuthorizeStaffOnlyRouteAllowsStaff(t *testing.T) {
	d := appRules().Authorize("/admin/books", authedSnap(models.RoleStaff))
	assert.Equal(t, session.VerdictAllow, d.Verdict)
}

func TestAuthorizeUnrestrictedRouteAllowsAnyAuthenticated(t *testing.T) {
	for _, role := range []models.Role{models.RoleStudent, models.RoleTeacher, models.RoleStaff} {
		d := appRules().Authorize("/catalog", authedSnap(role))
		assert.Equal(t, session.VerdictAllow, d.Verdict, "role %s", role)
	}
}

func TestAuthorizeRestrictedRouteWithoutProfileIsPending(t *testing.T) {
	snap := session.Snapshot{
		State:     session.StateAuthenticated,
		Principal: &session.Principal{ID: "user-1", Token: "tok"},
		// Profile not yet resolved: the live role is unknown, so the
		// verdict must not be a denial.
	}

	d := appRules().Authorize("/admin/books", snap)
	assert.Equal(t, session.VerdictPending, d.Verdict)
}

func TestLoginTargetDefaultsToRoot(t *testing.T) {
	assert.Equal(t, "/", session.LoginTarget(""))
	assert.Equal(t, "/my-borrows", session.LoginTarget("/my-borrows"))
}
