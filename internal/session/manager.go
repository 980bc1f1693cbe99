// Package session owns the authenticated principal and its profile for a
// client process. All session state lives in one Manager; everything else
// reads it through Snapshot or a subscription, never through globals.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rliang/library-server/internal/models"
	"github.com/rliang/library-server/internal/utils"
)

// Principal is the authenticated identity returned by the auth service,
// independent of the application-level Profile.
type Principal struct {
	ID    string
	Token string
}

// AuthClient is the remote auth/profile surface the Manager drives
type AuthClient interface {
	// ResolveSession returns the existing session's principal, or nil when
	// there is no session.
	ResolveSession(ctx context.Context) (*Principal, error)
	SignIn(ctx context.Context, username, password string) (*Principal, error)
	SignUp(ctx context.Context, username, password string) (*Principal, error)
	SignOut(ctx context.Context) error
	FetchProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// State of the session machine
type State int

const (
	// StateUnknown means the session has not been resolved yet. It is not
	// Anonymous: consumers must render a loading state, not a login gate.
	StateUnknown State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Snapshot is an atomically consistent view of the session: Principal and
// Profile are never observed out of sync relative to each other. Profile may
// be nil while authenticated if the profile fetch failed or has not
// completed.
type Snapshot struct {
	State     State
	Principal *Principal
	Profile   *models.Profile
}

// Event is a session transition pushed by the auth layer. A nil Principal
// means signed out.
type Event struct {
	Principal *Principal
}

// Validation errors returned before any network call is made
var (
	ErrBadUsername      = errors.New("username can only contain letters, numbers, and underscores")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters long")
)

// Manager is the single owner of session state. Transitions happen only
// inside its methods; pushed events must be fed through Run so they apply
// in delivery order.
type Manager struct {
	client AuthClient
	log    *utils.Logger

	mu      sync.Mutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

func NewManager(client AuthClient, log *utils.Logger) *Manager {
	return &Manager{
		client: client,
		log:    log,
		snap:   Snapshot{State: StateUnknown},
		subs:   make(map[int]chan Snapshot),
	}
}

// Start resolves any existing session. A profile fetch failure degrades to
// an authenticated session with no profile rather than forcing sign-out;
// transient network trouble must not log the user out.
func (m *Manager) Start(ctx context.Context) error {
	principal, err := m.client.ResolveSession(ctx)
	if err != nil {
		m.set(Snapshot{State: StateAnonymous})
		return err
	}
	if principal == nil {
		m.set(Snapshot{State: StateAnonymous})
		return nil
	}
	m.set(m.resolve(ctx, principal))
	return nil
}

// Run consumes pushed session events until the channel closes or the context
// is cancelled. Events are applied strictly in delivery order.
func (m *Manager) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Principal == nil {
				m.set(Snapshot{State: StateAnonymous})
			} else {
				m.set(m.resolve(ctx, ev.Principal))
			}
		}
	}
}

// SignIn authenticates with the remote service. Validation failures are
// returned before any network call.
func (m *Manager) SignIn(ctx context.Context, username, password string) error {
	if !models.ValidUsername(username) {
		return ErrBadUsername
	}
	principal, err := m.client.SignIn(ctx, username, password)
	if err != nil {
		return err
	}
	m.set(m.resolve(ctx, principal))
	return nil
}

// SignUp registers a new account and signs it in
func (m *Manager) SignUp(ctx context.Context, username, password string) error {
	if !models.ValidUsername(username) {
		return ErrBadUsername
	}
	if !models.ValidPassword(password) {
		return ErrPasswordTooShort
	}
	principal, err := m.client.SignUp(ctx, username, password)
	if err != nil {
		return err
	}
	m.set(m.resolve(ctx, principal))
	return nil
}

// SignOut clears local state first, then requests remote invalidation.
// A remote failure is returned to the caller, but the local session stays
// cleared so the UI never appears stuck signed in.
func (m *Manager) SignOut(ctx context.Context) error {
	m.set(Snapshot{State: StateAnonymous})
	return m.client.SignOut(ctx)
}

// RefreshProfile re-fetches the live profile for the current principal.
// Role changes made by an administrator mid-session take effect through
// this call without a new sign-in.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	m.mu.Lock()
	principal := m.snap.Principal
	m.mu.Unlock()
	if principal == nil {
		return nil
	}

	profile, err := m.client.FetchProfile(ctx, principal.ID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	// The session may have transitioned while the fetch was in flight;
	// only apply the profile to the same principal.
	if m.snap.Principal != nil && m.snap.Principal.ID == principal.ID {
		m.snap.Profile = profile
		m.notifyLocked()
	}
	m.mu.Unlock()
	return nil
}

// Snapshot returns the current session state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe returns a channel that receives every subsequent state change
// and a cancel function. Slow subscribers miss intermediate snapshots rather
// than blocking the manager; the channel always eventually carries the
// latest state.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Snapshot, 1)
	m.subs[id] = ch
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// resolve builds the authenticated snapshot for a principal, fetching its
// profile. Fetch failure is logged and yields a nil profile.
func (m *Manager) resolve(ctx context.Context, principal *Principal) Snapshot {
	profile, err := m.client.FetchProfile(ctx, principal.ID)
	if err != nil {
		if m.log != nil {
			m.log.Error("fetching profile for %s: %v", principal.ID, err)
		}
		profile = nil
	}
	return Snapshot{State: StateAuthenticated, Principal: principal, Profile: profile}
}

func (m *Manager) set(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.notifyLocked()
}

func (m *Manager) notifyLocked() {
	for _, ch := range m.subs {
		// Replace a pending snapshot instead of blocking.
		select {
		case ch <- m.snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- m.snap:
			default:
			}
		}
	}
}
