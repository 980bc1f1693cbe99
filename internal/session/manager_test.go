package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rliang/library-server/internal/models"
	"github.com/rliang/library-server/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthClient is a controllable AuthClient for driving the manager
type fakeAuthClient struct {
	mu sync.Mutex

	existing *session.Principal
	profiles map[string]models.Profile

	resolveErr error
	signInErr  error
	signOutErr error
	profileErr error

	signInCalls  int
	signOutCalls int
}

func newFakeAuthClient() *fakeAuthClient {
	return &fakeAuthClient{profiles: make(map[string]models.Profile)}
}

func (f *fakeAuthClient) setProfile(p models.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

func (f *fakeAuthClient) ResolveSession(ctx context.Context) (*session.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing, f.resolveErr
}

func (f *fakeAuthClient) SignIn(ctx context.Context, username, password string) (*session.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInCalls++
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return &session.Principal{ID: "user-" + username, Token: "tok"}, nil
}

func (f *fakeAuthClient) SignUp(ctx context.Context, username, password string) (*session.Principal, error) {
	return f.SignIn(ctx, username, password)
}

func (f *fakeAuthClient) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeAuthClient) FetchProfile(ctx context.Context, userID string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	out := p
	return &out, nil
}

func studentProfile(id string) models.Profile {
	return models.Profile{ID: id, Username: "alex", Role: models.RoleStudent, CreatedAt: time.Now().UTC()}
}

func TestStartResolvesExistingSession(t *testing.T) {
	client := newFakeAuthClient()
	client.existing = &session.Principal{ID: "user-1", Token: "tok"}
	client.setProfile(studentProfile("user-1"))

	m := session.NewManager(client, nil)
	require.NoError(t, m.Start(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, session.StateAuthenticated, snap.State)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, "user-1", snap.Principal.ID)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, models.RoleStudent, snap.Profile.Role)
}

func TestStartWithoutSessionIsAnonymous(t *testing.T) {
	m := session.NewManager(newFakeAuthClient(), nil)
	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, session.StateAnonymous, m.Snapshot().State)
}

func TestStartBeginsUnknown(t *testing.T) {
	m := session.NewManager(newFakeAuthClient(), nil)
	assert.Equal(t, session.StateUnknown, m.Snapshot().State)
}

func TestProfileFetchFailureDegradesNotSignsOut(t *testing.T) {
	client := newFakeAuthClient()
	client.existing = &session.Principal{ID: "user-1", Token: "tok"}
	client.profileErr = errors.New("network down")

	m := session.NewManager(client, nil)
	require.NoError(t, m.Start(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, session.StateAuthenticated, snap.State)
	require.NotNil(t, snap.Principal)
	assert.Nil(t, snap.Profile)
}

func TestSignInValidationBeforeNetwork(t *testing.T) {
	client := newFakeAuthClient()
	m := session.NewManager(client, nil)

	err := m.SignIn(context.Background(), "bad name!", "secret123")
	assert.ErrorIs(t, err, session.ErrBadUsername)
	assert.Equal(t, 0, client.signInCalls)
}

func TestSignUpValidationBeforeNetwork(t *testing.T) {
	client := newFakeAuthClient()
	m := session.NewManager(client, nil)

	err := m.SignUp(context.Background(), "alex", "short")
	assert.ErrorIs(t, err, session.ErrPasswordTooShort)
	assert.Equal(t, 0, client.signInCalls)
}

func TestSignInTransitionsToAuthenticated(t *testing.T) {
	client := newFakeAuthClient()
	client.setProfile(studentProfile("user-alex"))

	m := session.NewManager(client, nil)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.SignIn(context.Background(), "alex", "secret123"))

	snap := m.Snapshot()
	assert.Equal(t, session.StateAuthenticated, snap.State)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, "user-alex", snap.Profile.ID)
}

func TestSignOutClearsLocallyEvenWhenRemoteFails(t *testing.T) {
	client := newFakeAuthClient()
	client.existing = &session.Principal{ID: "user-1", Token: "tok"}
	client.setProfile(studentProfile("user-1"))
	client.signOutErr = errors.New("server unreachable")

	m := session.NewManager(client, nil)
	require.NoError(t, m.Start(context.Background()))

	err := m.SignOut(context.Background())
	assert.Error(t, err)

	snap := m.Snapshot()
	assert.Equal(t, session.StateAnonymous, snap.State)
	assert.Nil(t, snap.Principal)
	assert.Nil(t, snap.Profile)
	assert.Equal(t, 1, client.signOutCalls)
}

func TestRefreshProfilePicksUpRoleChange(t *testing.T) {
	client := newFakeAuthClient()
	client.existing = &session.Principal{ID: "user-1", Token: "tok"}
	client.setProfile(studentProfile("user-1"))

	m := session.NewManager(client, nil)
	require.NoError(t, m.Start(context.Background()))

	limit, unlimited := m.Snapshot().Profile.Role.BorrowLimit()
	require.False(t, unlimited)
	require.Equal(t, 3, limit)

	// An administrator promotes the user mid-session.
	promoted := studentProfile("user-1")
	promoted.Role = models.RoleTeacher
	client.setProfile(promoted)

	require.NoError(t, m.RefreshProfile(context.Background()))

	limit, unlimited = m.Snapshot().Profile.Role.BorrowLimit()
	assert.False(t, unlimited)
	assert.Equal(t, 5, limit)
}

func TestRunAppliesEventsInDeliveryOrder(t *testing.T) {
	client := newFakeAuthClient()
	client.setProfile(studentProfile("user-1"))

	m := session.NewManager(client, nil)
	require.NoError(t, m.Start(context.Background()))

	events := make(chan session.Event, 2)
	events <- session.Event{Principal: &session.Principal{ID: "user-1", Token: "tok"}}
	events <- session.Event{Principal: nil}
	close(events)

	m.Run(context.Background(), events)

	// The later signed-out event wins.
	assert.Equal(t, session.StateAnonymous, m.Snapshot().State)
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	client := newFakeAuthClient()
	client.setProfile(studentProfile("user-alex"))

	m := session.NewManager(client, nil)
	updates, cancel := m.Subscribe()
	defer cancel()

	require.NoError(t, m.SignIn(context.Background(), "alex", "secret123"))

	select {
	case snap := <-updates:
		assert.Equal(t, session.StateAuthenticated, snap.State)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	client := newFakeAuthClient()
	m := session.NewManager(client, nil)

	updates, cancel := m.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-updates
	assert.False(t, open)
}

func TestSlowSubscriberSeesLatestState(t *testing.T) {
	client := newFakeAuthClient()
	client.setProfile(studentProfile("user-alex"))

	m := session.NewManager(client, nil)
	updates, cancel := m.Subscribe()
	defer cancel()

	// Two transitions without the subscriber draining in between; the
	// buffered snapshot must be the latest one.
	require.NoError(t, m.SignIn(context.Background(), "alex", "secret123"))
	require.NoError(t, m.SignOut(context.Background()))

	select {
	case snap := <-updates:
		assert.Equal(t, session.StateAnonymous, snap.State)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}
