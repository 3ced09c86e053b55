package core

import (
	"context"
	"testing"

	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== Identity Reconciler Tests ====================

func TestIdentity_AnonymousActor(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	r := NewIdentityReconciler(st, src, nil)
	ctx := context.Background()

	a, err := r.Resolve(ctx, 0, "192.0.2.7")
	require.NoError(t, err)
	assert.True(t, a.IsIP)
	assert.Zero(t, a.RemoteUserID)

	again, err := r.Resolve(ctx, 0, "192.0.2.7")
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	assert.Zero(t, r.Lookups(), "anonymous actors never hit the remote")

	_, err = r.Resolve(ctx, 0, "")
	assert.Error(t, err)
}

func TestIdentity_NewRegisteredUser(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	src.users[7] = &remote.UserInfo{ID: 7, Name: "Alice"}
	r := NewIdentityReconciler(st, src, nil)

	a, err := r.Resolve(context.Background(), 7, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", a.Name)
	assert.Equal(t, int64(7), a.RemoteUserID)
	assert.Equal(t, 1, r.Lookups())
	assert.Equal(t, 1, r.Created())
}

func TestIdentity_UnregisteredRemotelyGetsImportedPrefix(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource() // no users: every lookup reports missing
	r := NewIdentityReconciler(st, src, nil)

	a, err := r.Resolve(context.Background(), 9, "Bob")
	require.NoError(t, err)
	assert.Equal(t, models.ImportedPrefix+"Bob", a.Name)

	// A name that is not a valid username keeps its spelling.
	b, err := r.Resolve(context.Background(), 10, "wikipedia>Carol")
	require.NoError(t, err)
	assert.Equal(t, "wikipedia>Carol", b.Name)
}

func TestIdentity_NameCollisionGetsSuffix(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreateActor(&models.Actor{Name: "Alice", RemoteUserID: 1}))
	require.NoError(t, st.CreateActor(&models.Actor{Name: "Alice~2", RemoteUserID: 2}))

	src := newMockSource()
	src.users[3] = &remote.UserInfo{ID: 3, Name: "Alice"}
	r := NewIdentityReconciler(st, src, nil)

	a, err := r.Resolve(context.Background(), 3, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice~3", a.Name)
}

func TestIdentity_RenameOncePerRun(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	ctx := context.Background()

	// Run 1: the user is seen as Alice.
	src.users[7] = &remote.UserInfo{ID: 7, Name: "Alice"}
	r := NewIdentityReconciler(st, src, nil)
	first, err := r.Resolve(ctx, 7, "Alice")
	require.NoError(t, err)

	// Run 2: the remote account was renamed.
	src.users[7] = &remote.UserInfo{ID: 7, Name: "Alicia"}
	src.userCalls = make(map[int64]int)
	r = NewIdentityReconciler(st, src, nil)

	for range 5 {
		a, err := r.Resolve(ctx, 7, "Alicia")
		require.NoError(t, err)
		assert.Equal(t, first.ID, a.ID)
		assert.Equal(t, "Alicia", a.Name)
	}
	assert.Equal(t, 1, r.Renames())
	assert.Equal(t, 1, r.Lookups())
	assert.Equal(t, 1, src.userCalls[7])

	stored, err := st.GetActorByRemoteID(7)
	require.NoError(t, err)
	assert.True(t, stored.Migrated)
	assert.Equal(t, "Alice", stored.MigratedFrom)

	old, err := st.GetActorByName("Alice")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestIdentity_MigratedActorSkipsStaleEcho(t *testing.T) {
	st := newTestStore(t)
	a := &models.Actor{Name: "Alicia", RemoteUserID: 7, Migrated: true, MigratedFrom: "Alice"}
	require.NoError(t, st.CreateActor(a))

	src := newMockSource()
	r := NewIdentityReconciler(st, src, nil)

	got, err := r.Resolve(context.Background(), 7, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got.Name)
	assert.Zero(t, r.Renames())
	assert.Zero(t, r.Lookups())
}

func TestIdentity_SecondRenameInLaterRun(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	ctx := context.Background()

	runAs := func(name string) (*IdentityReconciler, *models.Actor) {
		src.users[7] = &remote.UserInfo{ID: 7, Name: name}
		r := NewIdentityReconciler(st, src, nil)
		a, err := r.Resolve(ctx, 7, name)
		require.NoError(t, err)
		return r, a
	}

	_, first := runAs("A")
	r, second := runAs("B")
	assert.Equal(t, "B", second.Name)
	assert.Equal(t, 1, r.Renames())

	r, third := runAs("C")
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "C", third.Name)
	assert.Equal(t, 1, r.Renames())
	assert.Equal(t, 1, r.Lookups())

	stored, err := st.GetActorByRemoteID(7)
	require.NoError(t, err)
	assert.Equal(t, "C", stored.Name)
	assert.Equal(t, "B", stored.MigratedFrom)

	// An older record still carrying the previous name changes nothing.
	src.users[7] = &remote.UserInfo{ID: 7, Name: "C"}
	r = NewIdentityReconciler(st, src, nil)
	got, err := r.Resolve(ctx, 7, "B")
	require.NoError(t, err)
	assert.Equal(t, "C", got.Name)
	assert.Zero(t, r.Renames())
	assert.Zero(t, r.Lookups())
}

func TestIdentity_AnonymousNeverJoinsRegisteredAccount(t *testing.T) {
	st := newTestStore(t)
	registered := &models.Actor{Name: "Foo", RemoteUserID: 5}
	require.NoError(t, st.CreateActor(registered))

	src := newMockSource()
	r := NewIdentityReconciler(st, src, nil)
	ctx := context.Background()

	a, err := r.Resolve(ctx, 0, "Foo")
	require.NoError(t, err)
	assert.NotEqual(t, registered.ID, a.ID)
	assert.True(t, a.IsIP)
	assert.Zero(t, a.RemoteUserID)
	assert.Equal(t, models.ImportedPrefix+"Foo", a.Name)

	// Later runs land on the same anonymous actor.
	r = NewIdentityReconciler(st, src, nil)
	again, err := r.Resolve(ctx, 0, "Foo")
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	assert.Zero(t, r.Created())
	assert.Zero(t, r.Lookups())
}

func TestIdentity_AnonymousSkipsImportedAccount(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreateActor(&models.Actor{Name: "Foo", RemoteUserID: 5}))
	require.NoError(t, st.CreateActor(&models.Actor{Name: models.ImportedPrefix + "Foo", RemoteUserID: 6}))

	r := NewIdentityReconciler(st, newMockSource(), nil)
	a, err := r.Resolve(context.Background(), 0, "Foo")
	require.NoError(t, err)
	assert.True(t, a.IsIP)
	assert.Equal(t, models.ImportedPrefix+"Foo~2", a.Name)
}

func TestIdentity_RemoteAgreesWithLocal(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreateActor(&models.Actor{Name: "Alice", RemoteUserID: 7}))

	src := newMockSource()
	src.users[7] = &remote.UserInfo{ID: 7, Name: "Alice"}
	r := NewIdentityReconciler(st, src, nil)

	// The record carries an old name; the authoritative lookup shows the
	// local name is already current.
	got, err := r.Resolve(context.Background(), 7, "OldAlice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Zero(t, r.Renames())
	assert.Equal(t, 1, r.Lookups())
}

func TestIdentity_RenameCollidesWithUnrelatedAccount(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreateActor(&models.Actor{Name: "Alice", RemoteUserID: 7}))
	require.NoError(t, st.CreateActor(&models.Actor{Name: "Bob", RemoteUserID: 8}))

	src := newMockSource()
	src.users[7] = &remote.UserInfo{ID: 7, Name: "Bob"}
	r := NewIdentityReconciler(st, src, nil)

	got, err := r.Resolve(context.Background(), 7, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob~2", got.Name)
}

func TestIdentity_LookupErrorPropagates(t *testing.T) {
	st := newTestStore(t)
	r := NewIdentityReconciler(st, failingUsers{err: &remote.RemoteError{Code: "readapidenied", Status: 200}}, nil)

	_, err := r.Resolve(context.Background(), 7, "Alice")
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("Alice Smith"))
	assert.False(t, ValidUsername(""))
	assert.False(t, ValidUsername(" Alice"))
	assert.False(t, ValidUsername("10.0.0.1"))
	assert.False(t, ValidUsername("2001:db8::1"))
	assert.False(t, ValidUsername("en>Alice"))
	assert.False(t, ValidUsername("A#b"))
}

type failingUsers struct{ err error }

func (f failingUsers) UserByID(context.Context, int64) (*remote.UserInfo, error) {
	return nil, f.err
}
