package core

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/filestore"
	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
	"github.com/kilupskalvis/wikimirror/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRevisionImporter(t *testing.T, deleted bool) (*RevisionImporter, *store.Store, *mockSource) {
	t.Helper()
	st := newTestStore(t)
	src := newMockSource()
	identity := NewIdentityReconciler(st, src, nil)
	conflicts := NewConflictResolver(st, nil, nil)
	return NewRevisionImporter(st, identity, conflicts, NewTagApplier(st), RevisionImporterOptions{Deleted: deleted}), st, src
}

// ==================== Revision Importer Tests ====================

func TestRevisionImporter_ImportsAndSkips(t *testing.T) {
	ri, st, src := newTestRevisionImporter(t, false)
	src.users[2] = &remote.UserInfo{ID: 2, Name: "Alice"}
	ctx := context.Background()

	rr := models.RemoteRevision{ID: 7, PageID: 3, Title: "Main Page", Timestamp: t0,
		UserID: 2, UserName: "Alice", Content: "hello", SHA1: "abc", Tags: []string{"mobile edit"}}
	require.NoError(t, ri.Process(ctx, rr))
	require.NoError(t, ri.Process(ctx, rr))

	assert.Equal(t, ImportStats{Imported: 1, Skipped: 1}, ri.Stats())

	p, err := st.GetPage(3)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(7), p.LatestRevID)

	local, err := st.GetRevision(7)
	require.NoError(t, err)
	assert.Equal(t, 5, local.Length)
	assert.NotZero(t, local.ActorID)
	assert.False(t, local.Deleted)
}

func TestRevisionImporter_ReplaysMoveOntoOccupiedTitle(t *testing.T) {
	ri, pages, _ := newTestRevisionImporter(t, false)
	ctx := context.Background()

	require.NoError(t, ri.Process(ctx, models.RemoteRevision{ID: 1, PageID: 10, Title: "Old", Timestamp: t0, UserName: "192.0.2.1"}))
	require.NoError(t, ri.Process(ctx, models.RemoteRevision{ID: 2, PageID: 11, Title: "New", Timestamp: t0, UserName: "192.0.2.1"}))
	// Page 10 was moved to "New" remotely while page 11 was moved away.
	require.NoError(t, ri.Process(ctx, models.RemoteRevision{ID: 3, PageID: 10, Title: "New", Timestamp: t0.Add(time.Hour), UserName: "192.0.2.1"}))

	p10, err := pages.GetPage(10)
	require.NoError(t, err)
	assert.Equal(t, "New", p10.Title)
	p11, err := pages.GetPage(11)
	require.NoError(t, err)
	assert.Equal(t, "New/conflict-11", p11.Title)
	assert.Equal(t, 1, ri.conflicts.Relocated())
}

func TestRevisionImporter_DeletedDoesNotTouchPages(t *testing.T) {
	ri, st, _ := newTestRevisionImporter(t, true)
	ctx := context.Background()

	require.NoError(t, ri.Process(ctx, models.RemoteRevision{ID: 50, PageID: 9, Title: "Gone", Timestamp: t0, UserName: "192.0.2.1", Content: "x"}))

	p, err := st.GetPage(9)
	require.NoError(t, err)
	assert.Nil(t, p)
	local, err := st.GetRevision(50)
	require.NoError(t, err)
	assert.True(t, local.Deleted)
}

func TestRevisionImporter_DryRun(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	ri := NewRevisionImporter(st, NewIdentityReconciler(st, src, nil), NewConflictResolver(st, nil, nil), NewTagApplier(st), RevisionImporterOptions{DryRun: true})

	require.NoError(t, ri.Process(context.Background(), models.RemoteRevision{ID: 1, PageID: 1, Title: "A", UserName: "192.0.2.1"}))
	assert.Equal(t, 1, ri.Stats().Imported)
	has, err := st.HasRevision(1)
	require.NoError(t, err)
	assert.False(t, has)
}

// ==================== File Importer Tests ====================

func TestFileImporter_ImportsCurrentAndArchived(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	src.files["/Cat.jpg"] = [][]byte{[]byte("new")}
	src.files["/archive/Cat.jpg"] = [][]byte{[]byte("old")}
	layout, err := filestore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	fi := NewFileImporter(st, layout, newTestTransfer(src, &sleepRecorder{}), NewIdentityReconciler(st, src, nil), false, nil)
	ctx := context.Background()

	cur := models.FileVersion{Name: "Cat.jpg", SHA1: sha1Hex([]byte("new")), URL: "https://u.example.org/Cat.jpg", UserName: "192.0.2.1"}
	old := models.FileVersion{Name: "Cat.jpg", Timestamp: t0, ArchiveName: "20240101000000!Cat.jpg",
		SHA1: sha1Hex([]byte("old")), URL: "https://u.example.org/archive/Cat.jpg"}
	require.NoError(t, fi.Process(ctx, cur))
	require.NoError(t, fi.Process(ctx, old))
	require.NoError(t, fi.Process(ctx, cur))

	assert.Equal(t, ImportStats{Imported: 2, Skipped: 1}, fi.Stats())

	rec, err := st.GetFile("Cat.jpg", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, layout.Path("Cat.jpg"), rec.Path)
	data, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	arch, err := st.GetFile("Cat.jpg", "20240101000000!Cat.jpg")
	require.NoError(t, err)
	require.NotNil(t, arch)
	assert.Equal(t, layout.ArchivePath("Cat.jpg", "20240101000000!Cat.jpg"), arch.Path)
}

func TestFileImporter_CorruptFailsOnlyThatFile(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	src.files["/Bad.jpg"] = [][]byte{[]byte("garbage")}
	layout, err := filestore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	fi := NewFileImporter(st, layout, newTestTransfer(src, &sleepRecorder{}), NewIdentityReconciler(st, src, nil), false, nil)

	err = fi.Process(context.Background(), models.FileVersion{Name: "Bad.jpg", SHA1: "ffff", URL: "https://u.example.org/Bad.jpg"})
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, 1, fi.Stats().Corrupt)

	rec, err := st.GetFile("Bad.jpg", "")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFileImporter_HiddenContentSkipped(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	layout, err := filestore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	fi := NewFileImporter(st, layout, newTestTransfer(src, &sleepRecorder{}), NewIdentityReconciler(st, src, nil), false, nil)

	require.NoError(t, fi.Process(context.Background(), models.FileVersion{Name: "Secret.jpg", Visibility: models.HiddenContent, URL: "https://u/x"}))
	assert.Equal(t, 1, fi.Stats().Hidden)
	assert.Empty(t, src.gets)
}

// ==================== Restriction / Tag Importer Tests ====================

func TestRestrictionImporter(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.InsertPage(&models.Page{ID: 1, Title: "Main Page"}))
	ri := NewRestrictionImporter(st, false)
	ctx := context.Background()

	prot := remote.PageProtection{PageID: 1, Title: "Main Page", Restrictions: []models.Restriction{
		{Type: "edit", Level: "sysop"},
		{Type: "move", Level: "sysop", Expiry: t0, Cascade: true},
	}}
	require.NoError(t, ri.Process(ctx, prot))
	require.NoError(t, ri.Process(ctx, prot))
	require.NoError(t, ri.Process(ctx, remote.PageProtection{PageID: 2, Title: "Unmirrored"}))

	assert.Equal(t, ImportStats{Imported: 1, Skipped: 2}, ri.Stats())
	p, err := st.GetPage(1)
	require.NoError(t, err)
	require.Len(t, p.Restrictions, 2)
	assert.True(t, p.Restrictions[1].Cascade)
}

func TestTagDefinitionImporter(t *testing.T) {
	st := newTestStore(t)
	ti := NewTagDefinitionImporter(st, false)
	ctx := context.Background()

	require.NoError(t, ti.Process(ctx, models.ChangeTag{Name: "mw-rollback", Defined: true, Description: "Rollback"}))
	require.NoError(t, ti.Process(ctx, models.ChangeTag{Name: "legacy"}))
	require.NoError(t, ti.Process(ctx, models.ChangeTag{}))
	require.NoError(t, ti.Process(ctx, models.ChangeTag{Name: "mw-rollback", Defined: true, Description: "Rollback"}))

	assert.Equal(t, ImportStats{Imported: 2, Skipped: 2}, ti.Stats())

	// A changed description is written again.
	require.NoError(t, ti.Process(ctx, models.ChangeTag{Name: "mw-rollback", Defined: true, Description: "Revert edits"}))
	assert.Equal(t, 3, ti.Stats().Imported)
	tag, err := st.GetTag("mw-rollback")
	require.NoError(t, err)
	assert.True(t, tag.Defined)
	legacy, err := st.GetTag("legacy")
	require.NoError(t, err)
	assert.False(t, legacy.Defined)
}

// ==================== Log Importer Tests ====================

func TestLogImporter_ImportsWithTagsAndSkips(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	src.users[7] = &remote.UserInfo{ID: 7, Name: "Alice"}
	tags := NewTagApplier(st)
	li := NewLogImporter(st, NewIdentityReconciler(st, src, nil), tags, false)
	ctx := context.Background()

	move := remote.LogEvent{ID: 55, Type: "move", Action: "move", PageID: 3, UserID: 7, UserName: "Alice",
		Timestamp: t0, Tags: []string{"mw-new-redirect"}}
	require.NoError(t, li.Process(ctx, move))
	require.NoError(t, li.Process(ctx, move))
	require.NoError(t, li.Process(ctx, remote.LogEvent{ID: 56, Type: "delete", Action: "delete", UserHidden: true, Timestamp: t0}))

	assert.Equal(t, ImportStats{Imported: 2, Skipped: 1, Hidden: 1}, li.Stats())

	e, err := st.GetLogEntry(55)
	require.NoError(t, err)
	require.NotNil(t, e)
	alice, err := st.GetActorByRemoteID(7)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, e.ActorID)
	assert.Equal(t, int64(3), e.PageID)

	tag, err := st.GetTag("mw-new-redirect")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tag.Count)
	added, err := st.AddTagAssociation(tag.ID, models.TagTargetLog, 55)
	require.NoError(t, err)
	assert.False(t, added, "log 55 already carries the tag")
	assert.Equal(t, 1, tags.Applied())

	hidden, err := st.GetLogEntry(56)
	require.NoError(t, err)
	assert.Zero(t, hidden.ActorID)
}

func TestLogImporter_DryRun(t *testing.T) {
	st := newTestStore(t)
	src := newMockSource()
	li := NewLogImporter(st, NewIdentityReconciler(st, src, nil), NewTagApplier(st), true)

	require.NoError(t, li.Process(context.Background(), remote.LogEvent{ID: 9, UserID: 7, UserName: "Alice", Tags: []string{"x"}}))
	assert.Equal(t, 1, li.Stats().Imported)
	e, err := st.GetLogEntry(9)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Empty(t, src.userCalls)
}
