package core

import (
	"context"
	"io"
	"net/http"

	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
)

// Collaborator interfaces. *store.Store and remote.SourceClient satisfy them;
// tests substitute in-memory fakes.

// Querier issues one paginated API request.
type Querier interface {
	Query(ctx context.Context, params map[string]string) (*remote.QueryResponse, error)
}

// RevisionFetcher loads the full record of a single revision.
type RevisionFetcher interface {
	FetchRevision(ctx context.Context, revID int64) (*models.RemoteRevision, error)
}

// UserLookup resolves a remote user id to its current account.
type UserLookup interface {
	UserByID(ctx context.Context, userID int64) (*remote.UserInfo, error)
}

// Downloader opens a streaming download.
type Downloader interface {
	Download(ctx context.Context, rawURL string, header http.Header) (io.ReadCloser, error)
}

// RevisionStore is the revision half of the local store.
type RevisionStore interface {
	GetRevision(id int64) (*models.LocalRevision, error)
	HasRevision(id int64) (bool, error)
	InsertRevision(rev *models.LocalRevision, advanceLatest bool) error
	UpdateRevision(rev *models.LocalRevision) error
}

// PageStore is the page half of the local store.
type PageStore interface {
	GetPage(id int64) (*models.Page, error)
	GetPageByTitle(ns int, title string) (*models.Page, error)
	InsertPage(page *models.Page) error
	UpdatePage(page *models.Page) error
	RetitlePage(id int64, ns int, title string) error
}

// ActorStore persists actors and fronts name lookups with a cache.
type ActorStore interface {
	GetActorByRemoteID(remoteID int64) (*models.Actor, error)
	GetActorByName(name string) (*models.Actor, error)
	CreateActor(actor *models.Actor) error
	RenameActor(id int64, newName string) (*models.Actor, error)
	InvalidateActor(names ...string)
}

// TagStore acquires tag ids and records associations.
type TagStore interface {
	AcquireTagID(name string) (int64, error)
	AddTagAssociation(tagID int64, target string, targetID int64) (bool, error)
}

// TagDefinitionStore registers tag definitions.
type TagDefinitionStore interface {
	GetTag(name string) (*models.ChangeTag, error)
	AcquireTagID(name string) (int64, error)
	DefineTag(name, description string) (*models.ChangeTag, error)
}

// FileRecordStore persists imported file versions.
type FileRecordStore interface {
	GetFile(name, archiveName string) (*models.FileRecord, error)
	PutFile(rec *models.FileRecord) error
}

// LogStore persists mirrored log entries.
type LogStore interface {
	GetLogEntry(id int64) (*models.LogEntry, error)
	InsertLogEntry(entry *models.LogEntry) error
}

// FindingSink receives integrity findings.
type FindingSink interface {
	Record(ctx context.Context, f models.Finding) error
}
