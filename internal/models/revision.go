package models

import "time"

// Visibility is the bitmask of hidden revision fields.
type Visibility int

const (
	HiddenContent Visibility = 1 << iota
	HiddenComment
	HiddenUser
	HiddenRestricted
)

// VisibilityFromMarkers rebuilds a Visibility mask from the per-field hidden
// markers the remote API attaches to a revision.
func VisibilityFromMarkers(contentHidden, commentHidden, userHidden, suppressed bool) Visibility {
	var v Visibility
	if contentHidden {
		v |= HiddenContent
	}
	if commentHidden {
		v |= HiddenComment
	}
	if userHidden {
		v |= HiddenUser
	}
	if suppressed {
		v |= HiddenRestricted
	}
	return v
}

// Has reports whether every bit of flag is set.
func (v Visibility) Has(flag Visibility) bool {
	return v&flag == flag
}

// RemoteRevision is a read-only snapshot of a revision as the remote reports it.
type RemoteRevision struct {
	ID           int64      `json:"revid"`
	ParentID     int64      `json:"parentid"`
	PageID       int64      `json:"pageid"`
	Namespace    int        `json:"ns"`
	Title        string     `json:"title"`
	Timestamp    time.Time  `json:"timestamp"`
	UserID       int64      `json:"userid"`
	UserName     string     `json:"user"`
	Comment      string     `json:"comment"`
	Content      string     `json:"content"`
	ContentModel string     `json:"contentmodel"`
	SHA1         string     `json:"sha1"`
	Tags         []string   `json:"tags,omitempty"`
	Visibility   Visibility `json:"visibility"`
}

// RevisionDigest is the lightweight form used for integrity checks.
type RevisionDigest struct {
	ID        int64     `json:"revid"`
	ParentID  int64     `json:"parentid"`
	Timestamp time.Time `json:"timestamp"`
	SHA1      string    `json:"sha1"`
}

// LocalRevision is the mirrored copy of a RemoteRevision. Its presence under
// the remote revision id is what "synced" means.
type LocalRevision struct {
	ID           int64      `json:"id"`
	ParentID     int64      `json:"parent_id"`
	PageID       int64      `json:"page_id"`
	Timestamp    time.Time  `json:"timestamp"`
	ActorID      int64      `json:"actor_id"`
	Comment      string     `json:"comment"`
	Content      string     `json:"content"`
	ContentModel string     `json:"content_model"`
	Length       int        `json:"length"`
	SHA1         string     `json:"sha1"`
	Visibility   Visibility `json:"visibility"`
	Deleted      bool       `json:"deleted,omitempty"`
}
