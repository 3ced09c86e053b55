// Package remote defines the wire types and client for the remote content API.
// The API is a MediaWiki-style api.php endpoint queried with format=json and
// formatversion=2, paginated through "continue" maps.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/models"
)

// ErrMalformedResponse is returned by extractors when a page lacks the
// expected result structure.
var ErrMalformedResponse = errors.New("malformed query response")

// ErrNotFound is returned when the remote reports a missing revision or user.
var ErrNotFound = errors.New("not found on remote")

// QueryResponse is one page of an action=query call.
type QueryResponse struct {
	BatchComplete bool                       `json:"batchcomplete,omitempty"`
	Continue      map[string]string          `json:"continue,omitempty"`
	Query         map[string]json.RawMessage `json:"query,omitempty"`
	Error         *APIError                  `json:"error,omitempty"`
	Warnings      json.RawMessage            `json:"warnings,omitempty"`
}

// HasMore reports whether the response carries a continuation.
func (r *QueryResponse) HasMore() bool {
	return len(r.Continue) > 0
}

// APIError is the structured error envelope returned by the API.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

// UserInfo is the authoritative remote view of an account.
type UserInfo struct {
	ID      int64  `json:"userid"`
	Name    string `json:"name"`
	Missing bool   `json:"missing,omitempty"`
	Invalid bool   `json:"invalid,omitempty"`
}

// apiRevision mirrors a revision object with rvslots=main.
type apiRevision struct {
	RevID         int64     `json:"revid"`
	ParentID      int64     `json:"parentid"`
	User          string    `json:"user"`
	UserID        int64     `json:"userid"`
	Timestamp     time.Time `json:"timestamp"`
	Comment       string    `json:"comment"`
	SHA1          string    `json:"sha1"`
	Tags          []string  `json:"tags"`
	TextHidden    bool      `json:"texthidden"`
	SHA1Hidden    bool      `json:"sha1hidden"`
	CommentHidden bool      `json:"commenthidden"`
	UserHidden    bool      `json:"userhidden"`
	Suppressed    bool      `json:"suppressed"`
	Slots         map[string]struct {
		ContentModel string `json:"contentmodel"`
		Content      string `json:"content"`
		Missing      bool   `json:"missing"`
	} `json:"slots"`
}

// apiPage is a page object carrying nested revisions, image info or
// protection data depending on the props requested.
type apiPage struct {
	PageID     int64           `json:"pageid"`
	NS         int             `json:"ns"`
	Title      string          `json:"title"`
	Missing    bool            `json:"missing"`
	Revisions  []apiRevision   `json:"revisions"`
	ImageInfo  []apiImage      `json:"imageinfo"`
	Protection []apiProtection `json:"protection"`
}

type apiImage struct {
	Name          string          `json:"name"`
	Timestamp     time.Time       `json:"timestamp"`
	User          string          `json:"user"`
	UserID        int64           `json:"userid"`
	Comment       string          `json:"comment"`
	Size          int64           `json:"size"`
	Width         int             `json:"width"`
	Height        int             `json:"height"`
	BitDepth      int             `json:"bitdepth"`
	MIME          string          `json:"mime"`
	SHA1          string          `json:"sha1"`
	URL           string          `json:"url"`
	ArchiveName   string          `json:"archivename"`
	Metadata      []apiMetaItem   `json:"metadata"`
	FileHidden    bool            `json:"filehidden"`
	CommentHidden bool            `json:"commenthidden"`
	UserHidden    bool            `json:"userhidden"`
	Suppressed    bool            `json:"suppressed"`
}

type apiMetaItem struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type apiProtection struct {
	Type    string `json:"type"`
	Level   string `json:"level"`
	Expiry  string `json:"expiry"`
	Cascade bool   `json:"cascade"`
}

type apiTag struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Defined     bool   `json:"defined"`
	HitCount    int64  `json:"hitcount"`
}

type apiLogEvent struct {
	LogID      int64     `json:"logid"`
	Type       string    `json:"type"`
	Action     string    `json:"action"`
	PageID     int64     `json:"pageid"`
	NS         int       `json:"ns"`
	Title      string    `json:"title"`
	User       string    `json:"user"`
	UserID     int64     `json:"userid"`
	Timestamp  time.Time `json:"timestamp"`
	Tags       []string  `json:"tags"`
	UserHidden bool      `json:"userhidden"`
}

// LogEvent is one entry of the remote's log.
type LogEvent struct {
	ID         int64
	Type       string
	Action     string
	PageID     int64
	Title      string
	UserID     int64
	UserName   string
	UserHidden bool
	Timestamp  time.Time
	Tags       []string
}

// PageProtection is one page's restriction set as listed by the remote.
type PageProtection struct {
	PageID       int64
	Namespace    int
	Title        string
	Restrictions []models.Restriction
}

// Extractor decodes the items of one page.
type Extractor[T any] func(resp *QueryResponse) ([]T, error)

// section returns the raw query sub-object for key.
func section(resp *QueryResponse, key string) (json.RawMessage, error) {
	if resp == nil || resp.Query == nil {
		return nil, fmt.Errorf("%w: no query object", ErrMalformedResponse)
	}
	raw, ok := resp.Query[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedResponse, key)
	}
	return raw, nil
}

// Revisions returns an extractor for revision lists grouped by page, such as
// allrevisions, alldeletedrevisions or pages[].revisions.
func Revisions(listKey string) Extractor[models.RemoteRevision] {
	return func(resp *QueryResponse) ([]models.RemoteRevision, error) {
		raw, err := section(resp, listKey)
		if err != nil {
			return nil, err
		}
		var pages []apiPage
		if err := json.Unmarshal(raw, &pages); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		var out []models.RemoteRevision
		for _, p := range pages {
			for _, r := range p.Revisions {
				out = append(out, convertRevision(p, r))
			}
		}
		return out, nil
	}
}

// Digests returns an extractor producing lightweight revision digests.
func Digests(listKey string) Extractor[models.RevisionDigest] {
	revs := Revisions(listKey)
	return func(resp *QueryResponse) ([]models.RevisionDigest, error) {
		full, err := revs(resp)
		if err != nil {
			return nil, err
		}
		out := make([]models.RevisionDigest, 0, len(full))
		for _, r := range full {
			out = append(out, models.RevisionDigest{
				ID:        r.ID,
				ParentID:  r.ParentID,
				Timestamp: r.Timestamp,
				SHA1:      r.SHA1,
			})
		}
		return out, nil
	}
}

// FileVersions extracts files from either list=allimages or
// prop=imageinfo (pages[].imageinfo, used for file history).
func FileVersions(resp *QueryResponse) ([]models.FileVersion, error) {
	if raw, err := section(resp, "allimages"); err == nil {
		var imgs []apiImage
		if err := json.Unmarshal(raw, &imgs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		out := make([]models.FileVersion, 0, len(imgs))
		for _, img := range imgs {
			out = append(out, convertImage(img.Name, img))
		}
		return out, nil
	}

	raw, err := section(resp, "pages")
	if err != nil {
		return nil, err
	}
	var pages []apiPage
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var out []models.FileVersion
	for _, p := range pages {
		name := strings.TrimPrefix(p.Title[strings.Index(p.Title, ":")+1:], " ")
		for _, img := range p.ImageInfo {
			out = append(out, convertImage(name, img))
		}
	}
	return out, nil
}

// Protections extracts page restrictions from prop=info&inprop=protection.
func Protections(resp *QueryResponse) ([]PageProtection, error) {
	raw, err := section(resp, "pages")
	if err != nil {
		return nil, err
	}
	var pages []apiPage
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	out := make([]PageProtection, 0, len(pages))
	for _, p := range pages {
		if p.Missing {
			continue
		}
		pp := PageProtection{PageID: p.PageID, Namespace: p.NS, Title: p.Title}
		for _, pr := range p.Protection {
			pp.Restrictions = append(pp.Restrictions, models.Restriction{
				Type:    pr.Type,
				Level:   pr.Level,
				Expiry:  parseExpiry(pr.Expiry),
				Cascade: pr.Cascade,
			})
		}
		out = append(out, pp)
	}
	return out, nil
}

// Tags extracts change tag definitions from list=tags.
func Tags(resp *QueryResponse) ([]models.ChangeTag, error) {
	raw, err := section(resp, "tags")
	if err != nil {
		return nil, err
	}
	var tags []apiTag
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	out := make([]models.ChangeTag, 0, len(tags))
	for _, t := range tags {
		out = append(out, models.ChangeTag{
			Name:        t.Name,
			Description: t.Description,
			Defined:     t.Defined,
		})
	}
	return out, nil
}

// LogEvents extracts log entries from list=logevents.
func LogEvents(resp *QueryResponse) ([]LogEvent, error) {
	raw, err := section(resp, "logevents")
	if err != nil {
		return nil, err
	}
	var events []apiLogEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	out := make([]LogEvent, 0, len(events))
	for _, e := range events {
		out = append(out, LogEvent{
			ID:         e.LogID,
			Type:       e.Type,
			Action:     e.Action,
			PageID:     e.PageID,
			Title:      e.Title,
			UserID:     e.UserID,
			UserName:   e.User,
			UserHidden: e.UserHidden,
			Timestamp:  e.Timestamp,
			Tags:       e.Tags,
		})
	}
	return out, nil
}

func convertRevision(p apiPage, r apiRevision) models.RemoteRevision {
	rev := models.RemoteRevision{
		ID:        r.RevID,
		ParentID:  r.ParentID,
		PageID:    p.PageID,
		Namespace: p.NS,
		Title:     p.Title,
		Timestamp: r.Timestamp,
		UserID:    r.UserID,
		UserName:  r.User,
		Comment:   r.Comment,
		SHA1:      r.SHA1,
		Tags:      r.Tags,
		Visibility: models.VisibilityFromMarkers(
			r.TextHidden || r.SHA1Hidden, r.CommentHidden, r.UserHidden, r.Suppressed),
	}
	if main, ok := r.Slots["main"]; ok {
		rev.Content = main.Content
		rev.ContentModel = main.ContentModel
	}
	return rev
}

func convertImage(name string, img apiImage) models.FileVersion {
	fv := models.FileVersion{
		Name:        name,
		Size:        img.Size,
		Width:       img.Width,
		Height:      img.Height,
		BitDepth:    img.BitDepth,
		MIME:        img.MIME,
		SHA1:        img.SHA1,
		ArchiveName: img.ArchiveName,
		URL:         img.URL,
		UserID:      img.UserID,
		UserName:    img.User,
		Comment:     img.Comment,
		Metadata:    flattenMetadata(img.Metadata),
		Visibility: models.VisibilityFromMarkers(
			img.FileHidden, img.CommentHidden, img.UserHidden, img.Suppressed),
	}
	if img.ArchiveName != "" {
		fv.Timestamp = img.Timestamp
	}
	return fv
}

// flattenMetadata turns the API's [{name, value}] lists into a nested map.
func flattenMetadata(items []apiMetaItem) map[string]any {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]any, len(items))
	for _, it := range items {
		var nested []apiMetaItem
		if err := json.Unmarshal(it.Value, &nested); err == nil && len(nested) > 0 && nested[0].Name != "" {
			out[it.Name] = flattenMetadata(nested)
			continue
		}
		var v any
		if err := json.Unmarshal(it.Value, &v); err == nil {
			out[it.Name] = v
		}
	}
	return out
}

func parseExpiry(s string) time.Time {
	if s == "" || s == "infinity" || s == "infinite" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
