package remote

import (
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/models"
)

const (
	fullRevisionProps   = "ids|timestamp|user|userid|comment|content|contentmodel|sha1|tags|flags"
	digestRevisionProps = "ids|timestamp|sha1"
	imageProps          = "timestamp|user|userid|comment|url|size|dimensions|sha1|mime|metadata|bitdepth"
)

// apiTime formats t the way the API expects, or "" for the zero time.
func apiTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "|")
}

// setIf sets key only when value is non-empty.
func setIf(p map[string]string, key, value string) {
	if value != "" {
		p[key] = value
	}
}

// RevisionParams builds the list=allrevisions (or alldeletedrevisions when
// deleted is set) query for the scope in c. With digest set, only ids,
// timestamps and checksums are requested.
func RevisionParams(c *models.SyncCursor, limit int, deleted, digest bool) map[string]string {
	list, prefix := "allrevisions", "arv"
	if deleted {
		list, prefix = "alldeletedrevisions", "adr"
	}
	props := fullRevisionProps
	if digest {
		props = digestRevisionProps
	}

	p := map[string]string{
		"list":           list,
		prefix + "prop":  props,
		prefix + "limit": strconv.Itoa(limit),
		prefix + "dir":   direction(c),
	}
	if !digest {
		p[prefix+"slots"] = "main"
	}
	if c != nil {
		if len(c.Namespaces) > 0 {
			p[prefix+"namespace"] = joinInts(c.Namespaces)
		}
		setIf(p, prefix+"start", apiTime(c.Start))
		setIf(p, prefix+"end", apiTime(c.End))
	}
	return p
}

// FileParams builds the list=allimages query. With history set, every
// archived version is requested through prop=imageinfo instead.
func FileParams(c *models.SyncCursor, limit int, history bool) map[string]string {
	if history {
		p := map[string]string{
			"generator": "allimages",
			"gailimit":  strconv.Itoa(limit),
			"prop":      "imageinfo",
			"iiprop":    imageProps + "|archivename",
			"iilimit":   "max",
		}
		return p
	}

	p := map[string]string{
		"list":    "allimages",
		"aiprop":  imageProps,
		"ailimit": strconv.Itoa(limit),
	}
	if c != nil && (!c.Start.IsZero() || !c.End.IsZero()) {
		p["aisort"] = "timestamp"
		p["aidir"] = direction(c)
		setIf(p, "aistart", apiTime(c.Start))
		setIf(p, "aiend", apiTime(c.End))
	}
	return p
}

// ProtectionParams builds the allpages generator query with protection info.
// allpages accepts a single namespace; the first one in scope is used.
func ProtectionParams(c *models.SyncCursor, limit int) map[string]string {
	p := map[string]string{
		"generator": "allpages",
		"gaplimit":  strconv.Itoa(limit),
		"prop":      "info",
		"inprop":    "protection",
	}
	if c != nil && len(c.Namespaces) > 0 {
		p["gapnamespace"] = strconv.Itoa(c.Namespaces[0])
	}
	return p
}

// TagParams builds the list=tags query.
func TagParams(limit int) map[string]string {
	return map[string]string{
		"list":    "tags",
		"tgprop":  "description|defined|hitcount",
		"tglimit": strconv.Itoa(limit),
	}
}

// LogEventParams builds the list=logevents query. logevents accepts a
// single namespace; the first one in scope is used.
func LogEventParams(c *models.SyncCursor, limit int) map[string]string {
	p := map[string]string{
		"list":    "logevents",
		"leprop":  "ids|title|type|user|userid|timestamp|tags",
		"lelimit": strconv.Itoa(limit),
		"ledir":   direction(c),
	}
	if c != nil {
		if len(c.Namespaces) > 0 {
			p["lenamespace"] = strconv.Itoa(c.Namespaces[0])
		}
		setIf(p, "lestart", apiTime(c.Start))
		setIf(p, "leend", apiTime(c.End))
	}
	return p
}

func direction(c *models.SyncCursor) string {
	if c != nil && c.Direction == models.DirectionOlder {
		return models.DirectionOlder
	}
	return models.DirectionNewer
}
