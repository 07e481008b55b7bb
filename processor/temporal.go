package processor

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"
)

// TemporalDomainLayout is the layout of each end of a temporal domain
// string, always rendered in UTC with millisecond precision.
const TemporalDomainLayout = "2006-01-02T15:04:05.000Z"

// SliceCatalogEntry is one time-stamped raster file. The slice is valid
// over the closed interval [Start, End].
type SliceCatalogEntry struct {
	SliceID string    `json:"slice_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	FileRef string    `json:"file_ref"`
}

// Covers reports whether t falls inside the slice's interval, both ends
// included.
func (e SliceCatalogEntry) Covers(t time.Time) bool {
	return !t.Before(e.Start) && !t.After(e.End)
}

// Catalog is the temporal index of a dataset. Entries keep catalog scan
// order, which decides precedence when intervals overlap. Series maps a
// series name to the basenames of the slice files belonging to it.
// A Catalog is built once when a dataset is opened and never modified.
type Catalog struct {
	Entries []SliceCatalogEntry `json:"entries"`
	Series  map[string][]string `json:"series"`
}

// SeriesNames returns the catalog's series names in lexical order.
func (c *Catalog) SeriesNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Series))
	for name := range c.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Members returns the member basename set of a series. An empty series
// name selects the union of all series. The second result is false when
// the named series does not exist.
func (c *Catalog) Members(series string) (map[string]bool, bool) {
	members := make(map[string]bool)
	if c == nil {
		return members, series == ""
	}
	if series == "" {
		for _, files := range c.Series {
			for _, f := range files {
				members[f] = true
			}
		}
		return members, true
	}
	files, found := c.Series[series]
	if !found {
		return nil, false
	}
	for _, f := range files {
		members[f] = true
	}
	return members, true
}

// ResolveSlice returns the file of the slice valid at instant among the
// entries whose file basename is in members. When several entries match,
// the one latest in catalog order wins. No match yields ("", false), and
// the caller falls back to the dataset's default file.
func ResolveSlice(entries []SliceCatalogEntry, members map[string]bool, instant time.Time) (string, bool) {
	fileRef := ""
	found := false
	for _, e := range entries {
		if !e.Covers(instant) {
			continue
		}
		if !members[filepath.Base(e.FileRef)] {
			continue
		}
		fileRef = e.FileRef
		found = true
	}
	return fileRef, found
}

// MemberEntries returns the entries whose file basename is in members,
// in catalog order.
func MemberEntries(entries []SliceCatalogEntry, members map[string]bool) []SliceCatalogEntry {
	var out []SliceCatalogEntry
	for _, e := range entries {
		if members[filepath.Base(e.FileRef)] {
			out = append(out, e)
		}
	}
	return out
}

// TemporalExtent is the earliest start and the latest end over all
// entries. ok is false for an empty catalog.
func TemporalExtent(entries []SliceCatalogEntry) (start, end time.Time, ok bool) {
	for i, e := range entries {
		if i == 0 || e.Start.Before(start) {
			start = e.Start
		}
		if i == 0 || e.End.After(end) {
			end = e.End
		}
	}
	return start, end, len(entries) > 0
}

// FormatTemporalDomain renders an extent as "start/end", e.g.
// 2020-01-01T00:00:00.000Z/2020-12-31T00:00:00.000Z.
func FormatTemporalDomain(start, end time.Time) string {
	return fmt.Sprintf("%s/%s", start.UTC().Format(TemporalDomainLayout), end.UTC().Format(TemporalDomainLayout))
}
