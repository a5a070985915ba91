// Package guide merges parsed XMLTV documents into an in-memory programme
// index and answers now/next queries for live channels. The index is
// derived state: it is rebuilt in full whenever the guide cache changes and
// swapped atomically, never patched.
package guide

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"apex-live/work/logger"
	"apex-live/work/types"

	"github.com/grafana/regexp"
)

var (
	// xmltvStampRegexp matches the 14-digit YYYYMMDDHHMMSS prefix of an
	// XMLTV timestamp. Offsets and trailing junk are ignored; the prefix
	// is interpreted as UTC.
	xmltvStampRegexp = regexp.MustCompile(`^(\d{14})`)

	nonAlnumRegexp   = regexp.MustCompile(`[^a-z0-9 ]`)
	whitespaceRegexp = regexp.MustCompile(`\s+`)
)

// Programme is one guide entry with resolved instants.
type Programme struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
	Title string    `json:"title"`
	Desc  string    `json:"desc,omitempty"`
}

// Index is the immutable product of one build: guide-channel-id lookups and
// per-channel programme lists sorted by start. Built once, read
// concurrently, replaced wholesale.
type Index struct {
	nameByID     map[string]string
	idByNormName map[string]string
	programmes   map[string][]Programme
}

// NowNext is the answer to a guide query at one instant. A nil Now with a
// nil Next means the channel has no guide data covering the instant; that
// is a result, not an error.
type NowNext struct {
	Now  *Programme `json:"now,omitempty"`
	Next *Programme `json:"next,omitempty"`
}

// NormalizeName reduces a channel display name for identity matching:
// lowercase, alphanumerics and spaces only, whitespace collapsed.
func NormalizeName(name string) string {
	s := strings.ToLower(name)
	s = whitespaceRegexp.ReplaceAllString(s, " ")
	s = nonAlnumRegexp.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseTimestamp converts an XMLTV timestamp to an instant. Only the
// 14-digit prefix is honored, as UTC. ok is false when the prefix does not
// parse; callers drop such records.
func ParseTimestamp(x string) (time.Time, bool) {
	m := xmltvStampRegexp.FindStringSubmatch(x)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102150405", m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Build merges any number of parsed guide documents into one Index.
// Duplicate guide channel ids and duplicate normalized names keep their
// first-seen mapping. Programmes with unparsable timestamps are dropped
// record-by-record; per-channel lists end up sorted ascending by start.
func Build(docs []*types.EpgDocument) *Index {
	idx := &Index{
		nameByID:     make(map[string]string),
		idByNormName: make(map[string]string),
		programmes:   make(map[string][]Programme),
	}

	dropped := 0
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		for _, ch := range doc.Channels {
			if ch.ID == "" || ch.Name == "" {
				continue
			}
			if _, seen := idx.nameByID[ch.ID]; !seen {
				idx.nameByID[ch.ID] = ch.Name
			}
			if nn := NormalizeName(ch.Name); nn != "" {
				if _, seen := idx.idByNormName[nn]; !seen {
					idx.idByNormName[nn] = ch.ID
				}
			}
		}
		for _, p := range doc.Programmes {
			start, okStart := ParseTimestamp(p.Start)
			stop, okStop := ParseTimestamp(p.Stop)
			if p.Channel == "" || p.Title == "" || !okStart || !okStop {
				dropped++
				continue
			}
			idx.programmes[p.Channel] = append(idx.programmes[p.Channel], Programme{
				Start: start,
				Stop:  stop,
				Title: p.Title,
				Desc:  p.Desc,
			})
		}
	}

	for id := range idx.programmes {
		list := idx.programmes[id]
		sort.Slice(list, func(a, b int) bool { return list[a].Start.Before(list[b].Start) })
	}

	if dropped > 0 {
		logger.Debug("{guide - Build} Dropped %d programmes with malformed timestamps", dropped)
	}
	return idx
}

// ChannelID resolves a live channel to a guide channel id, preferring a
// direct tvg id carried on the channel (when the index knows it) and
// falling back to the normalized display name. Empty means no guide data.
func (idx *Index) ChannelID(ch types.LiveChannel) string {
	if ch.TvgID != "" {
		if _, ok := idx.programmes[ch.TvgID]; ok {
			return ch.TvgID
		}
	}
	if id, ok := idx.idByNormName[NormalizeName(ch.Name)]; ok {
		return id
	}
	return ""
}

// Size reports how many guide channels carry programme data.
func (idx *Index) Size() int {
	return len(idx.programmes)
}

// ChannelName returns the guide display name for a guide channel id.
func (idx *Index) ChannelName(id string) string {
	return idx.nameByID[id]
}

// Programmes returns the sorted programme list for a guide channel id.
func (idx *Index) Programmes(id string) []Programme {
	return idx.programmes[id]
}

// Resolve answers what is airing on ch at instant now, and what follows.
// The per-channel list is small, so this is a linear scan over the sorted
// programmes with an early exit once starts pass the query instant. A
// malformed interval (stop before start) simply never contains the
// instant. There is no "first upcoming" fallback: before the first listed
// programme both Now and Next are nil.
func (idx *Index) Resolve(ch types.LiveChannel, now time.Time) NowNext {
	id := idx.ChannelID(ch)
	if id == "" {
		return NowNext{}
	}
	list := idx.programmes[id]
	if len(list) == 0 {
		return NowNext{}
	}

	hit := -1
	for i := range list {
		p := &list[i]
		if !now.Before(p.Start) && now.Before(p.Stop) {
			hit = i
			break
		}
		if now.Before(p.Start) {
			break
		}
	}

	if hit < 0 {
		return NowNext{}
	}

	result := NowNext{Now: &list[hit]}
	if hit+1 < len(list) {
		result.Next = &list[hit+1]
	}
	return result
}

// Holder publishes the current index to concurrent readers. Rebuilds store
// a fresh Index pointer; readers always see either the old or the new
// index, never a partial one.
type Holder struct {
	current atomic.Pointer[Index]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(Build(nil))
	return h
}

// Get returns the current index. Never nil.
func (h *Holder) Get() *Index {
	return h.current.Load()
}

// Rebuild constructs a fresh index from docs and swaps it in.
func (h *Holder) Rebuild(docs []*types.EpgDocument) {
	idx := Build(docs)
	h.current.Store(idx)
	logger.Debug("{guide - Rebuild} Swapped in guide index: %d channels, %d programme lists",
		len(idx.nameByID), len(idx.programmes))
}
