// Package live maintains the merged set of playable channels across all
// sources. Entries are keyed by their globally unique id, so concurrent
// refreshes from different sources merge without losing each other's
// channels.
package live

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"apex-live/work/logger"
	"apex-live/work/metrics"
	"apex-live/work/types"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry is the concurrent live channel set. Merges are last-writer-wins
// per id; an import never wholesale-replaces the map, so channels from
// other sources survive any single source's refresh.
type Registry struct {
	channels *xsync.MapOf[string, types.LiveChannel]
}

func NewRegistry() *Registry {
	return &Registry{channels: xsync.NewMapOf[string, types.LiveChannel]()}
}

// Merge upserts the incoming channels by id.
func (r *Registry) Merge(incoming []types.LiveChannel) {
	for _, ch := range incoming {
		if ch.ID == "" {
			continue
		}
		r.channels.Store(ch.ID, ch)
	}
	metrics.LiveChannels.Set(float64(r.channels.Size()))
	logger.Debug("{live - Merge} Merged %d channels, registry now %d", len(incoming), r.channels.Size())
}

// DropSource removes every channel owned by sourceID. Used when a source
// is deleted; individual channels are never partially removed otherwise.
func (r *Registry) DropSource(sourceID string) int {
	removed := 0
	r.channels.Range(func(id string, ch types.LiveChannel) bool {
		if ch.SourceID == sourceID {
			r.channels.Delete(id)
			removed++
		}
		return true
	})
	metrics.LiveChannels.Set(float64(r.channels.Size()))
	return removed
}

// Get looks a channel up by id.
func (r *Registry) Get(id string) (types.LiveChannel, bool) {
	return r.channels.Load(id)
}

// Len returns the current registry size.
func (r *Registry) Len() int {
	return r.channels.Size()
}

// Snapshot returns all channels sorted by display name. The slice is a
// copy; callers may hold it across further merges.
func (r *Registry) Snapshot() []types.LiveChannel {
	out := make([]types.LiveChannel, 0, r.channels.Size())
	r.channels.Range(func(_ string, ch types.LiveChannel) bool {
		out = append(out, ch)
		return true
	})
	sort.Slice(out, func(a, b int) bool {
		if out[a].Name != out[b].Name {
			return out[a].Name < out[b].Name
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// FromM3U converts parsed playlist entries into live channels for one
// source. Ids are positional (m3u_<sourceID>_<n>) so a re-import of the
// same playlist overwrites in place.
func FromM3U(entries []types.M3UChannel, sourceID string) []types.LiveChannel {
	out := make([]types.LiveChannel, 0, len(entries))
	for i, e := range entries {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("Channel %d", i+1)
		}
		out = append(out, types.LiveChannel{
			ID:         fmt.Sprintf("m3u_%s_%d", sourceID, i),
			Name:       name,
			Logo:       e.Logo,
			Group:      e.Group,
			TvgID:      e.TvgID,
			SourceID:   sourceID,
			SourceKind: types.SourceKindM3U,
			StreamURL:  e.URL,
		})
	}
	return out
}

// RenderPlaylist writes the registry as an M3U document with playable URLs
// routed through the proxy relay. Portal channels have no direct URL until
// create_link time, so they point at the backend's tune endpoint instead.
func (r *Registry) RenderPlaylist(baseURL string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")

	for _, ch := range r.Snapshot() {
		b.WriteString("#EXTINF:-1")
		if ch.TvgID != "" {
			fmt.Fprintf(&b, " tvg-id=%q", ch.TvgID)
		}
		if ch.Logo != "" {
			fmt.Fprintf(&b, " tvg-logo=%q", ch.Logo)
		}
		if ch.Group != "" {
			fmt.Fprintf(&b, " group-title=%q", ch.Group)
		}
		fmt.Fprintf(&b, ",%s\n", strings.Trim(ch.Name, "\""))

		switch {
		case ch.StreamURL != "":
			fmt.Fprintf(&b, "%s/api/proxy?u=%s\n", baseURL, url.QueryEscape(ch.StreamURL))
		default:
			fmt.Fprintf(&b, "%s/api/tune/%s\n", baseURL, url.PathEscape(ch.ID))
		}
	}

	return b.String()
}
