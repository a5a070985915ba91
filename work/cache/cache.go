// Package cache holds the backend's short-lived derived values: portal
// session tokens (so every tune does not redo the handshake) and rendered
// playlists. Both expire on their own TTLs; nothing here is authoritative
// state.
package cache

import (
	"time"

	"apex-live/work/types"

	"github.com/maypok86/otter/v2"
)

// Cache bundles the session and playlist caches behind one handle.
type Cache struct {
	sessions  *otter.Cache[string, types.StbSession]
	playlists *otter.Cache[string, string]
}

// New builds the caches. sessionTTL governs how long a handshake token is
// reused before a fresh handshake is forced; playlistTTL how long a
// rendered playlist is served without re-rendering.
func New(sessionTTL, playlistTTL time.Duration) *Cache {
	return &Cache{
		sessions: otter.Must(&otter.Options[string, types.StbSession]{
			MaximumSize:      1024,
			ExpiryCalculator: otter.ExpiryWriting[string, types.StbSession](sessionTTL),
		}),
		playlists: otter.Must(&otter.Options[string, string]{
			MaximumSize:      64,
			ExpiryCalculator: otter.ExpiryWriting[string, string](playlistTTL),
		}),
	}
}

// GetSession returns the cached portal session for a source, if any.
func (c *Cache) GetSession(sourceID string) (types.StbSession, bool) {
	return c.sessions.GetIfPresent(sourceID)
}

// SetSession caches a freshly handshaken session for a source.
func (c *Cache) SetSession(sourceID string, s types.StbSession) {
	c.sessions.Set(sourceID, s)
}

// DropSession forgets a source's session, forcing the next portal call to
// re-handshake. Called when a portal request comes back unauthorized.
func (c *Cache) DropSession(sourceID string) {
	c.sessions.Invalidate(sourceID)
}

// GetPlaylist returns a cached rendered playlist.
func (c *Cache) GetPlaylist(key string) (string, bool) {
	return c.playlists.GetIfPresent(key)
}

// SetPlaylist caches a rendered playlist.
func (c *Cache) SetPlaylist(key, value string) {
	c.playlists.Set(key, value)
}

// InvalidatePlaylists clears all rendered playlists, typically after a
// refresh changed the registry.
func (c *Cache) InvalidatePlaylists() {
	c.playlists.InvalidateAll()
}
