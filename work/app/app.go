// Package app wires the backend together: sources come from the store,
// refreshes pull channel and guide data from upstreams, and the handler
// layer asks the app for playlists, stream links and now/next data.
package app

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"apex-live/work/apperr"
	"apex-live/work/cache"
	"apex-live/work/client"
	"apex-live/work/config"
	"apex-live/work/filter"
	"apex-live/work/guide"
	"apex-live/work/ingest"
	"apex-live/work/live"
	"apex-live/work/logger"
	"apex-live/work/scheduler"
	"apex-live/work/stb"
	"apex-live/work/store"
	"apex-live/work/types"
	"apex-live/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
)

const playlistCacheKey = "playlist"

// App is the central coordinator. Everything the HTTP layer serves is
// reachable from here.
type App struct {
	Store     *store.Store
	Gateway   *client.Gateway
	Stb       *stb.Client
	Ingestor  *ingest.Ingestor
	Registry  *live.Registry
	Guide     *guide.Holder
	Cache     *cache.Cache
	Scheduler *scheduler.Scheduler
	Filters   *filter.Manager

	// last successfully imported guide document per epg source,
	// kept so one failing source does not wipe the others' data
	epgDocs *xsync.MapOf[string, *types.EpgDocument]

	// current configuration, swapped whole on reload so handlers
	// never observe a partially written struct
	cfg atomic.Pointer[config.Config]
}

// New assembles an App from its collaborators. The scheduler is attached
// afterwards because its refresh callback closes over the App.
func New(cfg *config.Config, st *store.Store, gw *client.Gateway, c *cache.Cache) *App {
	a := &App{
		Store:    st,
		Gateway:  gw,
		Stb:      stb.NewClient(gw, 0),
		Ingestor: ingest.New(gw),
		Registry: live.NewRegistry(),
		Guide:    guide.NewHolder(),
		Cache:    c,
		Filters:  filter.NewManager(),
		epgDocs:  xsync.NewMapOf[string, *types.EpgDocument](),
	}
	a.cfg.Store(cfg)
	return a
}

// Config returns the current configuration snapshot. Callers that read
// several fields should load once and keep the pointer.
func (a *App) Config() *config.Config {
	return a.cfg.Load()
}

// SetConfig publishes a reloaded configuration.
func (a *App) SetConfig(cfg *config.Config) {
	a.cfg.Store(cfg)
}

// Sources returns all configured sources, stored ones first, then any
// defined statically in the config file that are not in the store.
func (a *App) Sources() ([]types.Source, error) {
	stored, err := a.Store.LoadSources()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(stored))
	for _, src := range stored {
		seen[src.ID] = struct{}{}
	}
	for _, src := range a.Config().Sources {
		if _, ok := seen[src.ID]; !ok {
			stored = append(stored, src)
		}
	}
	return stored, nil
}

// SourceByID finds one source across the store and the config file.
func (a *App) SourceByID(id string) (types.Source, bool) {
	sources, err := a.Sources()
	if err != nil {
		logger.Error("{app - SourceByID} failed to load sources: %v", err)
		return types.Source{}, false
	}
	for _, src := range sources {
		if src.ID == id {
			return src, true
		}
	}
	return types.Source{}, false
}

func identityFor(src types.Source) stb.Identity {
	return stb.Identity{
		MAC:       src.MAC,
		Lang:      src.StbLang,
		Timezone:  src.Timezone,
		UserAgent: src.UserAgent,
		Referer:   src.Referer,
	}
}

// ConnectPortal returns a working session for a portal source, reusing a
// cached one when available.
func (a *App) ConnectPortal(ctx context.Context, src types.Source) (types.StbSession, error) {
	if session, ok := a.Cache.GetSession(src.ID); ok {
		return session, nil
	}
	session, err := a.Stb.Handshake(ctx, src.Portal, identityFor(src))
	if err != nil {
		return types.StbSession{}, err
	}
	a.Cache.SetSession(src.ID, session)
	return session, nil
}

// RefreshSource performs one refresh of a source according to its kind.
// This is the scheduler's callback.
func (a *App) RefreshSource(ctx context.Context, src types.Source) error {
	switch src.Kind {
	case types.SourceKindPortal:
		return a.refreshPortal(ctx, src)
	case types.SourceKindM3U:
		return a.refreshM3U(ctx, src)
	case types.SourceKindEPG:
		return a.refreshEPG(ctx, src)
	default:
		return apperr.Wrap(apperr.ErrConfiguration, "unknown source kind %q for source %s", src.Kind, src.ID)
	}
}

func (a *App) refreshPortal(ctx context.Context, src types.Source) error {
	session, err := a.ConnectPortal(ctx, src)
	if err != nil {
		return err
	}

	raw, err := a.Stb.ListChannels(ctx, session, identityFor(src))
	if err != nil {
		// the token may simply have expired; handshake again once
		a.Cache.DropSession(src.ID)
		session, err = a.ConnectPortal(ctx, src)
		if err != nil {
			return err
		}
		raw, err = a.Stb.ListChannels(ctx, session, identityFor(src))
		if err != nil {
			return err
		}
	}

	channels := a.Filters.For(src).Apply(stb.NormalizeChannels(raw, src.ID))
	a.Registry.DropSource(src.ID)
	a.Registry.Merge(channels)
	a.Cache.InvalidatePlaylists()
	logger.Info("{app - refreshPortal} imported %d channels from portal source %s", len(channels), src.ID)
	return nil
}

func (a *App) refreshM3U(ctx context.Context, src types.Source) error {
	entries, err := a.Ingestor.ImportM3U(ctx, src.URL, src.UserAgent, src.Referer)
	if err != nil {
		return err
	}
	channels := a.Filters.For(src).Apply(live.FromM3U(entries, src.ID))
	a.Registry.DropSource(src.ID)
	a.Registry.Merge(channels)
	a.Cache.InvalidatePlaylists()
	logger.Info("{app - refreshM3U} imported %d channels from %s", len(channels), utils.LogURL(a.Config().ObfuscateUrls, src.URL))
	return nil
}

func (a *App) refreshEPG(ctx context.Context, src types.Source) error {
	doc, err := a.Ingestor.ImportEPG(ctx, src.URL, src.UserAgent, src.Referer)
	if err != nil {
		return err
	}
	a.epgDocs.Store(src.ID, doc)
	a.rebuildGuide()
	logger.Info("{app - refreshEPG} imported guide with %d channels and %d programmes from %s",
		len(doc.Channels), len(doc.Programmes), utils.LogURL(a.Config().ObfuscateUrls, src.URL))
	return nil
}

// rebuildGuide rebuilds the guide index from every source's last good
// document. Iteration order is fixed by source id so conflicting channel
// names resolve the same way on every rebuild.
func (a *App) rebuildGuide() {
	ids := make([]string, 0, a.epgDocs.Size())
	a.epgDocs.Range(func(id string, _ *types.EpgDocument) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)

	docs := make([]*types.EpgDocument, 0, len(ids))
	for _, id := range ids {
		if doc, ok := a.epgDocs.Load(id); ok {
			docs = append(docs, doc)
		}
	}
	a.Guide.Rebuild(docs)
}

// DropSourceData removes everything a deleted source contributed.
func (a *App) DropSourceData(id string) {
	a.Registry.DropSource(id)
	a.Cache.DropSession(id)
	a.Filters.Forget(id)
	if _, ok := a.epgDocs.LoadAndDelete(id); ok {
		a.rebuildGuide()
	}
	a.Cache.InvalidatePlaylists()
}

// ResolveChannel turns a live channel id into a playable upstream URL.
// M3U channels carry their URL directly; portal channels need a
// create_link round trip, retried once with a fresh session if the
// portal refuses the cached token.
func (a *App) ResolveChannel(ctx context.Context, id string) (string, error) {
	ch, ok := a.Registry.Get(id)
	if !ok {
		return "", apperr.Wrap(apperr.ErrNoStreamURL, "unknown channel %s", id)
	}
	if ch.StreamURL != "" {
		return ch.StreamURL, nil
	}
	if ch.SourceKind != types.SourceKindPortal || ch.Cmd == "" {
		return "", apperr.Wrap(apperr.ErrNoStreamURL, "channel %s has no stream reference", id)
	}

	src, ok := a.SourceByID(ch.SourceID)
	if !ok {
		return "", apperr.Wrap(apperr.ErrConfiguration, "channel %s references missing source %s", id, ch.SourceID)
	}

	streamURL, err := a.createLink(ctx, src, ch.Cmd)
	if err != nil {
		a.Cache.DropSession(src.ID)
		streamURL, err = a.createLink(ctx, src, ch.Cmd)
	}
	return streamURL, err
}

func (a *App) createLink(ctx context.Context, src types.Source, cmd string) (string, error) {
	session, err := a.ConnectPortal(ctx, src)
	if err != nil {
		return "", err
	}
	raw, err := a.Stb.CreateLink(ctx, session, identityFor(src), cmd)
	if err != nil {
		return "", err
	}
	return stb.ResolveStreamURL(raw)
}

// Playlist renders (or serves from cache) the full M3U playlist.
func (a *App) Playlist() string {
	if cached, ok := a.Cache.GetPlaylist(playlistCacheKey); ok {
		return cached
	}
	rendered := a.Registry.RenderPlaylist(a.Config().BaseURL)
	a.Cache.SetPlaylist(playlistCacheKey, rendered)
	return rendered
}

// NowNext resolves the current and next programme for a live channel.
func (a *App) NowNext(id string, now time.Time) (guide.NowNext, error) {
	ch, ok := a.Registry.Get(id)
	if !ok {
		return guide.NowNext{}, fmt.Errorf("unknown channel %s", id)
	}
	return a.Guide.Get().Resolve(ch, now), nil
}

// SyncScheduler pushes the current source set into the scheduler.
func (a *App) SyncScheduler() error {
	sources, err := a.Sources()
	if err != nil {
		return err
	}
	a.Scheduler.Sync(sources)
	return nil
}
