package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"apex-live/work/cache"
	"apex-live/work/client"
	"apex-live/work/config"
	"apex-live/work/store"
	"apex-live/work/types"
)

func testApp(t *testing.T) *App {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		BaseURL:          "http://localhost:3000",
		SessionTTL:       time.Minute,
		PlaylistCacheTTL: 50 * time.Millisecond,
		WorkerThreads:    2,
	}
	return New(cfg, st, client.New(), cache.New(cfg.SessionTTL, cfg.PlaylistCacheTTL))
}

func TestRefreshM3USource(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXTINF:-1 group-title=\"News\",BBC One\nhttp://e/1.ts\n#EXTINF:-1,Sky Sports\nhttp://e/2.ts\n"))
	}))
	defer upstream.Close()

	a := testApp(t)
	src := types.Source{ID: "m1", Kind: types.SourceKindM3U, URL: upstream.URL, Enabled: true}

	if err := a.RefreshSource(context.Background(), src); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if a.Registry.Len() != 2 {
		t.Fatalf("registry has %d channels, want 2", a.Registry.Len())
	}

	// a second refresh with a filter replaces the source's channels
	src.ExcludeRegex = "(?i)sport"
	if err := a.RefreshSource(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if a.Registry.Len() != 1 {
		t.Errorf("filtered refresh left %d channels, want 1", a.Registry.Len())
	}
}

func TestRefreshEPGSourceAndNowNext(t *testing.T) {
	guide := `<tv>
  <channel id="bbc1.uk"><display-name>BBC One</display-name></channel>
  <programme channel="bbc1.uk" start="20000101000000 +0000" stop="29000101000000 +0000"><title>Forever Show</title></programme>
</tv>`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(guide))
	}))
	defer upstream.Close()

	a := testApp(t)
	a.Registry.Merge([]types.LiveChannel{
		{ID: "m3u_m1_0", Name: "BBC One", SourceID: "m1", StreamURL: "http://e/1.ts"},
	})

	src := types.Source{ID: "e1", Kind: types.SourceKindEPG, URL: upstream.URL, Enabled: true}
	if err := a.RefreshSource(context.Background(), src); err != nil {
		t.Fatalf("epg refresh failed: %v", err)
	}

	nn, err := a.NowNext("m3u_m1_0", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if nn.Now == nil || nn.Now.Title != "Forever Show" {
		t.Errorf("NowNext = %+v", nn)
	}

	// deleting the epg source drops its guide data
	a.DropSourceData("e1")
	nn, _ = a.NowNext("m3u_m1_0", time.Now().UTC())
	if nn.Now != nil {
		t.Errorf("guide data survived source deletion: %+v", nn.Now)
	}
}

func TestRefreshPortalSourceAndResolve(t *testing.T) {
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "handshake":
			w.Write([]byte(`{"js":{"token":"tok1"}}`))
		case "get_all_channels":
			w.Write([]byte(`{"js":{"data":[{"id":7,"name":"Portal One","cmd":"ffmpeg http://placeholder"}]}}`))
		case "create_link":
			w.Write([]byte(`{"js":{"cmd":"ffmpeg http://edge/real/7.ts"}}`))
		default:
			http.Error(w, "bad action", http.StatusBadRequest)
		}
	}))
	defer portal.Close()

	a := testApp(t)
	src := types.Source{
		ID:      "p1",
		Kind:    types.SourceKindPortal,
		Portal:  portal.URL + "/c/",
		MAC:     "00:1A:79:00:00:01",
		Enabled: true,
	}
	if err := a.Store.SaveSource(src); err != nil {
		t.Fatal(err)
	}

	if err := a.RefreshSource(context.Background(), src); err != nil {
		t.Fatalf("portal refresh failed: %v", err)
	}

	ch, ok := a.Registry.Get("portal_p1_7")
	if !ok {
		t.Fatalf("portal channel missing; registry has %d", a.Registry.Len())
	}
	if ch.StreamURL != "" {
		t.Errorf("portal channel should not carry a direct url: %q", ch.StreamURL)
	}

	streamURL, err := a.ResolveChannel(context.Background(), "portal_p1_7")
	if err != nil {
		t.Fatalf("ResolveChannel failed: %v", err)
	}
	if streamURL != "http://edge/real/7.ts" {
		t.Errorf("resolved url = %q", streamURL)
	}
}

func TestResolveChannelRetriesWithFreshSession(t *testing.T) {
	var linkCalls int
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "handshake":
			w.Write([]byte(`{"js":{"token":"tok-fresh"}}`))
		case "create_link":
			linkCalls++
			// the stale cached token is refused once
			if !strings.Contains(r.Header.Get("Cookie"), "token=tok-fresh") {
				http.Error(w, "denied", http.StatusForbidden)
				return
			}
			w.Write([]byte(`{"js":{"cmd":"http://edge/ok.ts"}}`))
		}
	}))
	defer portal.Close()

	a := testApp(t)
	src := types.Source{ID: "p1", Kind: types.SourceKindPortal, Portal: portal.URL, MAC: "00:1A:79:00:00:01", Enabled: true}
	if err := a.Store.SaveSource(src); err != nil {
		t.Fatal(err)
	}
	a.Registry.Merge([]types.LiveChannel{
		{ID: "portal_p1_7", Name: "P", Cmd: "x", SourceID: "p1", SourceKind: types.SourceKindPortal},
	})
	a.Cache.SetSession("p1", types.StbSession{Base: portal.URL, Token: "tok-stale"})

	streamURL, err := a.ResolveChannel(context.Background(), "portal_p1_7")
	if err != nil {
		t.Fatalf("ResolveChannel failed: %v", err)
	}
	if streamURL != "http://edge/ok.ts" {
		t.Errorf("resolved url = %q", streamURL)
	}
	if linkCalls != 2 {
		t.Errorf("create_link called %d times, want 2 (stale then fresh)", linkCalls)
	}
}

func TestPlaylistCache(t *testing.T) {
	a := testApp(t)
	a.Registry.Merge([]types.LiveChannel{{ID: "m3u_m1_0", Name: "A", SourceID: "m1", StreamURL: "http://e/1.ts"}})

	first := a.Playlist()
	a.Registry.Merge([]types.LiveChannel{{ID: "m3u_m1_1", Name: "B", SourceID: "m1", StreamURL: "http://e/2.ts"}})

	// still the cached render
	if got := a.Playlist(); got != first {
		t.Error("playlist should come from cache inside the TTL")
	}

	a.Cache.InvalidatePlaylists()
	if got := a.Playlist(); got == first {
		t.Error("invalidation should force a re-render")
	}
}

func TestConfigReloadSwapsWholeSnapshot(t *testing.T) {
	a := testApp(t)
	reloaded := &config.Config{
		BaseURL:       "http://localhost:4000",
		WorkerThreads: 4,
		Sources: []types.Source{{
			ID:         "cfg1",
			Kind:       types.SourceKindM3U,
			URL:        "http://e/x.m3u",
			RefreshSec: 3600,
			Enabled:    true,
		}},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			a.SetConfig(reloaded)
			a.SetConfig(&config.Config{BaseURL: "http://localhost:3000"})
		}
	}()
	for i := 0; i < 200; i++ {
		sources, err := a.Sources()
		if err != nil {
			t.Fatal(err)
		}
		if len(sources) > 1 {
			t.Fatalf("got %d sources, want 0 or 1", len(sources))
		}
		if base := a.Config().BaseURL; base != "http://localhost:3000" && base != "http://localhost:4000" {
			t.Fatalf("torn config read: %q", base)
		}
	}
	<-done

	a.SetConfig(reloaded)
	if got := a.Config().BaseURL; got != "http://localhost:4000" {
		t.Fatalf("BaseURL = %q after swap, want the reloaded value", got)
	}
	sources, err := a.Sources()
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || sources[0].ID != "cfg1" {
		t.Fatalf("sources after swap = %+v, want the reloaded source", sources)
	}
}
