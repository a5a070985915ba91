// Package handlers exposes the public HTTP surface: playlist and tuning
// for players, the media relay, ad hoc import endpoints and the portal
// session endpoints used by frontends that drive a portal directly.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"apex-live/work/app"
	"apex-live/work/logger"
	"apex-live/work/relay"
	"apex-live/work/stb"
	"apex-live/work/types"

	"github.com/gorilla/mux"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} failed to encode response: %v", err)
	}
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// HandleHealth reports liveness plus a couple of cheap gauges.
func HandleHealth(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"channels": a.Registry.Len(),
			"time":     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// HandleProxy serves the media relay.
func HandleProxy(rl *relay.Relay) http.HandlerFunc {
	return rl.ServeHTTP
}

// HandlePlaylist serves the merged playlist for all sources.
func HandlePlaylist(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-mpegurl")
		w.Write([]byte(a.Playlist()))
	}
}

// HandleTune resolves a channel to its upstream URL and redirects the
// player to the relay. Portal channels get a fresh create_link here, so
// the short-lived links portals hand out are minted at play time.
func HandleTune(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		streamURL, err := a.ResolveChannel(r.Context(), id)
		if err != nil {
			logger.Warn("{handlers - HandleTune} could not resolve channel %s: %v", id, err)
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		http.Redirect(w, r, "/api/proxy?u="+url.QueryEscape(streamURL), http.StatusFound)
	}
}

type importRequest struct {
	URL       string `json:"url"`
	UserAgent string `json:"userAgent"`
	Referer   string `json:"referer"`
}

// HandleM3UImport fetches and parses a playlist on demand, returning the
// channels without touching the configured sources.
func HandleM3UImport(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if !readJSON(w, r, &req) {
			return
		}
		entries, err := a.Ingestor.ImportM3U(r.Context(), req.URL, req.UserAgent, req.Referer)
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"channels": entries})
	}
}

// HandleEPGImport fetches and parses an XMLTV document on demand.
func HandleEPGImport(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if !readJSON(w, r, &req) {
			return
		}
		doc, err := a.Ingestor.ImportEPG(r.Context(), req.URL, req.UserAgent, req.Referer)
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// stbRequest carries the fields a frontend supplies when it drives a
// portal directly instead of going through a configured source.
type stbRequest struct {
	Portal    string `json:"portal"`
	Base      string `json:"base"`
	Token     string `json:"token"`
	MAC       string `json:"mac"`
	StbLang   string `json:"stbLang"`
	Timezone  string `json:"timezone"`
	UserAgent string `json:"userAgent"`
	Referer   string `json:"referer"`
	SourceID  string `json:"sourceId"`
	Cmd       string `json:"cmd"`
}

func (req *stbRequest) identity() stb.Identity {
	lang := req.StbLang
	if lang == "" {
		lang = "en"
	}
	tz := req.Timezone
	if tz == "" {
		tz = "Europe/London"
	}
	return stb.Identity{
		MAC:       req.MAC,
		Lang:      lang,
		Timezone:  tz,
		UserAgent: req.UserAgent,
		Referer:   req.Referer,
	}
}

// HandleStbConnect performs the portal handshake. With a sourceId the
// configured source is used and the session cached; otherwise the portal
// and MAC come from the request body.
func HandleStbConnect(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stbRequest
		if !readJSON(w, r, &req) {
			return
		}

		var session types.StbSession
		var err error
		if req.SourceID != "" {
			src, ok := a.SourceByID(req.SourceID)
			if !ok || src.Kind != types.SourceKindPortal {
				writeErr(w, http.StatusBadRequest, fmt.Errorf("no portal source with id %s", req.SourceID))
				return
			}
			session, err = a.ConnectPortal(r.Context(), src)
		} else {
			session, err = a.Stb.Handshake(r.Context(), req.Portal, req.identity())
		}
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

// HandleStbChannels lists and normalizes a portal's channels using a
// session the caller already holds.
func HandleStbChannels(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stbRequest
		if !readJSON(w, r, &req) {
			return
		}
		session := types.StbSession{Base: req.Base, Token: req.Token}
		raw, err := a.Stb.ListChannels(r.Context(), session, req.identity())
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		sourceID := req.SourceID
		if sourceID == "" {
			sourceID = "adhoc"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"channels": stb.NormalizeChannels(raw, sourceID),
		})
	}
}

// HandleStbCreateLink asks the portal for a playable link for one cmd.
func HandleStbCreateLink(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stbRequest
		if !readJSON(w, r, &req) {
			return
		}
		session := types.StbSession{Base: req.Base, Token: req.Token}
		raw, err := a.Stb.CreateLink(r.Context(), session, req.identity(), req.Cmd)
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		streamURL, err := stb.ResolveStreamURL(raw)
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": streamURL})
	}
}

// HandleNowNext resolves the current and next programme for a channel.
func HandleNowNext(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("channel")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing channel parameter"})
			return
		}
		nn, err := a.NowNext(id, time.Now().UTC())
		if err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, nn)
	}
}
