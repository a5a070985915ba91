package types

import (
	"time"

	"apex-live/work/apperr"
)

// SourceKind discriminates the three origin flavours a Source can have.
// Portal sources speak the Stalker/MAG middleware dialect, M3U sources are
// remote playlists, and EPG sources are XMLTV guide documents.
type SourceKind string

const (
	SourceKindPortal SourceKind = "portal"
	SourceKindM3U    SourceKind = "m3u"
	SourceKindEPG    SourceKind = "epg"
)

// Refresh interval bounds in seconds. Anything outside is clamped, never
// rejected, so a stored source can always be scheduled.
const (
	MinRefreshSec = 15
	MaxRefreshSec = 86400
)

// Source is the configuration for one origin. It is owned by the
// configuration store; core subsystems receive it per call and must not
// retain mutable aliases across calls.
type Source struct {
	ID         string     `json:"id"`
	Kind       SourceKind `json:"kind"`
	Name       string     `json:"name"`
	RefreshSec int        `json:"refreshSec"`
	Enabled    bool       `json:"enabled"`
	UserAgent  string     `json:"userAgent"`
	Referer    string     `json:"referer"`

	// m3u / epg sources
	URL string `json:"url,omitempty"`

	// portal sources
	Portal   string `json:"portal,omitempty"`
	MAC      string `json:"mac,omitempty"`
	StbLang  string `json:"stbLang,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// optional channel name filters applied when this source's
	// channels are imported
	IncludeRegex string `json:"includeRegex,omitempty"`
	ExcludeRegex string `json:"excludeRegex,omitempty"`
}

// RefreshInterval returns the effective refresh cadence with the
// [MinRefreshSec, MaxRefreshSec] clamp applied.
func (s *Source) RefreshInterval() time.Duration {
	sec := s.RefreshSec
	if sec < MinRefreshSec {
		sec = MinRefreshSec
	}
	if sec > MaxRefreshSec {
		sec = MaxRefreshSec
	}
	return time.Duration(sec) * time.Second
}

// Validate checks the fields required for this source's kind.
func (s *Source) Validate() error {
	if s.ID == "" {
		return apperr.Wrap(apperr.ErrConfiguration, "source id is required")
	}
	switch s.Kind {
	case SourceKindPortal:
		if s.Portal == "" {
			return apperr.Wrap(apperr.ErrConfiguration, "portal source %s: portal url is required", s.ID)
		}
		if s.MAC == "" {
			return apperr.Wrap(apperr.ErrConfiguration, "portal source %s: mac is required", s.ID)
		}
	case SourceKindM3U, SourceKindEPG:
		if s.URL == "" {
			return apperr.Wrap(apperr.ErrConfiguration, "%s source %s: url is required", s.Kind, s.ID)
		}
	default:
		return apperr.Wrap(apperr.ErrConfiguration, "source %s: unknown kind %q", s.ID, s.Kind)
	}
	return nil
}

// StbSession is the ephemeral credential pair produced by a successful
// portal handshake. Tokens expire server-side, so sessions are short-lived
// capabilities that callers re-derive (or cache briefly) as needed.
type StbSession struct {
	Base  string `json:"base"`
	Token string `json:"token"`
}

// LiveChannel is a playable entry merged from any source kind. The ID is
// globally unique: it is prefixed with the owning source kind and id so
// entries from different sources can never collide.
type LiveChannel struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Logo       string     `json:"logo,omitempty"`
	Group      string     `json:"group,omitempty"`
	Cmd        string     `json:"cmd,omitempty"`   // portal-only, opaque vendor command
	TvgID      string     `json:"tvgId,omitempty"` // guide channel hint from M3U metadata
	SourceID   string     `json:"sourceId"`
	SourceKind SourceKind `json:"sourceKind"`
	StreamURL  string     `json:"streamUrl,omitempty"` // m3u-only direct URL
}

// M3UChannel is one parsed playlist entry before it becomes a LiveChannel.
type M3UChannel struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	TvgID   string `json:"tvgId,omitempty"`
	TvgName string `json:"tvgName,omitempty"`
	Logo    string `json:"logo,omitempty"`
	Group   string `json:"group,omitempty"`
}

// EpgChannel is a raw normalized channel fact from one XMLTV document.
type EpgChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EpgProgramme is a raw normalized programme fact from one XMLTV document.
// Start/stop keep the vendor timestamp text; interpretation is deferred to
// the guide index, which tolerates malformed values by dropping them.
type EpgProgramme struct {
	Channel string `json:"channel"`
	Start   string `json:"start"`
	Stop    string `json:"stop"`
	Title   string `json:"title"`
	Desc    string `json:"desc,omitempty"`
}

// EpgDocument is the parsed content of one XMLTV source.
type EpgDocument struct {
	Channels   []EpgChannel   `json:"channels"`
	Programmes []EpgProgramme `json:"programmes"`
}
