package stb

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"apex-live/work/apperr"
	"apex-live/work/types"

	"github.com/grafana/regexp"
)

// streamURLRegexp extracts the first absolute http(s) URL embedded in a
// create_link cmd value. Some vendors prepend a player directive
// ("ffmpeg http://...") before the URL.
var streamURLRegexp = regexp.MustCompile(`(https?://[^\s'"]+)`)

// NormalizeBase parses raw as an absolute http(s) URL and reduces it to the
// portal's API root. When the path contains a "stalker_portal" segment the
// base keeps everything up to and including that segment; otherwise the
// whole path is discarded, leaving scheme+host(+port). Query, fragment and
// any trailing slash are always stripped. The result is idempotent:
// normalizing an already-normalized base returns it unchanged.
func NormalizeBase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return "", apperr.Wrap(apperr.ErrInvalidURL, "%q is not an absolute url", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.Wrap(apperr.ErrInvalidURL, "unsupported scheme %q", u.Scheme)
	}

	if idx := strings.Index(u.Path, "/stalker_portal"); idx != -1 {
		u.Path = u.Path[:idx] + "/stalker_portal"
	} else {
		u.Path = ""
	}
	u.RawQuery = ""
	u.Fragment = ""

	return strings.TrimSuffix(u.String(), "/"), nil
}

// Headers returns the fixed header set a Stalker portal expects from a
// set-top-box client. userAgent and referer may be empty; the defaults are
// a MAG-class UA and "<base>/c/".
func Headers(base, userAgent, referer string) http.Header {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if referer == "" {
		referer = base + "/c/"
	}

	hdr := http.Header{}
	hdr.Set("User-Agent", userAgent)
	hdr.Set("X-User-Agent", "STB: MAG")
	hdr.Set("Accept", "application/json, text/plain, */*")
	hdr.Set("Referer", referer)
	hdr.Set("Origin", base)
	return hdr
}

// Cookie assembles the portal session cookie. Field order is fixed because
// some portal implementations are order-sensitive: mac, stb_lang, timezone,
// then token (only when one is held).
func Cookie(mac, token, lang, timezone string) string {
	if lang == "" {
		lang = "en"
	}
	if timezone == "" {
		timezone = "Europe/London"
	}

	parts := []string{
		"mac=" + url.QueryEscape(mac),
		"stb_lang=" + lang,
		"timezone=" + timezone,
	}
	if token != "" {
		parts = append(parts, "token="+token)
	}
	return strings.Join(parts, "; ")
}

// ResolveStreamURL extracts a playable URL from a raw create_link response.
// Preference order: js.cmd, js.url, js.link, js.tmp, js.stream when any of
// them is an absolute http(s) string; as a best-effort fallback, the first
// http(s) token embedded anywhere inside js.cmd. The fallback has no vendor
// documentation behind it, so its miss is reported as the same NoStreamUrl
// as an empty response.
func ResolveStreamURL(raw any) (string, error) {
	js := subDocument(raw, "js")
	if js == nil {
		js = raw
	}

	for _, key := range []string{"cmd", "url", "link", "tmp", "stream"} {
		v := stringField(js, key)
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			return v, nil
		}
	}

	if cmd := stringField(js, "cmd"); strings.Contains(cmd, "http") {
		if m := streamURLRegexp.FindString(cmd); m != "" {
			return m, nil
		}
	}

	return "", apperr.Wrap(apperr.ErrNoStreamURL, "create_link response has no resolvable url")
}

// NormalizeChannels projects a raw get_all_channels response into
// LiveChannel records. Portal response shapes are unstable, so the record
// list is looked for in several places (top-level array, .js, .data,
// .js.data) and every logical field is resolved through an ordered list of
// vendor field names. Records missing id, name or cmd are discarded.
// Channel ids are namespaced as portal_<sourceID>_<vendorID>.
func NormalizeChannels(raw any, sourceID string) []types.LiveChannel {
	arr := recordList(raw)
	out := make([]types.LiveChannel, 0, len(arr))

	for _, rec := range arr {
		id := firstString(rec, "id", "ch_id", "number")
		name := firstString(rec, "name", "title")
		cmd := firstString(rec, "cmd", "command")
		if id == "" || name == "" || cmd == "" {
			continue
		}

		out = append(out, types.LiveChannel{
			ID:         fmt.Sprintf("portal_%s_%s", sourceID, id),
			Name:       name,
			Logo:       firstString(rec, "logo", "logo_30", "logo_60", "picon"),
			Group:      firstString(rec, "tv_genre_id", "genre_id", "category_id"),
			Cmd:        cmd,
			SourceID:   sourceID,
			SourceKind: types.SourceKindPortal,
		})
	}

	return out
}

// recordList digs the channel record array out of whichever envelope the
// vendor used.
func recordList(raw any) []any {
	if arr, ok := raw.([]any); ok {
		return arr
	}

	for _, path := range [][]string{{"js", "data"}, {"js"}, {"data"}} {
		node := raw
		for _, key := range path {
			node = subDocument(node, key)
			if node == nil {
				break
			}
		}
		if arr, ok := node.([]any); ok {
			return arr
		}
		// an object at .js may still carry a nested data array
		if arr, ok := subDocument(node, "data").([]any); ok {
			return arr
		}
	}

	return nil
}

func subDocument(raw any, key string) any {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

// stringField returns the named field rendered as a string. Vendors emit
// ids as numbers or strings interchangeably.
func stringField(raw any, key string) string {
	v := subDocument(raw, key)
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func firstString(raw any, keys ...string) string {
	for _, key := range keys {
		if v := stringField(raw, key); v != "" {
			return v
		}
	}
	return ""
}
