// Package parser turns raw playlist and guide documents into normalized
// records. Parsers are pure transformations: no networking, and malformed
// entries are dropped record-by-record instead of failing the document.
package parser

import (
	"bufio"
	"fmt"
	"strings"

	"apex-live/work/logger"
	"apex-live/work/types"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"
)

// extinfAttrRegexps caches the per-key lookups of the form key="value".
// Case-insensitive because playlists in the wild mix TVG-ID and tvg-id.
var extinfAttrRegexps = map[string]*regexp.Regexp{}

func init() {
	for _, key := range []string{"tvg-id", "tvg-name", "tvg-logo", "group-title"} {
		extinfAttrRegexps[key] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(key) + `="([^"]*)"`)
	}
}

func pickAttr(line, key string) string {
	re, ok := extinfAttrRegexps[key]
	if !ok {
		return ""
	}
	m := re.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseM3U parses an IPTV playlist into channel entries using a two-state
// line machine. "#EXTINF" opens a pending entry carrying the tvg attributes
// and the display name after the last comma; the next non-empty,
// non-comment line is the entry's URL and completes it. Entries lacking a
// name or URL are silently dropped, as is any stray content between
// entries. Imperfect playlists never fail the whole parse.
func ParseM3U(text string) []types.M3UChannel {
	var out []types.M3UChannel
	var current *types.M3UChannel

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXTINF") {
			entry := types.M3UChannel{
				TvgID:   pickAttr(line, "tvg-id"),
				TvgName: pickAttr(line, "tvg-name"),
				Logo:    pickAttr(line, "tvg-logo"),
				Group:   pickAttr(line, "group-title"),
			}
			if idx := strings.LastIndex(line, ","); idx != -1 {
				entry.Name = strings.TrimSpace(line[idx+1:])
			}
			current = &entry
			continue
		}

		if current != nil && !strings.HasPrefix(line, "#") {
			current.URL = line
			if current.Name != "" && current.URL != "" {
				out = append(out, *current)
			}
			current = nil
		}
	}

	return out
}

// ParseM3UOrHLS first checks whether the document is really an HLS playlist
// (users sometimes configure a raw stream URL as a playlist source). HLS
// media and master playlists are recognized with the grafov decoder and
// synthesized into entries; everything else goes through the line machine.
func ParseM3UOrHLS(text, sourceURL string) []types.M3UChannel {
	if strings.Contains(text, "#EXT-X-STREAM-INF") || strings.Contains(text, "#EXT-X-TARGETDURATION") {
		playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(strings.NewReader(text)), true)
		if err == nil {
			if chans := channelsFromHLS(playlist, listType, sourceURL); chans != nil {
				return chans
			}
		}
		logger.Debug("{parser - ParseM3UOrHLS} HLS decode failed or empty, falling back to line parser")
	}
	return ParseM3U(text)
}

func channelsFromHLS(playlist m3u8.Playlist, listType m3u8.ListType, sourceURL string) []types.M3UChannel {
	switch listType {
	case m3u8.MEDIA:
		// a media playlist is a single direct stream; expose the playlist
		// URL itself rather than individual segments
		return []types.M3UChannel{{Name: "Direct Stream", URL: sourceURL}}

	case m3u8.MASTER:
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok {
			return nil
		}
		var out []types.M3UChannel
		for _, variant := range master.Variants {
			if variant == nil || variant.URI == "" {
				continue
			}
			name := variant.Name
			if name == "" && variant.Resolution != "" {
				name = fmt.Sprintf("Stream_%s", variant.Resolution)
			} else if name == "" {
				name = fmt.Sprintf("Stream_%d", variant.Bandwidth)
			}
			out = append(out, types.M3UChannel{Name: name, URL: variant.URI})
		}
		return out
	}
	return nil
}
