// Package relay streams arbitrary upstream HTTP responses back to a
// browser-class client so it can fetch cross-origin portal content (video
// segments, logos, playlists) without same-origin restrictions. It forwards
// a fixed header allowlist in both directions, bounds the total wait with a
// clamped timeout, and aborts the upstream fetch the moment the downstream
// client disconnects.
package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"apex-live/work/client"
	"apex-live/work/logger"
	"apex-live/work/metrics"
	"apex-live/work/utils"
)

// Timeout bounds in milliseconds. Values outside the range are clamped,
// not rejected.
const (
	MinTimeoutMs     = 3000
	MaxTimeoutMs     = 120000
	DefaultTimeoutMs = 60000
)

// requestHeaderAllowlist is the only inbound header subset forwarded
// upstream. Everything else stays private to the downstream connection.
var requestHeaderAllowlist = []string{"User-Agent", "Referer", "Range", "Cookie", "Accept"}

// responseHeaderAllowlist is the only upstream header subset forwarded
// back. Dropping the rest keeps portal-internal state (Set-Cookie and
// friends) from leaking to the client.
var responseHeaderAllowlist = []string{"Content-Type", "Content-Length", "Accept-Ranges", "Content-Range", "Location"}

// Relay is the content proxy handler.
type Relay struct {
	Gateway       *client.Gateway
	ObfuscateUrls bool
}

func New(gw *client.Gateway, obfuscate bool) *Relay {
	return &Relay{Gateway: gw, ObfuscateUrls: obfuscate}
}

// ClampTimeout parses the "t" query value into a bounded timeout.
func ClampTimeout(raw string) time.Duration {
	ms := DefaultTimeoutMs
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			ms = parsed
		}
	}
	if ms < MinTimeoutMs {
		ms = MinTimeoutMs
	}
	if ms > MaxTimeoutMs {
		ms = MaxTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

func writeError(w http.ResponseWriter, status int, stage string, err error) {
	metrics.RelayErrors.WithLabelValues(stage).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": stage + ": " + err.Error()})
}

// ServeHTTP relays GET /api/proxy?u=<url>&m=<method>&t=<ms>. The upstream
// status code passes through unmodified; the body is streamed chunk by
// chunk without buffering. Once the first byte is written the status can no
// longer be rewritten, so a later upstream failure simply terminates the
// stream and the player treats the truncation as a playback error.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("u")
	method := strings.ToUpper(r.URL.Query().Get("m"))
	if method == "" {
		method = http.MethodGet
	}
	timeout := ClampTimeout(r.URL.Query().Get("t"))

	if _, err := client.ValidateURL(target); err != nil {
		writeError(w, http.StatusBadRequest, "validate", err)
		return
	}

	hdr := http.Header{}
	for _, name := range requestHeaderAllowlist {
		if v := r.Header.Get(name); v != "" {
			hdr.Set(name, v)
		}
	}

	// the inbound request context carries the client disconnect; handing it
	// to the gateway aborts the upstream fetch on every exit path
	resp, cancel, err := rl.Gateway.Fetch(r.Context(), method, target, hdr, timeout)
	if err != nil {
		writeError(w, http.StatusBadGateway, "fetch", err)
		return
	}
	defer cancel()
	defer resp.Body.Close()

	for _, name := range responseHeaderAllowlist {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	// players probe for byte-range support before seeking; assert it
	// regardless of what the upstream advertised
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	written, err := rl.stream(w, flusher, resp.Body)
	metrics.RelayBytes.Add(float64(written))

	if err != nil {
		metrics.RelayErrors.WithLabelValues("stream").Inc()
		logger.Debug("{relay - ServeHTTP} Stream for %s ended after %d bytes: %v",
			utils.LogURL(rl.ObfuscateUrls, target), written, err)
	}
}

// stream copies the upstream body to the downstream writer chunk by chunk,
// flushing after each write so media players see data immediately. A read
// error aborts the copy; the gateway's context wiring guarantees the read
// unblocks when the downstream client goes away.
func (rl *Relay) stream(w io.Writer, flusher http.Flusher, body io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
