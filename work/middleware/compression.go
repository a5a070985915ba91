package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"apex-live/work/logger"

	"github.com/klauspost/compress/gzip"
)

// gzipWriterPool reuses gzip writers across responses. Writers run at
// BestSpeed: playlists and JSON payloads compress well anyway, and the
// text endpoints are on the hot path for client tuners.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter wraps an http.ResponseWriter so that body writes go
// through a gzip writer while headers still reach the original writer.
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
	wroteHeader bool
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// Flush drains the gzip buffer and then the underlying writer so
// incremental responses actually reach the client.
func (w *gzipResponseWriter) Flush() {
	if gzw, ok := w.Writer.(*gzip.Writer); ok {
		gzw.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Gzip wraps a handler with transparent gzip response compression for
// clients that advertise it. Intended for the text endpoints (playlist,
// guide, admin JSON); the media relay must not go through this, since
// stream bytes are already compressed and the relay forwards upstream
// headers verbatim.
func Gzip(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next(w, r)
			return
		}

		// compressed size is unknown up front
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")

		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			if err := gz.Close(); err != nil {
				logger.Error("{compression - Gzip} failed to close gzip writer for: %s %s - %v", r.Method, r.URL.Path, err)
			}
			gzipWriterPool.Put(gz)
		}()

		next(&gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	}
}
