package parser

import (
	"bytes"
	"io"
	"strings"

	"apex-live/work/logger"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// LooksGzipped reports whether a guide document should be treated as
// compressed, judged by the URL suffix or the response content type.
func LooksGzipped(sourceURL, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(sourceURL), ".gz") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "gzip") || strings.Contains(ct, "x-gzip")
}

// Decompress inflates a guide payload. Gzip is attempted first; when the
// framing does not check out, raw deflate is tried, because some servers
// label deflate streams as gzip. Both failing returns the gzip error.
func Decompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err == nil {
		out, gzErr := io.ReadAll(gr)
		gr.Close()
		if gzErr == nil {
			return out, nil
		}
		err = gzErr
	}

	logger.Debug("{parser - Decompress} gzip failed (%v), trying raw deflate", err)

	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	out, flateErr := io.ReadAll(fr)
	if flateErr != nil {
		return nil, err
	}
	return out, nil
}
