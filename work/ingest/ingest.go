// Package ingest fetches remote playlist and guide documents and hands
// them to the parsers. It owns the import timeouts and the transparent
// decompression step for guide sources.
package ingest

import (
	"context"
	"io"
	"net/http"
	"time"

	"apex-live/work/apperr"
	"apex-live/work/client"
	"apex-live/work/logger"
	"apex-live/work/metrics"
	"apex-live/work/parser"
	"apex-live/work/types"
)

// ImportTimeout bounds a single playlist or guide fetch. Imports run from
// the refresh scheduler, so a hung source fails here instead of blocking
// its refresh slot indefinitely.
const ImportTimeout = 90 * time.Second

// Ingestor performs playlist and guide imports through the shared gateway.
type Ingestor struct {
	Gateway *client.Gateway
}

func New(gw *client.Gateway) *Ingestor {
	return &Ingestor{Gateway: gw}
}

// ImportM3U fetches a playlist and returns its parsed channel entries.
func (i *Ingestor) ImportM3U(ctx context.Context, url, userAgent, referer string) ([]types.M3UChannel, error) {
	resp, cancel, err := i.Gateway.FetchOK(ctx, http.MethodGet, url, client.SourceHeaders(userAgent, referer), ImportTimeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUpstreamHTTP, "m3u import: reading body: %v", err)
	}

	channels := parser.ParseM3UOrHLS(string(body), url)
	metrics.IngestedRecords.WithLabelValues(string(types.SourceKindM3U), "channel").Add(float64(len(channels)))
	logger.Debug("{ingest - ImportM3U} Parsed %d channels from playlist (%d bytes)", len(channels), len(body))
	return channels, nil
}

// ImportEPG fetches a guide document, decompressing gzip (or mislabeled
// deflate) transparently, and returns the parsed channel and programme
// records.
func (i *Ingestor) ImportEPG(ctx context.Context, url, userAgent, referer string) (*types.EpgDocument, error) {
	resp, cancel, err := i.Gateway.FetchOK(ctx, http.MethodGet, url, client.SourceHeaders(userAgent, referer), ImportTimeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUpstreamHTTP, "epg import: reading body: %v", err)
	}

	if parser.LooksGzipped(url, resp.Header.Get("Content-Type")) {
		decompressed, err := parser.Decompress(body)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrUpstreamHTTP, "epg import: decompress: %v", err)
		}
		body = decompressed
	}

	doc, err := parser.ParseXMLTV(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUpstreamHTTP, "epg import: parse: %v", err)
	}

	metrics.IngestedRecords.WithLabelValues(string(types.SourceKindEPG), "channel").Add(float64(len(doc.Channels)))
	metrics.IngestedRecords.WithLabelValues(string(types.SourceKindEPG), "programme").Add(float64(len(doc.Programmes)))
	logger.Debug("{ingest - ImportEPG} Parsed %d channels, %d programmes", len(doc.Channels), len(doc.Programmes))
	return doc, nil
}
