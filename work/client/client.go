package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"apex-live/work/apperr"
)

// Gateway is the single timeout-bounded, abortable HTTP fetch primitive
// shared by the portal client, the ingestion fetchers and the proxy relay.
// Timeouts ride on the request context so a caller's cancellation (for
// example a downstream client disconnect) aborts the upstream fetch on
// every exit path.
type Gateway struct {
	Client *http.Client
}

// New builds a Gateway with transport tuning suited to third-party portals:
// no overall client timeout (streaming bodies must outlive any fixed bound),
// a header timeout so dead upstreams fail fast, and pooled keep-alives.
func New() *Gateway {
	return &Gateway{
		Client: &http.Client{
			Timeout: 0,
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// ValidateURL parses raw as an absolute http(s) URL.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return nil, apperr.Wrap(apperr.ErrInvalidURL, "%q is not an absolute url", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.Wrap(apperr.ErrInvalidURL, "unsupported scheme %q", u.Scheme)
	}
	return u, nil
}

// Fetch performs one HTTP request bounded by timeout. The returned response
// body remains readable after Fetch returns; its reads are cancelled when
// ctx is cancelled or the timeout elapses, so callers must fully consume or
// close the body before the deadline to avoid a Timeout error mid-read.
// The caller owns resp.Body. cancel must be called once the body is done.
func (g *Gateway) Fetch(ctx context.Context, method, rawURL string, hdr http.Header, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	if _, err := ValidateURL(rawURL); err != nil {
		return nil, nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(fetchCtx, method, rawURL, nil)
	if err != nil {
		cancel()
		return nil, nil, apperr.Wrap(apperr.ErrInvalidURL, "building request: %v", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || fetchCtx.Err() == context.DeadlineExceeded {
			return nil, nil, apperr.Wrap(apperr.ErrTimeout, "fetch exceeded %s: %v", timeout, err)
		}
		return nil, nil, apperr.Wrap(apperr.ErrUpstreamHTTP, "fetch failed: %v", err)
	}

	return resp, cancel, nil
}

// FetchOK is Fetch plus a 2xx status check. Non-2xx responses are drained,
// closed and surfaced as UpstreamHttpError.
func (g *Gateway) FetchOK(ctx context.Context, method, rawURL string, hdr http.Header, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	resp, cancel, err := g.Fetch(ctx, method, rawURL, hdr, timeout)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		// read off the error body, bounded, so the connection can go
		// back to the keep-alive pool
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		cancel()
		return nil, nil, apperr.Wrap(apperr.ErrUpstreamHTTP, "upstream returned %d", status)
	}
	return resp, cancel, nil
}

// SourceHeaders builds the common header set for ingestion fetches: the
// source's user agent (caller supplies the default), a wildcard Accept and
// an optional Referer.
func SourceHeaders(userAgent, referer string) http.Header {
	hdr := http.Header{}
	hdr.Set("User-Agent", userAgent)
	hdr.Set("Accept", "*/*")
	if referer != "" {
		hdr.Set("Referer", referer)
	}
	return hdr
}
