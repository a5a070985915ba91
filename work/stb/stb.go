// Package stb speaks the Stalker/MAG middleware dialect: it emulates a
// set-top-box well enough to obtain a session token, enumerate channels and
// exchange a vendor command for a playable stream URL.
package stb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apex-live/work/apperr"
	"apex-live/work/client"
	"apex-live/work/logger"
	"apex-live/work/types"

	"go.uber.org/ratelimit"
)

const defaultUserAgent = "Mozilla/5.0 (Linux; Android 10; MAG 250) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"

// Request timeouts per portal operation. Portals are third-party and may
// hang; these bounds are mandatory, not advisory.
const (
	HandshakeTimeout = 60 * time.Second
	ListTimeout      = 90 * time.Second
	LinkTimeout      = 90 * time.Second
)

// Client performs portal requests through the shared fetch gateway. A rate
// limiter throttles calls per portal so refresh bursts cannot hammer a slow
// middleware.
type Client struct {
	Gateway *client.Gateway
	Limiter ratelimit.Limiter
}

// NewClient wraps the gateway with a per-portal limiter. limiterPerSec <= 0
// falls back to 5 requests per second.
func NewClient(gw *client.Gateway, limiterPerSec int) *Client {
	if limiterPerSec <= 0 {
		limiterPerSec = 5
	}
	return &Client{
		Gateway: gw,
		Limiter: ratelimit.New(limiterPerSec),
	}
}

// Identity carries the per-source request shaping for one portal: device
// MAC, language, timezone and optional UA/referer overrides.
type Identity struct {
	MAC       string
	Lang      string
	Timezone  string
	UserAgent string
	Referer   string
}

func apiURL(base string, params url.Values) string {
	return base + "/server/load.php?" + params.Encode()
}

// Handshake performs the token handshake against a portal and returns the
// session. base may be any URL on the portal; it is normalized first.
func (c *Client) Handshake(ctx context.Context, base string, id Identity) (types.StbSession, error) {
	normalized, err := NormalizeBase(base)
	if err != nil {
		return types.StbSession{}, err
	}

	params := url.Values{}
	params.Set("type", "stb")
	params.Set("action", "handshake")
	params.Set("mac", id.MAC)
	params.Set("JsHttpRequest", "1-xml")

	hdr := Headers(normalized, id.UserAgent, id.Referer)
	hdr.Set("Cookie", Cookie(id.MAC, "", id.Lang, id.Timezone))

	raw, err := c.fetchJSON(ctx, apiURL(normalized, params), hdr, HandshakeTimeout)
	if err != nil {
		return types.StbSession{}, apperr.Wrap(apperr.ErrHandshakeFailed, "handshake: %v", err)
	}

	token := extractToken(raw)
	if token == "" {
		return types.StbSession{}, apperr.Wrap(apperr.ErrHandshakeFailed, "handshake returned no token")
	}

	logger.Debug("{stb - Handshake} Token obtained from %s", normalized)
	return types.StbSession{Base: normalized, Token: token}, nil
}

// extractToken pulls the session token out of a handshake response body,
// trying the vendor field names in priority order and trimming whitespace.
func extractToken(raw any) string {
	js := subDocument(raw, "js")
	if js == nil {
		js = raw
	}
	for _, key := range []string{"token", "api_token", "token_key"} {
		if v := strings.TrimSpace(stringField(js, key)); v != "" {
			return v
		}
	}
	return ""
}

// ListChannels fetches the portal's full channel list and returns the raw
// decoded JSON value. Response shape varies enough across portal vendors
// that interpretation is a separate concern; see NormalizeChannels.
func (c *Client) ListChannels(ctx context.Context, session types.StbSession, id Identity) (any, error) {
	params := url.Values{}
	params.Set("type", "itv")
	params.Set("action", "get_all_channels")
	params.Set("mac", id.MAC)
	params.Set("JsHttpRequest", "1-xml")

	return c.authedJSON(ctx, apiURL(session.Base, params), session, id, ListTimeout)
}

// CreateLink exchanges a channel's vendor command for a link-creation
// response. The raw value goes through ResolveStreamURL to obtain a
// playable URL.
func (c *Client) CreateLink(ctx context.Context, session types.StbSession, id Identity, cmd string) (any, error) {
	params := url.Values{}
	params.Set("type", "itv")
	params.Set("action", "create_link")
	params.Set("cmd", cmd)
	params.Set("mac", id.MAC)
	params.Set("JsHttpRequest", "1-xml")

	return c.authedJSON(ctx, apiURL(session.Base, params), session, id, LinkTimeout)
}

func (c *Client) authedJSON(ctx context.Context, rawURL string, session types.StbSession, id Identity, timeout time.Duration) (any, error) {
	hdr := Headers(session.Base, id.UserAgent, id.Referer)
	hdr.Set("Cookie", Cookie(id.MAC, session.Token, id.Lang, id.Timezone))
	hdr.Set("Authorization", "Bearer "+session.Token)

	return c.fetchJSON(ctx, rawURL, hdr, timeout)
}

// fetchJSON performs a rate-limited GET and decodes the body as JSON. A
// body that is not JSON is not an error: portals occasionally answer with
// PHP warnings or plain text, so it is wrapped as {"rawText": ...} and left
// to the caller's normalization stage.
func (c *Client) fetchJSON(ctx context.Context, rawURL string, hdr http.Header, timeout time.Duration) (any, error) {
	c.Limiter.Take()

	resp, cancel, err := c.Gateway.FetchOK(ctx, http.MethodGet, rawURL, hdr, timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUpstreamHTTP, "reading body: %v", err)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		logger.Debug("{stb - fetchJSON} Non-JSON portal response (%d bytes), passing through as rawText", len(body))
		return map[string]any{"rawText": string(body)}, nil
	}
	return decoded, nil
}
