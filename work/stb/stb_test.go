package stb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"apex-live/work/apperr"
	"apex-live/work/client"
	"apex-live/work/types"
)

func TestNormalizeBase(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare host", "http://portal.example.com", "http://portal.example.com"},
		{"trailing slash", "http://portal.example.com/", "http://portal.example.com"},
		{"path discarded", "http://portal.example.com/c/index.html", "http://portal.example.com"},
		{"query and fragment stripped", "http://portal.example.com/c/?x=1#top", "http://portal.example.com"},
		{"stalker segment kept", "http://portal.example.com/stalker_portal/c/", "http://portal.example.com/stalker_portal"},
		{"stalker deep path", "http://portal.example.com/stalker_portal/server/load.php", "http://portal.example.com/stalker_portal"},
		{"port preserved", "https://portal.example.com:8080/c", "https://portal.example.com:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBase(tt.in)
			if err != nil {
				t.Fatalf("NormalizeBase(%q) returned error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeBase(%q) = %q, want %q", tt.in, got, tt.want)
			}

			// normalizing the result again must not change it
			again, err := NormalizeBase(got)
			if err != nil {
				t.Fatalf("second NormalizeBase(%q) returned error: %v", got, err)
			}
			if again != got {
				t.Errorf("NormalizeBase not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestNormalizeBaseRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "not a url", "/relative/path", "ftp://portal.example.com"} {
		if _, err := NormalizeBase(in); !errors.Is(err, apperr.ErrInvalidURL) {
			t.Errorf("NormalizeBase(%q) error = %v, want ErrInvalidURL", in, err)
		}
	}
}

func TestCookieOrder(t *testing.T) {
	got := Cookie("00:1A:79:AA:BB:CC", "tok123", "en", "Europe/London")
	want := "mac=00%3A1A%3A79%3AAA%3ABB%3ACC; stb_lang=en; timezone=Europe/London; token=tok123"
	if got != want {
		t.Errorf("Cookie() = %q, want %q", got, want)
	}
}

func TestCookieWithoutToken(t *testing.T) {
	got := Cookie("00:1A:79:AA:BB:CC", "", "", "")
	if strings.Contains(got, "token=") {
		t.Errorf("Cookie() without token should omit token field, got %q", got)
	}
	if !strings.HasPrefix(got, "mac=") {
		t.Errorf("Cookie() must start with mac, got %q", got)
	}
	// defaults kick in when lang/timezone are empty
	if !strings.Contains(got, "stb_lang=en") || !strings.Contains(got, "timezone=Europe/London") {
		t.Errorf("Cookie() missing defaults, got %q", got)
	}
}

func TestHeaders(t *testing.T) {
	hdr := Headers("http://portal.example.com", "", "")
	if got := hdr.Get("X-User-Agent"); got != "STB: MAG" {
		t.Errorf("X-User-Agent = %q", got)
	}
	if got := hdr.Get("Referer"); got != "http://portal.example.com/c/" {
		t.Errorf("default Referer = %q", got)
	}
	if got := hdr.Get("Origin"); got != "http://portal.example.com" {
		t.Errorf("Origin = %q", got)
	}

	hdr = Headers("http://portal.example.com", "CustomUA/1.0", "http://other/")
	if got := hdr.Get("User-Agent"); got != "CustomUA/1.0" {
		t.Errorf("User-Agent override = %q", got)
	}
	if got := hdr.Get("Referer"); got != "http://other/" {
		t.Errorf("Referer override = %q", got)
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"js token", `{"js":{"token":"abc"}}`, "abc"},
		{"api_token fallback", `{"js":{"api_token":"  def  "}}`, "def"},
		{"token_key fallback", `{"js":{"token_key":"ghi"}}`, "ghi"},
		{"top level token", `{"token":"jkl"}`, "jkl"},
		{"priority order", `{"js":{"api_token":"low","token":"high"}}`, "high"},
		{"missing", `{"js":{}}`, ""},
		{"whitespace only", `{"js":{"token":"   "}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw any
			if err := json.Unmarshal([]byte(tt.body), &raw); err != nil {
				t.Fatal(err)
			}
			if got := extractToken(raw); got != tt.want {
				t.Errorf("extractToken(%s) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestResolveStreamURL(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"direct cmd", `{"js":{"cmd":"http://edge/stream/1.ts"}}`, "http://edge/stream/1.ts"},
		{"url field", `{"js":{"url":"https://edge/stream/1.m3u8"}}`, "https://edge/stream/1.m3u8"},
		{"embedded in cmd", `{"js":{"cmd":"ffmpeg http://edge/live/2.ts"}}`, "http://edge/live/2.ts"},
		{"link field", `{"js":{"cmd":"auto","link":"http://edge/3.ts"}}`, "http://edge/3.ts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw any
			if err := json.Unmarshal([]byte(tt.body), &raw); err != nil {
				t.Fatal(err)
			}
			got, err := ResolveStreamURL(raw)
			if err != nil {
				t.Fatalf("ResolveStreamURL returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveStreamURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveStreamURLMissing(t *testing.T) {
	var raw any
	json.Unmarshal([]byte(`{"js":{"cmd":"rtsp://nope"}}`), &raw)
	if _, err := ResolveStreamURL(raw); !errors.Is(err, apperr.ErrNoStreamURL) {
		t.Errorf("error = %v, want ErrNoStreamURL", err)
	}
}

func TestNormalizeChannels(t *testing.T) {
	body := `{"js":{"data":[
		{"id":101,"name":"News One","logo":"http://l/1.png","tv_genre_id":"5","cmd":"ffmpeg http://e/1.ts"},
		{"ch_id":"202","title":"Sports Two","command":"http://e/2.ts"},
		{"name":"No ID","cmd":"http://e/3.ts"},
		{"id":303,"name":"No Cmd"}
	]}}`
	var raw any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatal(err)
	}

	got := NormalizeChannels(raw, "src1")
	if len(got) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(got))
	}

	if got[0].ID != "portal_src1_101" {
		t.Errorf("first id = %q", got[0].ID)
	}
	if got[0].Name != "News One" || got[0].Group != "5" || got[0].Logo != "http://l/1.png" {
		t.Errorf("first channel fields wrong: %+v", got[0])
	}
	if got[1].ID != "portal_src1_202" || got[1].Name != "Sports Two" || got[1].Cmd != "http://e/2.ts" {
		t.Errorf("fallback field names not honored: %+v", got[1])
	}
}

func TestNormalizeChannelsEnvelopes(t *testing.T) {
	for _, body := range []string{
		`[{"id":1,"name":"A","cmd":"http://e/a"}]`,
		`{"js":[{"id":1,"name":"A","cmd":"http://e/a"}]}`,
		`{"data":[{"id":1,"name":"A","cmd":"http://e/a"}]}`,
		`{"js":{"data":[{"id":1,"name":"A","cmd":"http://e/a"}]}}`,
	} {
		var raw any
		if err := json.Unmarshal([]byte(body), &raw); err != nil {
			t.Fatal(err)
		}
		if got := NormalizeChannels(raw, "s"); len(got) != 1 {
			t.Errorf("envelope %s: expected 1 channel, got %d", body, len(got))
		}
	}
}

func TestHandshake(t *testing.T) {
	var gotCookie, gotXUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/server/load.php" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("action") != "handshake" {
			t.Errorf("unexpected action %q", r.URL.Query().Get("action"))
		}
		gotCookie = r.Header.Get("Cookie")
		gotXUA = r.Header.Get("X-User-Agent")
		w.Write([]byte(`{"js":{"token":"tok42"}}`))
	}))
	defer srv.Close()

	c := NewClient(client.New(), 100)
	session, err := c.Handshake(context.Background(), srv.URL+"/c/", Identity{MAC: "00:1A:79:AA:BB:CC"})
	if err != nil {
		t.Fatalf("Handshake returned error: %v", err)
	}
	if session.Token != "tok42" {
		t.Errorf("token = %q", session.Token)
	}
	if session.Base != srv.URL {
		t.Errorf("base = %q, want %q", session.Base, srv.URL)
	}
	if gotXUA != "STB: MAG" {
		t.Errorf("X-User-Agent = %q", gotXUA)
	}
	if strings.Contains(gotCookie, "token=") {
		t.Errorf("handshake must not send a token cookie, got %q", gotCookie)
	}
}

func TestHandshakeNoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"js":{}}`))
	}))
	defer srv.Close()

	c := NewClient(client.New(), 100)
	if _, err := c.Handshake(context.Background(), srv.URL, Identity{MAC: "00:1A:79:AA:BB:CC"}); !errors.Is(err, apperr.ErrHandshakeFailed) {
		t.Errorf("error = %v, want ErrHandshakeFailed", err)
	}
}

func TestCreateLinkSendsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok42" {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.Contains(r.Header.Get("Cookie"), "token=tok42") {
			t.Errorf("Cookie missing token: %q", r.Header.Get("Cookie"))
		}
		if got := r.URL.Query().Get("cmd"); got != "ffmpeg http://e/1.ts" {
			t.Errorf("cmd = %q", got)
		}
		w.Write([]byte(`{"js":{"cmd":"http://edge/real.ts"}}`))
	}))
	defer srv.Close()

	c := NewClient(client.New(), 100)
	session := types.StbSession{Base: srv.URL, Token: "tok42"}
	raw, err := c.CreateLink(context.Background(), session, Identity{MAC: "00:1A:79:AA:BB:CC"}, "ffmpeg http://e/1.ts")
	if err != nil {
		t.Fatalf("CreateLink returned error: %v", err)
	}
	got, err := ResolveStreamURL(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://edge/real.ts" {
		t.Errorf("resolved url = %q", got)
	}
}

func TestFetchJSONNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Authorization failed"))
	}))
	defer srv.Close()

	c := NewClient(client.New(), 100)
	raw, err := c.fetchJSON(context.Background(), srv.URL, nil, HandshakeTimeout)
	if err != nil {
		t.Fatalf("fetchJSON returned error: %v", err)
	}
	m, ok := raw.(map[string]any)
	if !ok || m["rawText"] != "Authorization failed" {
		t.Errorf("non-JSON body not wrapped: %#v", raw)
	}
}
