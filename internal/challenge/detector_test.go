package challenge

import (
	"testing"

	"github.com/jmylchreest/gatefetch/internal/browser"
)

func TestDetector_Classify(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name      string
		resp      *browser.Response
		want      Type
		wantTitle string
	}{
		{
			name: "json data",
			resp: &browser.Response{Status: 200, ContentType: "application/json", Body: []byte(`{"data":[1,2,3]}`)},
			want: TypeNone,
		},
		{
			name:      "akamai access denied",
			resp:      &browser.Response{Status: 403, ContentType: "text/html", Body: []byte(`<HTML><HEAD><TITLE>Access Denied</TITLE></HEAD><BODY>You don't have permission to access "http&#58;&#47;&#47;www&#46;example&#46;test&#47;api" on this server.<P>Reference&#32;&#35;18&#46;abc</BODY></HTML>`)},
			want:      TypeAkamai,
			wantTitle: "Access Denied",
		},
		{
			name: "akamai title only",
			resp: &browser.Response{Status: 200, ContentType: "text/html", Body: []byte(`<html><head><title>Access Denied</title></head></html>`)},
			want: TypeAkamai,
		},
		{
			name:      "cloudflare challenge",
			resp:      &browser.Response{Status: 503, ContentType: "text/html; charset=UTF-8", Body: []byte(`<!DOCTYPE html><html><head><title>Just a moment...</title></head><body><script>window._cf_chl_opt={}</script></body></html>`)},
			want:      TypeCloudflare,
			wantTitle: "Just a moment...",
		},
		{
			name: "ddos guard",
			resp: &browser.Response{Status: 403, Body: []byte(`<html><head><title>DDoS-Guard</title></head></html>`)},
			want: TypeDDoSGuard,
		},
		{
			name: "captcha",
			resp: &browser.Response{Status: 200, ContentType: "text/html", Body: []byte(`<html><div class="g-recaptcha" data-sitekey="x"></div></html>`)},
			want: TypeCaptcha,
		},
		{
			name: "rate limited",
			resp: &browser.Response{Status: 429, ContentType: "application/json", Body: []byte(`{}`)},
			want: TypeRateLimited,
		},
		{
			name: "plain forbidden",
			resp: &browser.Response{Status: 401, ContentType: "application/json", Body: []byte(`{"error":"unauthorized"}`)},
			want: TypeAccessDenied,
		},
		{
			name: "server error",
			resp: &browser.Response{Status: 502, ContentType: "text/plain", Body: []byte("bad gateway")},
			want: TypeUnknown,
		},
		{
			name: "empty body",
			resp: &browser.Response{Status: 200, ContentType: "application/json", Body: []byte("  ")},
			want: TypeEmpty,
		},
		{
			name:      "html instead of json",
			resp:      &browser.Response{Status: 200, Body: []byte(`<!doctype html><html><head><title>Home</title></head></html>`)},
			want:      TypeHTML,
			wantTitle: "Home",
		},
		{
			name: "nil response",
			resp: nil,
			want: TypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Classify(tt.resp)
			if got.Type != tt.want {
				t.Errorf("Classify().Type = %q, want %q", got.Type, tt.want)
			}
			if tt.wantTitle != "" && got.Title != tt.wantTitle {
				t.Errorf("Classify().Title = %q, want %q", got.Title, tt.wantTitle)
			}
			if got.Blocked() != (tt.want != TypeNone) {
				t.Errorf("Blocked() = %v", got.Blocked())
			}
		})
	}
}

func TestDetector_MaxScan(t *testing.T) {
	d := &Detector{MaxScan: 16}
	body := append([]byte(`<html><body>`), make([]byte, 64)...)
	body = append(body, []byte(`g-recaptcha`)...)

	got := d.Classify(&browser.Response{Status: 200, ContentType: "text/html", Body: body})
	if got.Type != TypeHTML {
		t.Errorf("signal beyond MaxScan should be ignored, got %q", got.Type)
	}
}
