package session

import (
	"testing"
	"time"

	"github.com/jmylchreest/gatefetch/internal/browser"
)

func TestSession_Valid(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		session Session
		want    bool
	}{
		{"never initialized", Session{ExpiresAt: now.Add(time.Minute)}, false},
		{"fresh", Session{CookieHeader: "a=1", ExpiresAt: now.Add(time.Minute)}, true},
		{"at ceiling", Session{CookieHeader: "a=1", UsedCount: 10, ExpiresAt: now.Add(time.Minute)}, true},
		{"over ceiling", Session{CookieHeader: "a=1", UsedCount: 11, ExpiresAt: now.Add(time.Minute)}, false},
		{"expired at zero uses", Session{CookieHeader: "a=1", ExpiresAt: now.Add(-time.Second)}, false},
		{"expires exactly now", Session{CookieHeader: "a=1", ExpiresAt: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Valid(now, DefaultMaxUses); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_Masked(t *testing.T) {
	s := Session{CookieHeader: "nsit=abc; bm_sv=xyz", UserAgent: "ua", UsedCount: 3}

	masked := s.Masked()
	if masked.CookieHeader != "nsit=****; bm_sv=****" {
		t.Errorf("Masked().CookieHeader = %q", masked.CookieHeader)
	}
	if masked.UserAgent != "ua" || masked.UsedCount != 3 {
		t.Errorf("Masked() changed other fields: %+v", masked)
	}
	if s.CookieHeader != "nsit=abc; bm_sv=xyz" {
		t.Error("Masked() modified the receiver")
	}
	if (Session{}).Masked().CookieHeader != "" {
		t.Error("empty session should stay empty")
	}
}

func TestCookieHeader(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		cookies []browser.Cookie
		want    string
	}{
		{"empty", nil, ""},
		{
			"single",
			[]browser.Cookie{{Name: "nsit", Value: "abc"}},
			"nsit=abc",
		},
		{
			"keeps order",
			[]browser.Cookie{{Name: "nsit", Value: "abc"}, {Name: "ak_bmsc", Value: "def"}, {Name: "bm_sv", Value: "ghi"}},
			"nsit=abc; ak_bmsc=def; bm_sv=ghi",
		},
		{
			"skips expired and nameless",
			[]browser.Cookie{
				{Name: "old", Value: "1", Expires: float64(now.Unix() - 10)},
				{Name: "", Value: "orphan"},
				{Name: "live", Value: "2", Expires: float64(now.Unix() + 10)},
			},
			"live=2",
		},
		{
			"same name on different domains kept",
			[]browser.Cookie{{Name: "a", Value: "1", Domain: ".example.test"}, {Name: "b", Value: "2"}, {Name: "a", Value: "3", Domain: "www.example.test"}},
			"a=1; b=2; a=3",
		},
		{
			"empty value kept",
			[]browser.Cookie{{Name: "flag", Value: ""}},
			"flag=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CookieHeader(tt.cookies, now); got != tt.want {
				t.Errorf("CookieHeader() = %q, want %q", got, tt.want)
			}
		})
	}
}
