package identity

import (
	"strings"
	"testing"

	"dealtracker/models"
)

func TestResolve_PrefersSourceID(t *testing.T) {
	c := &models.Candidate{SourceID: "1712345678", URL: "https://www.kijiji.ca/v-3d-printer/1712345678"}
	key := Resolve(c)
	if key.Kind != BySourceID || key.Value != "1712345678" {
		t.Fatalf("unexpected key %s", key)
	}
}

func TestResolve_FallsBackToURL(t *testing.T) {
	c := &models.Candidate{URL: "https://www.sovol3d.com/products/sv06?utm=x#reviews"}
	key := Resolve(c)
	if key.Kind != ByURL {
		t.Fatalf("expected URL key, got %s", key.Kind)
	}
	if key.Value != "sovol3d.com/products/sv06" {
		t.Fatalf("unexpected normalized value %q", key.Value)
	}
}

func TestListingKey_MirrorsResolve(t *testing.T) {
	c := &models.Candidate{URL: "https://WWW.Sovol3D.com/products/sv06/"}
	l := &models.Listing{URL: "https://www.sovol3d.com/products/sv06?variant=2"}
	if Resolve(c) != ListingKey(l) {
		t.Fatalf("candidate and listing keys diverge: %s vs %s", Resolve(c), ListingKey(l))
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://www.kijiji.ca/v-buy-sell/printer/1712345678/": "kijiji.ca/v-buy-sell/printer/1712345678",
		"http://Example.COM/Path?q=1":                          "example.com/Path",
		"https://example.com":                                  "example.com",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStableID_InsensitiveToQueryNoise(t *testing.T) {
	a := StableID("retail", "https://www.sovol3d.com/products/sv06?utm_source=x")
	b := StableID("retail", "https://sovol3d.com/products/sv06/")
	if a != b {
		t.Fatalf("expected stable id across URL noise: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "retail:") {
		t.Fatalf("expected source prefix, got %s", a)
	}
	if len(a) != len("retail:")+16 {
		t.Fatalf("expected 16 hex chars, got %s", a)
	}
}
