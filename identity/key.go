package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"dealtracker/models"
)

// KeyKind tags how a listing's natural key was resolved.
type KeyKind string

const (
	BySourceID KeyKind = "source_id"
	ByURL      KeyKind = "url"
)

// Key is the stable identity used to recognize the same listing across
// scrape cycles: the source-assigned id when one exists, otherwise the
// normalized URL.
type Key struct {
	Kind  KeyKind
	Value string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.Value)
}

// Resolve picks the natural key for a candidate.
func Resolve(c *models.Candidate) Key {
	if c.SourceID != "" {
		return Key{Kind: BySourceID, Value: c.SourceID}
	}
	return Key{Kind: ByURL, Value: NormalizeURL(c.URL)}
}

// ListingKey returns the natural key of a stored listing, mirroring Resolve.
func ListingKey(l *models.Listing) Key {
	if l.SourceID != "" {
		return Key{Kind: BySourceID, Value: l.SourceID}
	}
	return Key{Kind: ByURL, Value: NormalizeURL(l.URL)}
}

// NormalizeURL strips scheme noise, query strings, fragments, and trailing
// slashes so cosmetic URL drift does not split one listing into two.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	path := strings.TrimRight(u.Path, "/")
	return host + path
}

// StableID derives a synthetic source id for retailer pages that have no
// listing id of their own.
func StableID(source, rawURL string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return fmt.Sprintf("%s:%s", source, hex.EncodeToString(sum[:8]))
}
