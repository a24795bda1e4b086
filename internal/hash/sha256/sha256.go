// Package sha256 derives content-addressed keys with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// DefaultExt is used when an image URL carries no recognizable extension.
const DefaultExt = ".jpg"

// Hasher derives digests and object keys with SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectKey returns "<prefix>/<hex(sha256(rawURL))><ext>" for an image URL.
// The same URL always maps to the same key.
func (h *Hasher) ObjectKey(prefix, rawURL string) string {
	digest, _ := h.Hash([]byte(rawURL))
	key := digest + Ext(rawURL)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Ext returns the lowercase file extension of the URL path, or DefaultExt.
func Ext(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "?#&=") {
		return DefaultExt
	}
	return ext
}
