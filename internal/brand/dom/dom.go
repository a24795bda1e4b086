// Package dom holds goquery helpers shared by the brand parsers.
package dom

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Parse loads raw HTML into a goquery document.
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Text returns the whitespace-collapsed text of the selection.
func Text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// OwnText returns the collapsed text of the selection's direct text nodes,
// ignoring descendant elements.
func OwnText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
			b.WriteByte(' ')
		}
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

// Resolve resolves href against base. It returns "" for hrefs that cannot be
// parsed or that point at fragments and scripts.
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}

// LastSegment returns the last non-empty path segment of rawURL, used as a
// title fallback.
func LastSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	seg := path.Base(strings.TrimRight(p, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}

// LinkSet accumulates distinct URLs up to a cap, ignoring excluded ones.
type LinkSet struct {
	exclude map[string]struct{}
	max     int
	seen    map[string]struct{}
	links   []string
}

// NewLinkSet returns a LinkSet. max <= 0 means no cap.
func NewLinkSet(exclude map[string]struct{}, max int) *LinkSet {
	return &LinkSet{exclude: exclude, max: max, seen: make(map[string]struct{})}
}

// Add records u and reports whether the set can take more links.
func (l *LinkSet) Add(u string) bool {
	if l.Full() {
		return false
	}
	if u == "" {
		return true
	}
	if _, skip := l.exclude[u]; skip {
		return true
	}
	if _, dup := l.seen[u]; dup {
		return true
	}
	l.seen[u] = struct{}{}
	l.links = append(l.links, u)
	return !l.Full()
}

// Full reports whether the cap is reached.
func (l *LinkSet) Full() bool {
	return l.max > 0 && len(l.links) >= l.max
}

// Links returns the collected URLs in discovery order.
func (l *LinkSet) Links() []string {
	return l.links
}
