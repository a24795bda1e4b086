// Package brand dispatches catalog link extraction and product page parsing to
// vendor-specific implementations.
package brand

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

// Brand is one vendor site. Both methods are pure over an already-fetched document.
type Brand interface {
	// Name is the brand key used in run requests and stored rows.
	Name() string
	// ExtractLinks returns up to max distinct product URLs found in a catalog
	// document, skipping URLs in exclude. max <= 0 means no cap.
	ExtractLinks(doc []byte, catalogURL string, exclude map[string]struct{}, max int) ([]string, error)
	// Parse turns a product page into an item and the absolute URLs of its images.
	Parse(doc []byte, sourceURL string) (catalog.Item, []string, error)
}

// Registry is the closed set of brands the crawler knows.
type Registry struct {
	brands map[string]Brand
}

// NewRegistry registers the given brands by name. Later duplicates replace
// earlier ones.
func NewRegistry(brands ...Brand) *Registry {
	r := &Registry{brands: make(map[string]Brand, len(brands))}
	for _, b := range brands {
		if b == nil {
			continue
		}
		r.brands[b.Name()] = b
	}
	return r
}

// Lookup returns the brand registered under name.
func (r *Registry) Lookup(name string) (Brand, error) {
	if name == "" {
		return nil, catalog.Validationf("no brand specified, you need to input a brand name")
	}
	b, ok := r.brands[name]
	if !ok {
		return nil, catalog.Validationf("brand %q does not exist, use one of: %s", name, strings.Join(r.Names(), ", "))
	}
	return b, nil
}

// Names lists registered brand names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.brands))
	for name := range r.brands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ItemID builds the brand-namespaced logical id "<TAG>_<nativeID>".
func ItemID(tag, nativeID string) string {
	return fmt.Sprintf("%s_%s", tag, nativeID)
}
