package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Item is one logical catalog entry, keyed by a brand-namespaced ID.
type Item struct {
	ID             string               `json:"id"`
	OriginalID     string               `json:"original_id,omitempty"`
	SourceURL      string               `json:"source_url"`
	Title          string               `json:"title"`
	Brand          string               `json:"brand"`
	Make           string               `json:"make"`
	Scale          string               `json:"scale"`
	Images         []ImageRef           `json:"images"`
	AdditionalInfo map[string]AttrValue `json:"additional_info"`
	CrawlVersion   int                  `json:"c_ver"`
	CrawledAt      time.Time            `json:"crawled_at"`
}

// ImageRef links a vendor image URL to its archived copy. StoredRef is assigned
// on first archival and never changes afterwards.
type ImageRef struct {
	OriginalURL string `json:"original_url"`
	StoredRef   string `json:"stored_ref"`
}

// AttrValue is a brand-specific attribute: either a string or a number.
type AttrValue struct {
	str   string
	num   float64
	isNum bool
}

// StringValue wraps s as an attribute value.
func StringValue(s string) AttrValue {
	return AttrValue{str: s}
}

// NumberValue wraps n as an attribute value.
func NumberValue(n float64) AttrValue {
	return AttrValue{num: n, isNum: true}
}

// IsNumber reports whether the value holds a number.
func (v AttrValue) IsNumber() bool {
	return v.isNum
}

// Number returns the numeric value, or zero for string values.
func (v AttrValue) Number() float64 {
	return v.num
}

// String renders the value as text.
func (v AttrValue) String() string {
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.str
}

// MarshalJSON encodes the value as a JSON string or number.
func (v AttrValue) MarshalJSON() ([]byte, error) {
	if v.isNum {
		return json.Marshal(v.num)
	}
	return json.Marshal(v.str)
}

// UnmarshalJSON accepts a JSON string or number. Anything else is rejected so the
// stored additional_info column keeps a flat shape.
func (v *AttrValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("attribute must be a string or number, got null")
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode attribute string: %w", err)
		}
		*v = StringValue(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("attribute must be a string or number: %w", err)
	}
	*v = NumberValue(n)
	return nil
}

// RunRequest is the input of one crawl run.
type RunRequest struct {
	JobID       string   `json:"job_id,omitempty"`
	Brand       string   `json:"brand"`
	Version     int      `json:"version"`
	MaxPages    int      `json:"max_pages,omitempty"`
	ProductURLs []string `json:"product_urls,omitempty"`
	CatalogURL  string   `json:"catalog_url,omitempty"`
	// Recrawl adds previously stored URLs of the brand whose crawl version is
	// below Version to the candidate set.
	Recrawl bool `json:"recrawl,omitempty"`
}

// RunResult summarizes a successful crawl run. Failed URLs are reported here and in
// the job log; they do not make the run fail.
type RunResult struct {
	JobID          string   `json:"job_id"`
	Brand          string   `json:"brand"`
	Version        int      `json:"version"`
	Count          int      `json:"count"`
	IDs            []string `json:"ids"`
	FailedURLs     []string `json:"failed_urls,omitempty"`
	ImagesArchived int      `json:"images_archived"`
	ImagesSkipped  int      `json:"images_skipped"`
}

// EnrichRequest is the input of one enrichment run.
type EnrichRequest struct {
	JobID   string `json:"job_id"`
	Version int    `json:"enrichment_version"`
	Limit   int    `json:"limit,omitempty"`
}

// EnrichCandidate is the projection of an item sent to the annotation service.
type EnrichCandidate struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Brand string `json:"brand"`
}

// Enrichment holds the annotation-owned fields written back to an item.
type Enrichment struct {
	ID          string
	ReleaseDate *time.Time
	Description string
	// Make is nil when the annotator could not name one; it is stored as NULL.
	Make  *string
	Model string
}

// Page is a fetched document.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Blob is a fetched binary with its declared metadata.
type Blob struct {
	URL           string
	ContentType   string
	ContentLength int64
	Body          []byte
}
