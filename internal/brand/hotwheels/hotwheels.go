// Package hotwheels parses a Hot Wheels case-highlight site where each product
// page is a two-column detail table with fixed row positions.
package hotwheels

import (
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/diecast-crawler/internal/brand"
	"github.com/JakeFAU/diecast-crawler/internal/brand/dom"
	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

const (
	// Name is the brand key.
	Name = "hotwheels"
	// Tag prefixes every item id.
	Tag   = "HW"
	scale = "1:64"
)

// Row positions in the detail table. Row 8 carries nothing we keep.
const (
	rowYear = iota
	rowID
	rowHWNo
	rowType
	rowName
	rowColor
	rowSeriesName
	rowSeriesNo
	_
	rowCase
)

// Brand implements brand.Brand for Hot Wheels.
type Brand struct{}

// New returns the Hot Wheels brand.
func New() *Brand {
	return &Brand{}
}

// Name returns the brand key.
func (*Brand) Name() string { return Name }

// ExtractLinks reads the product link from the third cell of each table row.
func (*Brand) ExtractLinks(body []byte, catalogURL string, exclude map[string]struct{}, max int) ([]string, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, &catalog.ParseError{URL: catalogURL, Field: "document", Err: err}
	}
	links := dom.NewLinkSet(exclude, max)
	doc.Find("table tbody tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() < 3 {
			return true
		}
		href, ok := cells.Eq(2).Find("a").First().Attr("href")
		if !ok {
			return true
		}
		return links.Add(dom.Resolve(catalogURL, href))
	})
	return links.Links(), nil
}

// Parse extracts one product page. Missing rows yield empty fields; only the id
// row is required.
func (*Brand) Parse(body []byte, sourceURL string) (catalog.Item, []string, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return catalog.Item{}, nil, &catalog.ParseError{URL: sourceURL, Field: "document", Err: err}
	}

	rows := doc.Find(".table").First().Find("tbody tr")
	cell := func(i int) string {
		return dom.Text(rows.Eq(i).Find("td").Eq(1))
	}

	nativeID := cell(rowID)
	if nativeID == "" {
		return catalog.Item{}, nil, &catalog.ParseError{URL: sourceURL, Field: "id"}
	}

	title := cell(rowName)
	if title == "" {
		title = dom.LastSegment(sourceURL)
	}

	info := map[string]catalog.AttrValue{
		"source":      catalog.StringValue(sourceURL),
		"hw_no":       catalog.StringValue(cell(rowHWNo)),
		"type":        catalog.StringValue(cell(rowType)),
		"color":       catalog.StringValue(cell(rowColor)),
		"series_name": catalog.StringValue(cell(rowSeriesName)),
		"series_no":   catalog.StringValue(cell(rowSeriesNo)),
		"case":        catalog.StringValue(cell(rowCase)),
	}
	if year := cell(rowYear); year != "" {
		if n, err := strconv.Atoi(year); err == nil {
			info["year"] = catalog.NumberValue(float64(n))
		} else {
			info["year"] = catalog.StringValue(year)
		}
	}

	item := catalog.Item{
		ID:             brand.ItemID(Tag, nativeID),
		OriginalID:     nativeID,
		SourceURL:      sourceURL,
		Title:          title,
		Brand:          Name,
		Scale:          scale,
		AdditionalInfo: info,
	}

	images := dom.NewLinkSet(nil, 0)
	doc.Find(".gallery-img a").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			images.Add(dom.Resolve(sourceURL, href))
		}
	})

	return item, images.Links(), nil
}
