// Package minigt parses the MINI GT catalog: a listing grid of product tiles
// linking to single-product pages.
package minigt

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/diecast-crawler/internal/brand"
	"github.com/JakeFAU/diecast-crawler/internal/brand/dom"
	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

const (
	// Name is the brand key.
	Name = "minigt"
	// Tag prefixes every item id.
	Tag   = "MGT"
	scale = "1:64"

	labelID   = "Item No."
	labelMake = "Marque"
)

// Brand implements brand.Brand for MINI GT.
type Brand struct{}

// New returns the MINI GT brand.
func New() *Brand {
	return &Brand{}
}

// Name returns the brand key.
func (*Brand) Name() string { return Name }

// ExtractLinks collects product tile links from a listing page.
func (*Brand) ExtractLinks(body []byte, catalogURL string, exclude map[string]struct{}, max int) ([]string, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return nil, &catalog.ParseError{URL: catalogURL, Field: "document", Err: err}
	}
	links := dom.NewLinkSet(exclude, max)
	doc.Find(".product_box a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		return links.Add(dom.Resolve(catalogURL, href))
	})
	return links.Links(), nil
}

// Parse extracts one product page.
func (*Brand) Parse(body []byte, sourceURL string) (catalog.Item, []string, error) {
	doc, err := dom.Parse(body)
	if err != nil {
		return catalog.Item{}, nil, &catalog.ParseError{URL: sourceURL, Field: "document", Err: err}
	}

	item := catalog.Item{
		SourceURL:      sourceURL,
		Brand:          Name,
		Scale:          scale,
		AdditionalInfo: map[string]catalog.AttrValue{"source": catalog.StringValue(sourceURL)},
	}

	item.Title = dom.Text(doc.Find(".pro-name p").First())
	if item.Title == "" {
		item.Title = dom.LastSegment(sourceURL)
	}

	doc.Find(".info-list li").Each(func(_ int, li *goquery.Selection) {
		span := li.Find("span").First()
		if span.Length() == 0 {
			return
		}
		label := strings.TrimSpace(strings.TrimSuffix(dom.OwnText(li), ":"))
		value := dom.Text(span)
		switch label {
		case "":
		case labelID:
			item.OriginalID = value
		case labelMake:
			item.Make = value
		default:
			item.AdditionalInfo[label] = catalog.StringValue(value)
		}
	})
	if item.OriginalID == "" {
		return catalog.Item{}, nil, &catalog.ParseError{URL: sourceURL, Field: "id"}
	}
	item.ID = brand.ItemID(Tag, item.OriginalID)

	if desc := description(doc); desc != "" {
		item.AdditionalInfo["description"] = catalog.StringValue(desc)
	}

	return item, gallery(doc, sourceURL), nil
}

func description(doc *goquery.Document) string {
	if desc := dom.Text(doc.Find(".des .edit-box p").First()); desc != "" {
		return desc
	}
	var text string
	doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		text = dom.Text(p)
		return text == ""
	})
	return text
}

func gallery(doc *goquery.Document, sourceURL string) []string {
	links := dom.NewLinkSet(nil, 0)
	doc.Find(".pro_wrap-d .product_box img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok {
			links.Add(dom.Resolve(sourceURL, src))
		}
	})
	return links.Links()
}
