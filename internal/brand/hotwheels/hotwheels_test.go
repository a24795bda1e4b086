package hotwheels

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

const productHTML = `<html><body>
<table class="table"><tbody>
<tr><td>Year</td><td>2024</td></tr>
<tr><td>Toy #</td><td>HKG42</td></tr>
<tr><td>HW #</td><td>121/250</td></tr>
<tr><td>Type</td><td>Mainline</td></tr>
<tr><td>Name</td><td> '71 Datsun 510 </td></tr>
<tr><td>Color</td><td>Blue</td></tr>
<tr><td>Series</td><td>HW J-Imports</td></tr>
<tr><td>Series #</td><td>3/10</td></tr>
<tr><td>Notes</td><td>ignored</td></tr>
<tr><td>Case</td><td>C</td></tr>
</tbody></table>
<div class="gallery-img"><a href="/images/hkg42-front.jpg"><img src="/thumb.jpg"></a></div>
<div class="gallery-img"><a href="https://cdn.example/hkg42-back.jpg"><img></a></div>
</body></html>`

func TestParseProduct(t *testing.T) {
	t.Parallel()

	item, images, err := New().Parse([]byte(productHTML), "https://164custom.example/hkg42.html")
	require.NoError(t, err)

	require.Equal(t, "HW_HKG42", item.ID)
	require.Equal(t, "HKG42", item.OriginalID)
	require.Equal(t, "hotwheels", item.Brand)
	require.Equal(t, "'71 Datsun 510", item.Title)
	require.Empty(t, item.Make)
	require.Equal(t, "1:64", item.Scale)

	info := item.AdditionalInfo
	require.True(t, info["year"].IsNumber())
	require.Equal(t, float64(2024), info["year"].Number())
	require.Equal(t, "121/250", info["hw_no"].String())
	require.Equal(t, "Mainline", info["type"].String())
	require.Equal(t, "Blue", info["color"].String())
	require.Equal(t, "HW J-Imports", info["series_name"].String())
	require.Equal(t, "3/10", info["series_no"].String())
	require.Equal(t, "C", info["case"].String())
	require.Equal(t, "https://164custom.example/hkg42.html", info["source"].String())

	require.Equal(t, []string{
		"https://164custom.example/images/hkg42-front.jpg",
		"https://cdn.example/hkg42-back.jpg",
	}, images)
}

func TestParseMissingRowsYieldEmptyStrings(t *testing.T) {
	t.Parallel()

	html := `<table class="table"><tbody>
<tr><td>Year</td><td>twenty</td></tr>
<tr><td>Toy #</td><td>ZZ1</td></tr>
</tbody></table>`
	item, images, err := New().Parse([]byte(html), "https://164custom.example/zz1.html")
	require.NoError(t, err)
	require.Equal(t, "HW_ZZ1", item.ID)
	require.Equal(t, "zz1.html", item.Title)
	require.Equal(t, "", item.AdditionalInfo["case"].String())
	require.Equal(t, "", item.AdditionalInfo["color"].String())
	require.False(t, item.AdditionalInfo["year"].IsNumber())
	require.Equal(t, "twenty", item.AdditionalInfo["year"].String())
	require.Empty(t, images)
}

func TestParseMissingIDIsParseError(t *testing.T) {
	t.Parallel()

	html := strings.Replace(productHTML, "<td>HKG42</td>", "<td></td>", 1)
	_, _, err := New().Parse([]byte(html), "https://164custom.example/hkg42.html")
	require.ErrorIs(t, err, catalog.ErrParse)
}

const listingHTML = `<table><tbody>
<tr><th>Year</th><th>#</th><th>Name</th></tr>
<tr><td>2024</td><td>1</td><td><a href="hkg42.html">'71 Datsun</a></td></tr>
<tr><td>2024</td><td>2</td><td><a href="/hkg43.html">Supra</a></td></tr>
<tr><td>2024</td><td>3</td><td>No link</td></tr>
<tr><td>2024</td></tr>
<tr><td>2024</td><td>4</td><td><a href="https://164custom.example/hkg44.html">Civic</a></td></tr>
</tbody></table>`

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	links, err := New().ExtractLinks([]byte(listingHTML), "https://164custom.example/case-c.html", nil, 0)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://164custom.example/hkg42.html",
		"https://164custom.example/hkg43.html",
		"https://164custom.example/hkg44.html",
	}, links)

	exclude := map[string]struct{}{"https://164custom.example/hkg42.html": {}}
	links, err = New().ExtractLinks([]byte(listingHTML), "https://164custom.example/case-c.html", exclude, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://164custom.example/hkg43.html"}, links)
}
