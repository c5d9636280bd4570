package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParsePageInfo extracts structured metadata from raw document markup.
// Fields that depend on a live rendering context (URL, body font size,
// console errors) are left for the session to fill in.
func ParsePageInfo(html string) (*PageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	info := &PageInfo{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		HasViewport: doc.Find(`meta[name="viewport"]`).Length() > 0,
		FormCount:   doc.Find("form").Length(),
		LinkCount:   doc.Find("a").Length(),
		ButtonCount: doc.Find("button").Length(),
		ImageCount:  doc.Find("img").Length(),
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if alt, ok := s.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			info.ImagesWithoutAlt++
		}
	})

	h1 := strings.TrimSpace(doc.Find("h1").First().Text())
	if len(h1) > 100 {
		h1 = h1[:100]
	}
	info.H1Text = h1

	return info, nil
}
