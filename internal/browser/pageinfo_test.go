package browser

import "testing"

const samplePage = `<!DOCTYPE html>
<html>
<head>
	<title>Acme Store</title>
	<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
	<h1>Welcome to Acme</h1>
	<form action="/search"><input type="text" name="q"></form>
	<a href="/products">Products</a>
	<a href="/contact">Contact</a>
	<button>Buy now</button>
	<img src="/a.jpg" alt="hero image">
	<img src="/b.jpg">
	<img src="/c.jpg" alt="">
</body>
</html>`

func TestParsePageInfo(t *testing.T) {
	info, err := ParsePageInfo(samplePage)
	if err != nil {
		t.Fatalf("ParsePageInfo: %v", err)
	}

	if info.Title != "Acme Store" {
		t.Errorf("Title = %q", info.Title)
	}
	if !info.HasViewport {
		t.Error("HasViewport = false")
	}
	if info.FormCount != 1 {
		t.Errorf("FormCount = %d", info.FormCount)
	}
	if info.LinkCount != 2 {
		t.Errorf("LinkCount = %d", info.LinkCount)
	}
	if info.ButtonCount != 1 {
		t.Errorf("ButtonCount = %d", info.ButtonCount)
	}
	if info.ImageCount != 3 {
		t.Errorf("ImageCount = %d", info.ImageCount)
	}
	if info.ImagesWithoutAlt != 2 {
		t.Errorf("ImagesWithoutAlt = %d", info.ImagesWithoutAlt)
	}
	if info.H1Text != "Welcome to Acme" {
		t.Errorf("H1Text = %q", info.H1Text)
	}
}

func TestParsePageInfoBarePage(t *testing.T) {
	info, err := ParsePageInfo("<html><body><p>hi</p></body></html>")
	if err != nil {
		t.Fatalf("ParsePageInfo: %v", err)
	}
	if info.HasViewport {
		t.Error("HasViewport = true for page without viewport meta")
	}
	if info.Title != "" || info.H1Text != "" {
		t.Errorf("Title = %q, H1Text = %q", info.Title, info.H1Text)
	}
	if info.FormCount+info.LinkCount+info.ButtonCount+info.ImageCount != 0 {
		t.Errorf("counts nonzero: %+v", info)
	}
}

func TestParsePageInfoTruncatesLongH1(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "very long "
	}
	info, err := ParsePageInfo("<html><body><h1>" + long + "</h1></body></html>")
	if err != nil {
		t.Fatalf("ParsePageInfo: %v", err)
	}
	if len(info.H1Text) > 100 {
		t.Errorf("H1Text length = %d, want <= 100", len(info.H1Text))
	}
}
