// Package demoserver serves a small site with deliberately planted defects
// so persona agents have something to find: missing alt text, unlabeled
// form fields, tiny fonts, broken links, a slow page and a console error.
package demoserver

import (
	"fmt"
	"net/http"
	"time"
)

// Config holds demo server settings.
type Config struct {
	Port int

	// SlowPageDelay is how long /slow stalls before responding.
	SlowPageDelay time.Duration
}

// DefaultConfig returns the default demo server configuration.
func DefaultConfig() Config {
	return Config{
		Port:          9999,
		SlowPageDelay: 4 * time.Second,
	}
}

// DemoServer is a simple HTTP server with planted defects for agent demos.
type DemoServer struct {
	cfg Config
}

// NewDemoServer creates a new demo server instance.
func NewDemoServer(cfg Config) *DemoServer {
	return &DemoServer{cfg: cfg}
}

// Handler returns the demo site's HTTP handler. Exposed so tests can serve
// it from an httptest.Server.
func (s *DemoServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.homeHandler)
	mux.HandleFunc("/products", s.productsHandler)
	mux.HandleFunc("/contact", s.contactHandler)
	mux.HandleFunc("/about", s.aboutHandler)
	mux.HandleFunc("/slow", s.slowHandler)
	return mux
}

// Start starts the demo server.
func (s *DemoServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Demo server starting on http://localhost%s\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *DemoServer) homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	// No viewport meta tag, and one of the links 404s.
	writeHTML(w, `<!DOCTYPE html>
<html>
<head>
	<title>Acme Store</title>
</head>
<body>
	<h1>Welcome to Acme Store</h1>
	<p>The best place to buy things that may or may not exist.</p>
	<nav>
		<a href="/products">Products</a>
		<a href="/contact">Contact</a>
		<a href="/about">About</a>
		<a href="/deals">Deals</a>
		<a href="/slow">Flash Sale</a>
	</nav>
	<img src="/static/hero.jpg" width="600" height="300">
	<script>
		// Planted: references an undefined symbol on load.
		analytics.track("page_view");
	</script>
</body>
</html>`)
}

func (s *DemoServer) productsHandler(w http.ResponseWriter, r *http.Request) {
	// Planted: images without alt text and an unreadably small price font.
	writeHTML(w, `<!DOCTYPE html>
<html>
<head>
	<title>Products - Acme Store</title>
	<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
	<h1>Products</h1>
	<div class="grid">
		<div class="card">
			<img src="/static/widget.jpg">
			<h2>Widget</h2>
			<span style="font-size: 8px;">$19.99</span>
			<button>Add to cart</button>
		</div>
		<div class="card">
			<img src="/static/gadget.jpg">
			<h2>Gadget</h2>
			<span style="font-size: 8px;">$34.99</span>
			<button>Add to cart</button>
		</div>
	</div>
	<a href="/">Back home</a>
</body>
</html>`)
}

func (s *DemoServer) contactHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		// Planted: submissions always fail.
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	// Planted: inputs with no label elements or placeholders.
	writeHTML(w, `<!DOCTYPE html>
<html>
<head>
	<title>Contact - Acme Store</title>
	<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
	<h1>Contact Us</h1>
	<form method="POST" action="/contact">
		<input type="text" name="name">
		<input type="email" name="email">
		<textarea name="message"></textarea>
		<button type="submit">Send</button>
	</form>
	<a href="/">Back home</a>
</body>
</html>`)
}

func (s *DemoServer) aboutHandler(w http.ResponseWriter, r *http.Request) {
	// Planted: low-contrast text and a dead external-looking link.
	writeHTML(w, `<!DOCTYPE html>
<html>
<head>
	<title>About - Acme Store</title>
	<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
	<h1>About Acme</h1>
	<p style="color: #cccccc; background: #ffffff;">
		Founded in 2024, Acme Store sells widgets and gadgets to discerning
		customers everywhere.
	</p>
	<a href="/team">Meet the team</a>
	<a href="/">Back home</a>
</body>
</html>`)
}

func (s *DemoServer) slowHandler(w http.ResponseWriter, r *http.Request) {
	time.Sleep(s.cfg.SlowPageDelay)
	writeHTML(w, `<!DOCTYPE html>
<html>
<head>
	<title>Flash Sale - Acme Store</title>
	<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
	<h1>Flash Sale</h1>
	<p>Everything 50% off. Worth the wait?</p>
	<a href="/">Back home</a>
</body>
</html>`)
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}
