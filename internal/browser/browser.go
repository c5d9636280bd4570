// Package browser wraps the browser-automation backend behind small
// capability interfaces. The persona engine only ever talks to Session;
// the chromedp implementation lives in chromedp_session.go.
package browser

import (
	"context"
	"time"
)

// Launcher opens fresh browser sessions. Each persona worker gets its own
// session so workers never share page state.
type Launcher interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)

	// Close releases the shared browser process, if any.
	Close() error
}

// SessionOptions tune a single session.
type SessionOptions struct {
	// Mobile emulates a phone viewport and touch input.
	Mobile bool
}

// Session is one interactive page context. Every call may fail; callers are
// expected to degrade rather than abort.
type Session interface {
	// Navigate loads url and waits for the network to settle, bounded by
	// timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)

	// Info extracts structured page metadata from the current document.
	Info(ctx context.Context) (*PageInfo, error)

	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)

	// ClickText clicks the first element whose visible text contains text.
	ClickText(ctx context.Context, text string) error

	// ClickRole clicks the first button or link (role) whose accessible
	// name contains name.
	ClickRole(ctx context.Context, role, name string) error

	// FillFirstInput types text into the first visible text input.
	FillFirstInput(ctx context.Context, text string) error

	// Scroll scrolls the page vertically by deltaY pixels.
	Scroll(ctx context.Context, deltaY int) error

	// ConsoleErrors returns console error messages seen so far.
	ConsoleErrors() []string

	// Close tears the session down.
	Close() error
}

// PageInfo is the structured page metadata handed to the oracle alongside
// screenshots.
type PageInfo struct {
	Title            string   `json:"title"`
	URL              string   `json:"url"`
	HasViewport      bool     `json:"has_viewport"`
	FormCount        int      `json:"form_count"`
	LinkCount        int      `json:"link_count"`
	ButtonCount      int      `json:"button_count"`
	ImageCount       int      `json:"image_count"`
	ImagesWithoutAlt int      `json:"images_without_alt"`
	H1Text           string   `json:"h1_text"`
	BodyFontSize     string   `json:"body_font_size"`
	LoadTime         float64  `json:"load_time,omitempty"`
	ConsoleErrors    []string `json:"console_errors,omitempty"`
}
