package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"

	"github.com/simulant-labs/simulant/internal/logging"
)

// Config controls the shared Chrome process.
type Config struct {
	Headless       bool   `yaml:"headless"`
	ExecPath       string `yaml:"exec_path"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
}

// DefaultConfig returns a headless desktop configuration.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}

// ChromeLauncher owns one Chrome allocator; every session is a fresh tab
// context on top of it.
type ChromeLauncher struct {
	cfg      Config
	allocCtx context.Context
	cancel   context.CancelFunc
	logger   logging.Logger
}

// NewChromeLauncher starts the allocator. Chrome itself is only spawned when
// the first session runs an action.
func NewChromeLauncher(cfg Config, logger logging.Logger) *ChromeLauncher {
	if logger == nil {
		logger = logging.NewStdoutLogger("browser")
	}
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromeLauncher{cfg: cfg, allocCtx: allocCtx, cancel: cancel, logger: logger}
}

// NewSession opens a fresh tab context and enables the event domains the
// session listens on.
func (l *ChromeLauncher) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(l.allocCtx)

	s := &chromeSession{
		ctx:    tabCtx,
		cancel: tabCancel,
		logger: l.logger,
	}
	s.listenConsole()

	actions := []chromedp.Action{network.Enable(), runtime.Enable()}
	if opts.Mobile {
		actions = append(actions, chromedp.Emulate(device.IPhoneX))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		tabCancel()
		return nil, fmt.Errorf("init session: %w", err)
	}
	return s, nil
}

// Close tears down the allocator and any remaining tabs.
func (l *ChromeLauncher) Close() error {
	l.cancel()
	return nil
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger logging.Logger

	mu        sync.Mutex
	consoleEr []string
}

// listenConsole records console errors and uncaught exceptions; they end up
// in the page metadata shown to the oracle.
func (s *chromeSession) listenConsole() {
	chromedp.ListenTarget(s.ctx, func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if e.Type != runtime.APITypeError {
				return
			}
			var parts []string
			for _, arg := range e.Args {
				if arg.Description != "" {
					parts = append(parts, arg.Description)
				} else if len(arg.Value) > 0 {
					parts = append(parts, string(arg.Value))
				}
			}
			s.addConsoleError(strings.Join(parts, " "))
		case *runtime.EventExceptionThrown:
			if e.ExceptionDetails != nil {
				s.addConsoleError(e.ExceptionDetails.Text)
			}
		}
	})
}

func (s *chromeSession) addConsoleError(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.consoleEr) < 50 {
		s.consoleEr = append(s.consoleEr, msg)
	}
}

func (s *chromeSession) ConsoleErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.consoleEr))
	copy(out, s.consoleEr)
	return out
}

// waitNetworkIdle signals once no network request has been in flight for
// idleAfter. Registration must happen before navigation starts.
func waitNetworkIdle(ctx context.Context, idleAfter time.Duration) chan struct{} {
	idleChan := make(chan struct{})
	var activeReqs int32
	var timer *time.Timer
	var timerMutex sync.Mutex
	var once sync.Once

	startTimer := func() {
		timerMutex.Lock()
		defer timerMutex.Unlock()

		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(idleAfter, func() {
			if atomic.LoadInt32(&activeReqs) == 0 {
				once.Do(func() { close(idleChan) })
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			atomic.AddInt32(&activeReqs, 1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&activeReqs, -1) <= 0 {
				startTimer()
			}
		}
	})

	// Pages that issue no requests after the document never fire loading
	// events; arm the timer up front so they still go idle.
	startTimer()

	return idleChan
}

func (s *chromeSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	idle := waitNetworkIdle(tctx, 2*time.Second)
	if err := chromedp.Run(tctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	select {
	case <-idle:
		return nil
	case <-tctx.Done():
		return fmt.Errorf("navigate %s: %w", url, tctx.Err())
	}
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(tctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	var html string
	if err := chromedp.Run(tctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	var loc string
	if err := chromedp.Run(tctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

func (s *chromeSession) Info(ctx context.Context) (*PageInfo, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, err
	}
	info, err := ParsePageInfo(html)
	if err != nil {
		return nil, fmt.Errorf("parse page info: %w", err)
	}

	if loc, err := s.Location(ctx); err == nil {
		info.URL = loc
	}

	tctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	var fontSize string
	if err := chromedp.Run(tctx,
		chromedp.Evaluate(`getComputedStyle(document.body).fontSize`, &fontSize),
	); err == nil {
		info.BodyFontSize = fontSize
	}

	info.ConsoleErrors = s.ConsoleErrors()
	return info, nil
}

func (s *chromeSession) ClickText(ctx context.Context, text string) error {
	expr := fmt.Sprintf(`(//*[text()[contains(normalize-space(.), %s)]])[1]`, xpathString(text))
	return s.click(ctx, expr)
}

func (s *chromeSession) ClickRole(ctx context.Context, role, name string) error {
	q := xpathString(name)
	var expr string
	switch role {
	case "button":
		expr = fmt.Sprintf(`(//button[contains(normalize-space(.), %[1]s)] | //input[(@type="submit" or @type="button") and contains(@value, %[1]s)] | //*[@role="button" and contains(normalize-space(.), %[1]s)])[1]`, q)
	case "link":
		expr = fmt.Sprintf(`(//a[contains(normalize-space(.), %[1]s)] | //*[@role="link" and contains(normalize-space(.), %[1]s)])[1]`, q)
	default:
		return fmt.Errorf("unsupported role %q", role)
	}
	return s.click(ctx, expr)
}

func (s *chromeSession) click(ctx context.Context, xpath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()

	if err := chromedp.Run(tctx, chromedp.Click(xpath, chromedp.BySearch)); err != nil {
		return fmt.Errorf("click %s: %w", xpath, err)
	}
	return nil
}

func (s *chromeSession) FillFirstInput(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	// Fill via the DOM rather than a selector wait so hidden inputs are
	// skipped and frameworks still see input/change events.
	script := fmt.Sprintf(`(function(text) {
		const els = Array.from(document.querySelectorAll('input:not([type=hidden]):not([type=checkbox]):not([type=radio]), textarea'));
		const el = els.find(e => e.offsetParent !== null);
		if (!el) return false;
		el.focus();
		el.value = text;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})(%q)`, text)

	var filled bool
	if err := chromedp.Run(tctx, chromedp.Evaluate(script, &filled)); err != nil {
		return fmt.Errorf("fill input: %w", err)
	}
	if !filled {
		return fmt.Errorf("fill input: no visible input found")
	}
	return nil
}

func (s *chromeSession) Scroll(ctx context.Context, deltaY int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	if err := chromedp.Run(tctx,
		chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, deltaY), nil),
	); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}

// xpathString quotes s as an XPath string literal. XPath 1.0 has no escape
// syntax, so strings containing both quote kinds fall back to concat().
func xpathString(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	var b strings.Builder
	b.WriteString("concat(")
	for i, part := range strings.Split(s, `"`) {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + part + `"`)
	}
	b.WriteString(")")
	return b.String()
}
