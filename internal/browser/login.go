package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	usernameSelector = `input[type='text'], input[type='email']`
	passwordSelector = `input[type='password']`

	// DefaultFieldTimeout bounds the wait for the login form to appear.
	DefaultFieldTimeout = 10 * time.Second
	// DefaultHold is how long a logged-in session stays open without a release.
	DefaultHold = 30 * time.Minute
)

// ErrSessionActive is returned when a login starts while another session is
// still being held.
var ErrSessionActive = errors.New("browser: a login session is already open")

// LoginOptions configures a ChromeAutomator.
type LoginOptions struct {
	Headless     bool
	Hold         time.Duration
	FieldTimeout time.Duration
}

// ChromeAutomator logs in to sites by driving a Chrome instance, then keeps
// the session open until the operator releases it.
type ChromeAutomator struct {
	opts   LoginOptions
	logger *slog.Logger

	// newSession starts a browser and returns its context. Cancelling
	// the returned func closes the browser.
	newSession func(ctx context.Context) (context.Context, context.CancelFunc)
	fill       func(ctx context.Context, url, username, password string) error

	mu      sync.Mutex
	release chan struct{}
}

// NewChromeAutomator creates an automator. Zero option fields take defaults.
func NewChromeAutomator(opts LoginOptions) *ChromeAutomator {
	if opts.Hold <= 0 {
		opts.Hold = DefaultHold
	}
	if opts.FieldTimeout <= 0 {
		opts.FieldTimeout = DefaultFieldTimeout
	}
	a := &ChromeAutomator{
		opts:   opts,
		logger: slog.With("component", "browser.login"),
	}
	a.newSession = a.chromeSession
	a.fill = a.chromeFill
	return a
}

// Login opens url, fills the username and password fields, submits the
// form and blocks until Release is called, the hold expires or ctx is done.
// The browser is always closed before Login returns.
func (a *ChromeAutomator) Login(ctx context.Context, url, username, password string) error {
	release := make(chan struct{})
	a.mu.Lock()
	if a.release != nil {
		a.mu.Unlock()
		return ErrSessionActive
	}
	a.release = release
	a.mu.Unlock()

	sessCtx, closeBrowser := a.newSession(ctx)
	defer func() {
		closeBrowser()
		a.mu.Lock()
		a.release = nil
		a.mu.Unlock()
	}()

	if err := a.fill(sessCtx, url, username, password); err != nil {
		return fmt.Errorf("login to %s: %w", url, err)
	}
	a.logger.Info("logged in, holding session", "url", url, "hold", a.opts.Hold)

	timer := time.NewTimer(a.opts.Hold)
	defer timer.Stop()
	select {
	case <-release:
		a.logger.Info("session released", "url", url)
	case <-timer.C:
		a.logger.Info("session hold expired", "url", url)
	case <-sessCtx.Done():
		a.logger.Info("session ended", "url", url)
	}
	return nil
}

// Release ends the held session, if any. It reports whether one was open.
func (a *ChromeAutomator) Release() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.release == nil {
		return false
	}
	select {
	case <-a.release:
		return false
	default:
		close(a.release)
		return true
	}
}

// Active reports whether a session is open.
func (a *ChromeAutomator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.release != nil
}

func (a *ChromeAutomator) chromeSession(ctx context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.opts.Headless),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			a.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	return taskCtx, func() {
		cancelTask()
		cancelAlloc()
	}
}

func (a *ChromeAutomator) chromeFill(ctx context.Context, url, username, password string) error {
	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.opts.FieldTimeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(usernameSelector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("waiting for username field: %w", err)
	}

	return chromedp.Run(ctx,
		chromedp.SendKeys(usernameSelector, username, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, password, chromedp.ByQuery),
		chromedp.Submit(passwordSelector, chromedp.ByQuery),
	)
}
