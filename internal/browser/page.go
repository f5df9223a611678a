package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Response is one intercepted network response with its body and the headers
// the page sent, so drivers can replay authenticated REST calls outside the
// browser.
type Response struct {
	URL            string
	Status         int64
	Body           []byte
	RequestHeaders map[string]string
}

// Navigate loads the given URL in the session's page.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Fill sets the value of the element matched by sel by typing into it.
func (s *Session) Fill(ctx context.Context, sel, value string) error {
	if err := s.run(ctx,
		chromedp.WaitVisible(sel),
		chromedp.Clear(sel),
		chromedp.SendKeys(sel, value),
	); err != nil {
		return fmt.Errorf("fill %s: %w", sel, err)
	}
	return nil
}

// TypeSlowly types value into sel one key at a time with a small delay.
// Some login forms drop programmatic input that arrives too fast.
func (s *Session) TypeSlowly(ctx context.Context, sel, value string) error {
	if err := s.run(ctx, chromedp.WaitVisible(sel), chromedp.Clear(sel)); err != nil {
		return fmt.Errorf("type into %s: %w", sel, err)
	}
	for _, r := range value {
		if err := s.run(ctx, chromedp.SendKeys(sel, string(r))); err != nil {
			return fmt.Errorf("type into %s: %w", sel, err)
		}
		time.Sleep(75 * time.Millisecond)
	}
	return nil
}

// Click clicks the element matched by sel once it is visible.
func (s *Session) Click(ctx context.Context, sel string) error {
	if err := s.run(ctx, chromedp.WaitVisible(sel), chromedp.Click(sel)); err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// WaitAnyVisible polls until one of the selectors matches an element and
// returns the selector that won. Login flows use it to race "signed in"
// against "signed out" markers.
func (s *Session) WaitAnyVisible(ctx context.Context, sels ...string) (string, error) {
	for {
		for _, sel := range sels {
			var found bool
			expr := fmt.Sprintf("document.querySelector(%q) !== null", sel)
			if err := s.Evaluate(ctx, expr, &found); err != nil {
				return "", err
			}
			if found {
				return sel, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for any of %v: %w", sels, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Evaluate runs a JavaScript expression in the page and unmarshals the
// result into out.
func (s *Session) Evaluate(ctx context.Context, expression string, out interface{}) error {
	if err := s.run(ctx, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// WaitResponse blocks until the page receives a response whose request used
// method and whose URL satisfies match, then returns it with its body.
// The wait is cancelled by ctx; the caller must bound it.
func (s *Session) WaitResponse(ctx context.Context, method string, match func(url string) bool) (*Response, error) {
	return s.WatchResponse(ctx, method, match)()
}

// WatchResponse attaches the response listener immediately and returns a
// function that blocks until a matching response arrives. Use it when the
// action that triggers the response must run after the listener is in place,
// such as a form submit.
func (s *Session) WatchResponse(ctx context.Context, method string, match func(url string) bool) func() (*Response, error) {
	type pendingRequest struct {
		url     string
		status  int64
		headers map[string]string
	}

	var mu sync.Mutex
	pending := make(map[network.RequestID]*pendingRequest)
	done := make(chan *Response, 1)

	listenCtx, cancel := context.WithCancel(s.browserCtx)

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if !strings.EqualFold(e.Request.Method, method) || !match(e.Request.URL) {
				return
			}
			headers := make(map[string]string, len(e.Request.Headers))
			for k, v := range e.Request.Headers {
				if str, ok := v.(string); ok {
					headers[k] = str
				}
			}
			mu.Lock()
			pending[e.RequestID] = &pendingRequest{url: e.Request.URL, headers: headers}
			mu.Unlock()
		case *network.EventResponseReceived:
			mu.Lock()
			if req, ok := pending[e.RequestID]; ok {
				req.status = e.Response.Status
			}
			mu.Unlock()
		case *network.EventLoadingFinished:
			mu.Lock()
			req, ok := pending[e.RequestID]
			mu.Unlock()
			if !ok {
				return
			}
			// Body retrieval must not run inside the event handler; it
			// issues its own CDP call.
			go func(id network.RequestID, req pendingRequest) {
				var body []byte
				err := chromedp.Run(s.browserCtx, chromedp.ActionFunc(func(cctx context.Context) error {
					var err error
					body, err = network.GetResponseBody(id).Do(cctx)
					return err
				}))
				if err != nil {
					body = nil
				}
				select {
				case done <- &Response{URL: req.url, Status: req.status, Body: body, RequestHeaders: req.headers}:
				default:
				}
			}(e.RequestID, *req)
		}
	})

	return func() (*Response, error) {
		defer cancel()
		select {
		case resp := <-done:
			return resp, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for response: %w", ctx.Err())
		}
	}
}

// Location returns the page's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("get location: %w", err)
	}
	return url, nil
}

// WaitLocation polls until the page URL satisfies match and returns it.
// Single-page apps route by rewriting the fragment without a navigation
// event, so this watches the URL rather than the load lifecycle.
func (s *Session) WaitLocation(ctx context.Context, match func(url string) bool) (string, error) {
	for {
		url, err := s.Location(ctx)
		if err != nil {
			return "", err
		}
		if match(url) {
			return url, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for location: %w", ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Cookies returns all cookies in the browser's store.
func (s *Session) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(cctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return cookies, nil
}

// Cookie returns the value of the named cookie or ErrCookieNotFound.
func (s *Session) Cookie(ctx context.Context, name string) (string, error) {
	cookies, err := s.Cookies(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range cookies {
		if c.Name == name {
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("cookie %q: %w", name, ErrCookieNotFound)
}

// CookieHeader renders the browser's cookies as a Cookie request header for
// REST calls made outside the browser with the same session.
func (s *Session) CookieHeader(ctx context.Context) (string, error) {
	cookies, err := s.Cookies(ctx)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}
	return strings.Join(parts, "; "), nil
}

// run executes chromedp actions against the session's browser, honoring the
// caller's ctx for cancellation.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := s.browserCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}
