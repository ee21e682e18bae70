package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HTTPDriver drives plain HTML pages over HTTP. Links are followed by
// navigating to their href; buttons inside forms submit the form with the
// values typed so far.
type HTTPDriver struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger

	mu      sync.Mutex
	current *url.URL
	doc     *goquery.Document
	form    url.Values
	offset  int
}

// NewHTTPDriver creates an HTTP driver with a cookie jar.
func NewHTTPDriver(cfg Config, logger *slog.Logger) *HTTPDriver {
	jar, _ := cookiejar.New(nil)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "taskpilot/1.0"
	}
	return &HTTPDriver{
		client:    &http.Client{Jar: jar, Timeout: timeout},
		userAgent: ua,
		logger:    logger,
		form:      url.Values{},
	}
}

func (d *HTTPDriver) Navigate(ctx context.Context, rawURL string) error {
	target, err := d.resolve(rawURL)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return d.load(req)
}

func (d *HTTPDriver) CurrentURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return ""
	}
	return d.current.String()
}

func (d *HTTPDriver) Click(ctx context.Context, selector string) error {
	d.mu.Lock()
	doc := d.doc
	d.mu.Unlock()
	if doc == nil {
		return ErrNoPage
	}

	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	if href, ok := sel.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "#") {
		return d.Navigate(ctx, href)
	}

	form := sel.Closest("form")
	action, hasAction := sel.Attr("formaction")
	if !hasAction && form.Length() > 0 {
		action, hasAction = form.Attr("action")
	}
	if !hasAction {
		if da, ok := sel.Attr("data-action"); ok {
			action, hasAction = da, true
		}
	}
	if !hasAction {
		return fmt.Errorf("%w: %s", ErrNotClickable, selector)
	}

	values := url.Values{}
	form.Find("input[type=hidden]").Each(func(_ int, s *goquery.Selection) {
		if name, ok := s.Attr("name"); ok {
			values.Set(name, s.AttrOr("value", ""))
		}
	})
	d.mu.Lock()
	for k, v := range d.form {
		values[k] = append([]string(nil), v...)
	}
	d.mu.Unlock()
	if name, ok := sel.Attr("name"); ok {
		values.Set(name, sel.AttrOr("value", ""))
	}

	target, err := d.resolve(action)
	if err != nil {
		return err
	}
	method := strings.ToUpper(form.AttrOr("method", http.MethodPost))
	var req *http.Request
	if method == http.MethodGet {
		target.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return d.load(req)
}

// TypeText records text for the named input matched by selector. The value is
// submitted with the next form click.
func (d *HTTPDriver) TypeText(ctx context.Context, selector, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return ErrNoPage
	}
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	name := sel.AttrOr("name", sel.AttrOr("id", selector))
	d.form.Set(name, text)
	return nil
}

func (d *HTTPDriver) PageText(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return "", ErrNoPage
	}
	body := d.doc.Find("body")
	if body.Length() == 0 {
		body = d.doc.Selection
	}
	return strings.Join(strings.Fields(body.Text()), " "), nil
}

func (d *HTTPDriver) FindElements(ctx context.Context, selector string) ([]Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil, ErrNoPage
	}
	var out []Element
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		el := Element{
			Tag:   goquery.NodeName(s),
			Text:  strings.TrimSpace(s.Text()),
			Attrs: map[string]string{},
		}
		for _, attr := range s.Nodes[0].Attr {
			el.Attrs[attr.Key] = attr.Val
		}
		if href, ok := el.Attrs["href"]; ok && d.current != nil {
			if u, err := d.current.Parse(href); err == nil {
				el.Attrs["href"] = u.String()
			}
		}
		out = append(out, el)
	})
	return out, nil
}

// Scroll only tracks the offset; static HTML has nothing to lazy-load.
func (d *HTTPDriver) Scroll(ctx context.Context, pixels int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return ErrNoPage
	}
	d.offset += pixels
	if d.offset < 0 {
		d.offset = 0
	}
	return nil
}

func (d *HTTPDriver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *HTTPDriver) resolve(raw string) (*url.URL, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if d.current != nil {
		u = d.current.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", raw)
	}
	return u, nil
}

func (d *HTTPDriver) load(req *http.Request) error {
	req.Header.Set("User-Agent", d.userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("request %s: status %d", req.URL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", req.URL, err)
	}

	d.mu.Lock()
	d.current = resp.Request.URL
	d.doc = doc
	d.form = url.Values{}
	d.offset = 0
	d.mu.Unlock()

	d.logger.Debug("page loaded", "url", resp.Request.URL.String(), "status", resp.StatusCode)
	return nil
}
