package strategy

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/dictionary"
	"github.com/alvmarrod/career-weaver/internal/scrape"
)

const (
	maxButtonsScanned = 60
	clickSettle       = 700 * time.Millisecond
	navRetryInterval  = time.Second
)

// Headless renders the page in Chrome: it accepts cookie banners, clicks
// "show more" controls and scrolls before extracting
type Headless struct {
	browser       *Browser
	extractor     *Extractor
	dict          *dictionary.Dictionary
	retryInterval time.Duration
}

// NewHeadless creates the headless-browser strategy. A nil browser makes
// it inapplicable everywhere.
func NewHeadless(b *Browser, x *Extractor, dict *dictionary.Dictionary) *Headless {
	return &Headless{browser: b, extractor: x, dict: dict, retryInterval: navRetryInterval}
}

func (h *Headless) Info() scrape.Info {
	return scrape.Info{
		Name:           NameHeadless,
		Priority:       50,
		DefaultTimeout: 30 * time.Second,
		Headless:       true,
		Generic:        true,
	}
}

func (h *Headless) IsApplicable(rawURL string, _ scrape.Options) bool {
	if h.browser == nil {
		return false
	}
	_, err := scrape.ExtractDomain(rawURL)
	return err == nil
}

func (h *Headless) IsResultValid(r *scrape.Result) bool {
	return r != nil && strings.TrimSpace(r.Text) != ""
}

// Close releases the shared browser
func (h *Headless) Close() error {
	if h.browser == nil {
		return nil
	}
	return h.browser.Close()
}

func (h *Headless) Scrape(ctx context.Context, rawURL string, opts scrape.Options, cfg scrape.StepConfig) (*scrape.Result, error) {
	if h.browser == nil {
		return nil, scrape.ErrNotApplicable
	}

	tab, err := h.browser.Page()
	if err != nil {
		return nil, &scrape.StepError{Step: NameHeadless, Kind: scrape.KindExecution, Err: err}
	}
	defer func() {
		if err := tab.Close(); err != nil {
			logrus.Debugf("Failed to close tab for %s: %v", rawURL, err)
		}
	}()
	page := tab.Context(ctx)

	err = navigate(ctx, rawURL, cfg.Retries, h.retryInterval, func() error {
		if err := page.Navigate(rawURL); err != nil {
			return err
		}
		return page.WaitLoad()
	})
	if err != nil {
		return nil, err
	}
	if err := sleepContext(ctx, cfg.JSWait); err != nil {
		return nil, err
	}

	lang := opts.Language
	if h.acceptCookies(page, lang) {
		_ = sleepContext(ctx, clickSettle)
	}

	clicks := h.expand(ctx, page, opts, cfg.MaxInteractions)
	passes := 2
	if opts.ForceDeepScrape {
		passes = 5
	}
	h.scroll(ctx, page, passes)

	content, err := page.HTML()
	if err != nil {
		return nil, &scrape.NavigationError{URL: rawURL, Err: err}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered page: %w", err)
	}

	base, _ := url.Parse(rawURL)
	if info, err := page.Info(); err == nil && info.URL != "" {
		if u, err := url.Parse(info.URL); err == nil {
			base = u
		}
	}

	postings := h.extractor.JobPostings(doc, base)
	title, text, links := h.extractor.Document(doc, base, lang)
	links = mergeLinks(postings, links)

	if text == "" && len(links) == 0 {
		return nil, nil
	}
	if len(text) < 200 && LooksBlocked([]byte(content)) {
		return nil, fmt.Errorf("%w: %s", scrape.ErrBlocked, rawURL)
	}

	logrus.Debugf("Rendered %s: %d clicks, %d links", rawURL, clicks, len(links))
	return &scrape.Result{
		URL:       rawURL,
		Title:     title,
		Text:      text,
		Links:     links,
		Language:  lang,
		Method:    NameHeadless,
		Timestamp: time.Now(),
	}, nil
}

// navigate loads the page, retrying failed loads up to retries times.
// Cancellation and deadline errors end the retries.
func navigate(ctx context.Context, rawURL string, retries int, interval time.Duration, load func() error) error {
	err := retry(ctx, rawURL, retries, interval, func() error {
		err := load()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &scrape.NavigationError{URL: rawURL, Err: err}
}

// acceptCookies dismisses a consent banner, first by known selectors then
// by button label
func (h *Headless) acceptCookies(page *rod.Page, lang string) bool {
	if h.dict == nil {
		return false
	}

	for _, sel := range h.dict.CookieSelectors() {
		els, err := page.Elements(sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if clickVisible(el) {
				return true
			}
		}
	}

	accept := h.dict.CookieAcceptTexts(lang)
	els, err := page.Elements("button, [role=button]")
	if err != nil {
		return false
	}
	for i, el := range els {
		if i >= maxButtonsScanned {
			break
		}
		label, err := el.Text()
		if err != nil {
			continue
		}
		label = strings.TrimSpace(dictionary.Normalize(label))
		for _, a := range accept {
			if label == dictionary.Normalize(a) && clickVisible(el) {
				return true
			}
		}
	}
	return false
}

// expand clicks "show more" controls until none is left or the
// interaction budget is spent
func (h *Headless) expand(ctx context.Context, page *rod.Page, opts scrape.Options, budget int) int {
	if h.dict == nil || budget <= 0 {
		return 0
	}

	clicks := 0
	for clicks < budget && ctx.Err() == nil {
		if !h.clickShowMore(page, opts) {
			break
		}
		clicks++
		if err := sleepContext(ctx, clickSettle); err != nil {
			break
		}
		if opts.Aggressive {
			h.scroll(ctx, page, 1)
		}
	}
	return clicks
}

func (h *Headless) clickShowMore(page *rod.Page, opts scrape.Options) bool {
	for _, sel := range h.dict.ShowMoreSelectors(opts.UseAlternativeSelectors) {
		els, err := page.Elements(sel)
		if err != nil {
			continue
		}
		for i, el := range els {
			if i >= maxButtonsScanned {
				break
			}
			label, err := el.Text()
			if err != nil || !h.dict.IsShowMoreText(opts.Language, label) {
				continue
			}
			if clickVisible(el) {
				return true
			}
		}
	}
	return false
}

func (h *Headless) scroll(ctx context.Context, page *rod.Page, passes int) {
	for i := 0; i < passes && ctx.Err() == nil; i++ {
		if err := page.Mouse.Scroll(0, 1500, 4); err != nil {
			return
		}
		if err := sleepContext(ctx, 300*time.Millisecond); err != nil {
			return
		}
	}
}

func clickVisible(el *rod.Element) bool {
	visible, err := el.Visible()
	if err != nil || !visible {
		return false
	}
	return el.Click(proto.InputMouseButtonLeft, 1) == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
