package strategy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// Detector recognises applicant-tracking platforms from a page
type Detector interface {
	Detect(url, html string) (string, bool)
}

// maxDeepPages bounds the job-list pages followed on a deep scrape
const maxDeepPages = 3

// StaticHTML fetches the raw page with colly and extracts text and links
// without running scripts
type StaticHTML struct {
	fetcher   *Fetcher
	extractor *Extractor
	detector  Detector
}

// NewStaticHTML creates the static-html strategy; detector may be nil
func NewStaticHTML(f *Fetcher, x *Extractor, d Detector) *StaticHTML {
	return &StaticHTML{fetcher: f, extractor: x, detector: d}
}

func (s *StaticHTML) Info() scrape.Info {
	return scrape.Info{
		Name:           NameStaticHTML,
		Priority:       10,
		DefaultTimeout: 15 * time.Second,
		Generic:        true,
	}
}

func (s *StaticHTML) IsApplicable(rawURL string, _ scrape.Options) bool {
	_, err := scrape.ExtractDomain(rawURL)
	return err == nil
}

func (s *StaticHTML) IsResultValid(r *scrape.Result) bool {
	return r != nil && strings.TrimSpace(r.Text) != ""
}

func (s *StaticHTML) Close() error { return nil }

func (s *StaticHTML) Scrape(ctx context.Context, rawURL string, opts scrape.Options, cfg scrape.StepConfig) (*scrape.Result, error) {
	var res *scrape.Result
	err := s.fetcher.Retry(ctx, rawURL, cfg.Retries, func() error {
		r, err := s.visit(ctx, rawURL, opts, cfg)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// visit runs one colly collection: the page itself, then on a deep scrape
// a few same-host job-list pages whose links are merged in
func (s *StaticHTML) visit(ctx context.Context, rawURL string, opts scrape.Options, cfg scrape.StepConfig) (*scrape.Result, error) {
	c := colly.NewCollector(
		colly.UserAgent(s.fetcher.UserAgent()),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(maxBodyBytes),
	)
	c.WithTransport(&contextTransport{ctx: ctx, wait: s.fetcher.Wait, base: baseTransport(s.fetcher.Client())})
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}

	var (
		res      *scrape.Result
		visitErr error
		rawHTML  string
		deep     []string
	)

	c.OnResponse(func(r *colly.Response) {
		if res == nil {
			rawHTML = string(r.Body)
		}
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		doc := goquery.NewDocumentFromNode(e.DOM.Get(0))
		title, text, links := s.extractor.Document(doc, e.Request.URL, opts.Language)

		if res != nil {
			res.Links = mergeLinks(res.Links, links)
			return
		}
		res = &scrape.Result{
			URL:       rawURL,
			Title:     title,
			Text:      text,
			Links:     links,
			Method:    NameStaticHTML,
			Language:  opts.Language,
			Timestamp: time.Now(),
		}
		if opts.ForceDeepScrape {
			deep = s.deepTargets(e.Request.URL, rawURL, links)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			visitErr = statusError(r.Request.URL.String(), r.StatusCode, r.Body)
			return
		}
		visitErr = err
	})

	if err := c.Visit(rawURL); err != nil {
		if visitErr != nil {
			return nil, visitErr
		}
		return nil, &scrape.NavigationError{URL: rawURL, Err: err}
	}
	if visitErr != nil {
		return nil, visitErr
	}

	for _, target := range deep {
		if ctx.Err() != nil {
			break
		}
		if err := c.Visit(target); err != nil {
			logrus.Debugf("Deep scrape of %s failed: %v", target, err)
		}
	}

	if res == nil || !res.HasContent() {
		if LooksBlocked([]byte(rawHTML)) {
			return nil, fmt.Errorf("%w: %s", scrape.ErrBlocked, rawURL)
		}
		return nil, nil
	}
	if len(res.Text) < 200 && LooksBlocked([]byte(rawHTML)) {
		return nil, fmt.Errorf("%w: %s", scrape.ErrBlocked, rawURL)
	}

	if s.detector != nil {
		if p, ok := s.detector.Detect(rawURL, rawHTML); ok {
			res.Platform = p
		}
	}
	return res, nil
}

// deepTargets picks same-host job-list links worth following
func (s *StaticHTML) deepTargets(page *url.URL, rawURL string, links []scrape.Link) []string {
	var out []string
	for _, l := range links {
		if len(out) >= maxDeepPages {
			break
		}
		u, err := url.Parse(l.URL)
		if err != nil || !strings.EqualFold(u.Hostname(), page.Hostname()) {
			continue
		}
		if l.URL == rawURL || l.URL == page.String() || !l.IsJobPosting {
			continue
		}
		out = append(out, l.URL)
	}
	return out
}

func mergeLinks(have, more []scrape.Link) []scrape.Link {
	seen := make(map[string]bool, len(have))
	for _, l := range have {
		seen[l.URL] = true
	}
	for _, l := range more {
		if !seen[l.URL] {
			seen[l.URL] = true
			have = append(have, l)
		}
	}
	return have
}

// contextTransport binds colly's requests to the step context and the
// per-host rate limit
type contextTransport struct {
	ctx  context.Context
	wait func(ctx context.Context, rawURL string) error
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.wait != nil {
		if err := t.wait(t.ctx, req.URL.String()); err != nil {
			return nil, err
		}
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func baseTransport(c *http.Client) http.RoundTripper {
	if c != nil && c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}
