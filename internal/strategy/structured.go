package strategy

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// StructuredData reads schema.org JobPosting JSON-LD from the page. When
// the page only embeds an applicant-tracking board in an iframe, the
// board is fetched and read instead.
type StructuredData struct {
	fetcher   *Fetcher
	extractor *Extractor
	detector  Detector
}

// NewStructuredData creates the structured-data strategy
func NewStructuredData(f *Fetcher, x *Extractor, d Detector) *StructuredData {
	return &StructuredData{fetcher: f, extractor: x, detector: d}
}

func (s *StructuredData) Info() scrape.Info {
	return scrape.Info{
		Name:           NameStructuredData,
		Priority:       20,
		DefaultTimeout: 15 * time.Second,
		Generic:        true,
	}
}

func (s *StructuredData) IsApplicable(rawURL string, _ scrape.Options) bool {
	_, err := scrape.ExtractDomain(rawURL)
	return err == nil
}

// IsResultValid requires at least one posting
func (s *StructuredData) IsResultValid(r *scrape.Result) bool {
	return r != nil && len(r.JobLinks()) > 0
}

func (s *StructuredData) Close() error { return nil }

func (s *StructuredData) Scrape(ctx context.Context, rawURL string, opts scrape.Options, cfg scrape.StepConfig) (*scrape.Result, error) {
	page, err := s.fetcher.Get(ctx, rawURL, cfg.Retries)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", rawURL, err)
	}

	title := collapse(doc.Find("title").First().Text())
	platform := s.detect(rawURL, page.Body)

	postings := s.extractor.JobPostings(doc, page.URL)
	if len(postings) == 0 {
		frame, framePlatform := s.boardFrame(doc, page)
		if frame == "" {
			return nil, nil
		}
		logrus.Debugf("Following embedded job board %s", frame)

		framePage, err := s.fetcher.Get(ctx, frame, cfg.Retries)
		if err != nil {
			return nil, fmt.Errorf("embedded board: %w", err)
		}
		frameDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(framePage.Body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", frame, err)
		}

		postings = s.extractor.JobPostings(frameDoc, framePage.URL)
		if len(postings) == 0 {
			postings = jobLinksOnly(s.extractor.Links(frameDoc.Selection, framePage.URL, opts.Language))
		}
		if framePlatform != "" {
			platform = framePlatform
		}
	}
	if len(postings) == 0 {
		return nil, nil
	}

	if title == "" {
		title = "Job openings"
	}
	return &scrape.Result{
		URL:       rawURL,
		Title:     title,
		Text:      postingsText(title, postings),
		Links:     postings,
		Platform:  platform,
		Language:  opts.Language,
		Method:    NameStructuredData,
		Timestamp: time.Now(),
	}, nil
}

func (s *StructuredData) detect(rawURL string, body []byte) string {
	if s.detector == nil {
		return ""
	}
	p, _ := s.detector.Detect(rawURL, string(body))
	return p
}

// boardFrame finds the first iframe whose source is a known job board
func (s *StructuredData) boardFrame(doc *goquery.Document, page *Page) (string, string) {
	if s.detector == nil {
		return "", ""
	}
	var src, platform string
	doc.Find("iframe[src]").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		u := scrape.ResolveURL(page.URL, f.AttrOr("src", ""))
		if u == "" {
			return true
		}
		if p, ok := s.detector.Detect(u, ""); ok {
			src, platform = u, p
			return false
		}
		return true
	})
	return src, platform
}

func jobLinksOnly(links []scrape.Link) []scrape.Link {
	var out []scrape.Link
	for _, l := range links {
		if l.IsJobPosting {
			out = append(out, l)
		}
	}
	return out
}
