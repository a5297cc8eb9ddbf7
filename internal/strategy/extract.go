package strategy

import (
	"encoding/json"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/alvmarrod/career-weaver/internal/dictionary"
	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// Extractor turns parsed documents into results. It holds no per-page
// state and is safe for concurrent use.
type Extractor struct {
	dict   *dictionary.Dictionary
	policy *bluemonday.Policy
}

// NewExtractor creates an extractor classifying links with dict
func NewExtractor(dict *dictionary.Dictionary) *Extractor {
	return &Extractor{dict: dict, policy: bluemonday.StrictPolicy()}
}

// noise is removed before reading page text
const noise = "script, style, noscript, template, svg, iframe, header nav, footer"

// Document extracts title, visible text and classified links from doc.
// The document is modified: noise elements are removed.
func (x *Extractor) Document(doc *goquery.Document, base *url.URL, lang string) (title, text string, links []scrape.Link) {
	title = collapse(doc.Find("title").First().Text())
	if title == "" {
		title = collapse(doc.Find("h1").First().Text())
	}
	links = x.Links(doc.Selection, base, lang)

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body.Find(noise).Remove()
	text = collapse(body.Text())
	return title, text, links
}

// Links collects every distinct http(s) anchor under sel
func (x *Extractor) Links(sel *goquery.Selection, base *url.URL, lang string) []scrape.Link {
	seen := make(map[string]bool)
	var out []scrape.Link

	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u := scrape.ResolveURL(base, href)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true

		label := collapse(a.Text())
		if label == "" {
			label = collapse(a.AttrOr("aria-label", a.AttrOr("title", "")))
		}
		out = append(out, x.Classify(u, label, lang))
	})
	return out
}

// Classify flags a link as a job posting from its URL and label
func (x *Extractor) Classify(u, label, lang string) scrape.Link {
	l := scrape.Link{URL: u, Text: label}
	if x.dict == nil {
		return l
	}

	byURL := x.dict.IsJobURL(u)
	byLabel := x.dict.HasJobTerm(label, lang)
	switch {
	case byURL && byLabel:
		l.IsJobPosting, l.Confidence = true, 0.9
	case byURL:
		l.IsJobPosting, l.Confidence = true, 0.6
	case byLabel:
		l.IsJobPosting, l.Confidence = true, 0.4
	}
	return l
}

// StripHTML reduces an HTML fragment, possibly entity-escaped, to text
func (x *Extractor) StripHTML(s string) string {
	s = html.UnescapeString(s)
	s = x.policy.Sanitize(s)
	return collapse(html.UnescapeString(s))
}

// jobPosting is the subset of schema.org/JobPosting we read
type jobPosting struct {
	Type           any               `json:"@type"`
	Title          string            `json:"title"`
	URL            string            `json:"url"`
	Description    string            `json:"description"`
	EmploymentType any               `json:"employmentType"`
	Location       json.RawMessage   `json:"jobLocation"`
	Category       string            `json:"occupationalCategory"`
	Graph          []json.RawMessage `json:"@graph"`
}

// JobPostings reads schema.org JobPosting objects from JSON-LD blocks
func (x *Extractor) JobPostings(doc *goquery.Document, base *url.URL) []scrape.Link {
	var out []scrape.Link
	seen := make(map[string]bool)

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		for _, p := range parseLD([]byte(s.Text())) {
			link := scrape.Link{
				URL:            scrape.ResolveURL(base, p.URL),
				Text:           collapse(p.Title),
				IsJobPosting:   true,
				Confidence:     1,
				Location:       locationName(p.Location),
				Department:     p.Category,
				EmploymentType: firstString(p.EmploymentType),
			}
			if link.URL == "" && base != nil {
				link.URL = base.String()
			}
			key := link.URL + "|" + link.Text
			if link.Text == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, link)
		}
	})
	return out
}

// parseLD flattens a JSON-LD payload (object, array or @graph) into the
// JobPosting objects it contains
func parseLD(data []byte) []jobPosting {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil
	}

	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil
		}
		var out []jobPosting
		for _, it := range items {
			out = append(out, parseLD(it)...)
		}
		return out
	}

	var p jobPosting
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}

	var out []jobPosting
	for _, g := range p.Graph {
		out = append(out, parseLD(g)...)
	}
	if isType(p.Type, "JobPosting") {
		out = append(out, p)
	}
	return out
}

func isType(t any, want string) bool {
	switch v := t.(type) {
	case string:
		return v == want
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok {
				return s
			}
		}
	}
	return ""
}

// locationName renders jobLocation, which may be a Place or a list of them
func locationName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	type place struct {
		Name    string `json:"name"`
		Address any    `json:"address"`
	}
	var places []place
	if err := json.Unmarshal(raw, &places); err != nil {
		var one place
		if err := json.Unmarshal(raw, &one); err != nil {
			return ""
		}
		places = []place{one}
	}

	var names []string
	for _, p := range places {
		if n := placeName(p.Name, p.Address); n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, "; ")
}

func placeName(name string, address any) string {
	if name != "" {
		return name
	}
	switch a := address.(type) {
	case string:
		return a
	case map[string]any:
		var parts []string
		for _, k := range []string{"addressLocality", "addressRegion", "addressCountry"} {
			switch v := a[k].(type) {
			case string:
				if v != "" {
					parts = append(parts, v)
				}
			case map[string]any:
				if n, ok := v["name"].(string); ok && n != "" {
					parts = append(parts, n)
				}
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// postingsText renders structured postings as one line each
func postingsText(heading string, links []scrape.Link) string {
	var b strings.Builder
	b.WriteString(heading)
	for _, l := range links {
		b.WriteString("\n")
		b.WriteString(l.Text)
		if l.Location != "" {
			b.WriteString(" - ")
			b.WriteString(l.Location)
		}
		if l.Department != "" {
			b.WriteString(" (")
			b.WriteString(l.Department)
			b.WriteString(")")
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
