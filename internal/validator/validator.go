// Package validator decides whether a strategy's output counts as a usable
// career-page result.
package validator

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/alvmarrod/career-weaver/internal/dictionary"
	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// DefaultMinContentLength is the text length a result must exceed
const DefaultMinContentLength = 100

// Verdict is the coarse classification of a result
type Verdict string

const (
	Valid   Verdict = "valid"
	Partial Verdict = "partial"
	Empty   Verdict = "empty"
)

var templatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{\{[^{}]*\}\}`),
	regexp.MustCompile(`\$\{[^{}]*\}`),
	regexp.MustCompile(`\{%[^%]*%\}`),
	regexp.MustCompile(`<%=?[^%]*%>`),
	regexp.MustCompile(`\[object Object\]`),
	regexp.MustCompile(`(?:\bundefined\b[\s,;:|-]*){2,}`),
}

// HasUnrenderedTemplates reports placeholder syntax left behind when a page
// rendered without its data
func HasUnrenderedTemplates(text string) bool {
	for _, re := range templatePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Validator is stateless apart from its dictionary and threshold
type Validator struct {
	dict      *dictionary.Dictionary
	minLength int
}

// New creates a validator; minLength <= 0 selects the default
func New(dict *dictionary.Dictionary, minLength int) *Validator {
	if minLength <= 0 {
		minLength = DefaultMinContentLength
	}
	return &Validator{dict: dict, minLength: minLength}
}

// MinContentLength returns the configured threshold
func (v *Validator) MinContentLength() int {
	return v.minLength
}

// IsValid applies, in order: template rejection, relaxed validation when a
// platform is known (from the argument or the result), strict validation
// otherwise.
//
// Strict validation accepts text longer than the threshold with any job
// signal or any link. It also accepts shorter text that carries both a job
// term and a job link, which is what a compact listing page looks like.
func (v *Validator) IsValid(r *scrape.Result, platform string) bool {
	if r == nil {
		return false
	}
	if HasUnrenderedTemplates(r.Text) || HasUnrenderedTemplates(r.Title) {
		return false
	}

	length := textLength(r.Text)
	if platform == "" {
		platform = r.Platform
	}
	if platform != "" {
		return length > v.minLength
	}

	jobTerms := v.CountJobTerms(r.Title+" "+r.Text, r.Language)
	jobLinks := v.CountJobLinks(r.Links, r.Language)

	if length > v.minLength {
		return jobTerms > 0 || jobLinks > 0 || len(r.Links) > 0
	}
	return length > 0 && jobTerms > 0 && jobLinks > 0
}

// Classify returns Empty for a result without content, Valid when IsValid
// holds and Partial otherwise
func (v *Validator) Classify(r *scrape.Result, platform string) Verdict {
	if !r.HasContent() {
		return Empty
	}
	if v.IsValid(r, platform) {
		return Valid
	}
	return Partial
}

// CountJobTerms counts dictionary job terms in text
func (v *Validator) CountJobTerms(text, lang string) int {
	if v.dict == nil {
		return 0
	}
	return v.dict.CountJobTerms(text, lang)
}

// CountJobLinks counts links that are flagged as postings, point at a job
// URL pattern, or carry a job term in their label
func (v *Validator) CountJobLinks(links []scrape.Link, lang string) int {
	n := 0
	for _, l := range links {
		if v.IsJobLink(l, lang) {
			n++
		}
	}
	return n
}

// IsJobLink classifies a single link
func (v *Validator) IsJobLink(l scrape.Link, lang string) bool {
	if l.IsJobPosting {
		return true
	}
	if v.dict == nil {
		return false
	}
	return v.dict.IsJobURL(l.URL) || v.dict.HasJobTerm(l.Text, lang)
}

// Stats are the content figures fed into domain profiles
type Stats struct {
	TextLength   int
	LinkCount    int
	JobTermCount int
	JobLinkCount int
	Quality      float64
}

// Measure computes Stats for a result; nil yields zero Stats
func (v *Validator) Measure(r *scrape.Result) Stats {
	if r == nil {
		return Stats{}
	}
	s := Stats{
		TextLength:   textLength(r.Text),
		LinkCount:    len(r.Links),
		JobTermCount: v.CountJobTerms(r.Title+" "+r.Text, r.Language),
		JobLinkCount: v.CountJobLinks(r.Links, r.Language),
	}
	s.Quality = quality(s)
	return s
}

// quality scores 0-100: up to 40 for text volume, 30 for job terms and 30
// for job links
func quality(s Stats) float64 {
	score := capAt(float64(s.TextLength)/25, 40)
	score += capAt(float64(s.JobTermCount)*5, 30)
	score += capAt(float64(s.JobLinkCount)*3, 30)
	return score
}

func capAt(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

func textLength(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
