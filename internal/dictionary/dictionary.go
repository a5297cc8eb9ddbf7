// Package dictionary exposes read-only per-language lookup tables: job
// terminology, job URL patterns, cookie-consent selectors and the
// "show more" selectors with their text classifiers.
package dictionary

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed terms.yaml
var defaultTerms []byte

// Language holds the tables of one language
type Language struct {
	JobTerms          []string `yaml:"job_terms"`
	CookieAcceptTexts []string `yaml:"cookie_accept_texts"`
	ShowMorePositive  []string `yaml:"show_more_positive"`
	ShowMoreNegative  []string `yaml:"show_more_negative"`
}

type file struct {
	JobURLPatterns               []string             `yaml:"job_url_patterns"`
	CookieSelectors              []string             `yaml:"cookie_selectors"`
	ShowMoreSelectors            []string             `yaml:"show_more_selectors"`
	AlternativeShowMoreSelectors []string             `yaml:"alternative_show_more_selectors"`
	Languages                    map[string]*Language `yaml:"languages"`
}

// Dictionary is safe for concurrent use once built; it is never mutated
type Dictionary struct {
	raw         file
	urlPatterns []*regexp.Regexp
	termRegex   map[string]*regexp.Regexp // lang -> prefix matcher, "" = all languages
	languages   []string
}

// Default returns the embedded dictionary
func Default() (*Dictionary, error) {
	return Parse(defaultTerms)
}

// LoadFile parses a dictionary from a YAML file
func LoadFile(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary file: %w", err)
	}
	return Parse(data)
}

// Parse builds a dictionary from YAML
func Parse(data []byte) (*Dictionary, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary YAML: %w", err)
	}
	if len(f.Languages) == 0 {
		return nil, fmt.Errorf("dictionary defines no languages")
	}

	d := &Dictionary{
		raw:       f,
		termRegex: make(map[string]*regexp.Regexp),
	}

	for _, p := range f.JobURLPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid job url pattern %q: %w", p, err)
		}
		d.urlPatterns = append(d.urlPatterns, re)
	}

	var all []string
	for lang, l := range f.Languages {
		if l == nil {
			continue
		}
		d.languages = append(d.languages, lang)
		re, err := termMatcher(l.JobTerms)
		if err != nil {
			return nil, fmt.Errorf("language %s: %w", lang, err)
		}
		if re != nil {
			d.termRegex[lang] = re
		}
		all = append(all, l.JobTerms...)
	}
	sort.Strings(d.languages)

	re, err := termMatcher(all)
	if err != nil {
		return nil, err
	}
	d.termRegex[""] = re

	return d, nil
}

// termMatcher compiles terms into a single word-prefix regexp
func termMatcher(terms []string) (*regexp.Regexp, error) {
	seen := make(map[string]bool)
	var parts []string
	for _, t := range terms {
		n := Normalize(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		parts = append(parts, regexp.QuoteMeta(n))
	}
	if len(parts) == 0 {
		return nil, nil
	}
	// Longest first so alternation prefers "lavora con noi" over "lavoro"
	sort.Slice(parts, func(i, j int) bool { return len(parts[i]) > len(parts[j]) })
	return regexp.Compile(`\b(?:` + strings.Join(parts, "|") + `)`)
}

// Normalize lowercases and strips diacritics
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		result = s
	}
	return strings.ToLower(result)
}

// Languages returns the language codes known to the dictionary
func (d *Dictionary) Languages() []string {
	out := make([]string, len(d.languages))
	copy(out, d.languages)
	return out
}

func (d *Dictionary) language(lang string) *Language {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return d.raw.Languages[lang]
}

// JobTerms returns the job terminology for lang, or every language's terms
// when lang is empty or unknown
func (d *Dictionary) JobTerms(lang string) []string {
	if l := d.language(lang); l != nil {
		return append([]string(nil), l.JobTerms...)
	}
	var out []string
	for _, code := range d.languages {
		out = append(out, d.raw.Languages[code].JobTerms...)
	}
	return out
}

// CountJobTerms counts job-term hits in text
func (d *Dictionary) CountJobTerms(text, lang string) int {
	if text == "" {
		return 0
	}
	re := d.matcher(lang)
	if re == nil {
		return 0
	}
	return len(re.FindAllStringIndex(Normalize(text), -1))
}

// HasJobTerm reports whether text contains at least one job term
func (d *Dictionary) HasJobTerm(text, lang string) bool {
	if text == "" {
		return false
	}
	re := d.matcher(lang)
	return re != nil && re.MatchString(Normalize(text))
}

func (d *Dictionary) matcher(lang string) *regexp.Regexp {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if re, ok := d.termRegex[lang]; ok {
		return re
	}
	return d.termRegex[""]
}

// IsJobURL reports whether a URL looks like a job posting or job list
func (d *Dictionary) IsJobURL(u string) bool {
	for _, re := range d.urlPatterns {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

// CookieSelectors returns consent-button selectors
func (d *Dictionary) CookieSelectors() []string {
	return append([]string(nil), d.raw.CookieSelectors...)
}

// CookieAcceptTexts returns accept-button labels for lang plus English
func (d *Dictionary) CookieAcceptTexts(lang string) []string {
	var out []string
	if l := d.language(lang); l != nil {
		out = append(out, l.CookieAcceptTexts...)
	}
	if en := d.raw.Languages["en"]; en != nil && d.language(lang) != en {
		out = append(out, en.CookieAcceptTexts...)
	}
	return out
}

// ShowMoreSelectors returns pagination selectors; alternative adds broad
// selectors that rely on the text classifier to filter
func (d *Dictionary) ShowMoreSelectors(alternative bool) []string {
	out := append([]string(nil), d.raw.ShowMoreSelectors...)
	if alternative {
		out = append(out, d.raw.AlternativeShowMoreSelectors...)
	}
	return out
}

// IsShowMoreText classifies a button label as a "load more" control
func (d *Dictionary) IsShowMoreText(lang, text string) bool {
	n := strings.TrimSpace(Normalize(text))
	if n == "" || len(n) > 40 {
		return false
	}

	langs := []*Language{d.language(lang)}
	if en := d.raw.Languages["en"]; en != langs[0] {
		langs = append(langs, en)
	}

	for _, l := range langs {
		if l == nil {
			continue
		}
		for _, neg := range l.ShowMoreNegative {
			if strings.Contains(n, Normalize(neg)) {
				return false
			}
		}
	}
	for _, l := range langs {
		if l == nil {
			continue
		}
		for _, pos := range l.ShowMorePositive {
			if strings.Contains(n, Normalize(pos)) {
				return true
			}
		}
	}
	return false
}
