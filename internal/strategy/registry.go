// Package strategy holds the concrete extraction strategies: raw HTML,
// structured data, applicant-tracking APIs and a headless browser.
package strategy

import (
	"fmt"

	"github.com/alvmarrod/career-weaver/internal/dictionary"
	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// Strategy names, as referenced by the platform catalog
const (
	NameStaticHTML     = "static-html"
	NameStructuredData = "structured-data"
	NameGreenhouseAPI  = "greenhouse-api"
	NameLeverAPI       = "lever-api"
	NameHeadless       = "headless-browser"
)

// Names lists every known strategy
func Names() []string {
	return []string{NameGreenhouseAPI, NameLeverAPI, NameStaticHTML, NameStructuredData, NameHeadless}
}

// Deps are the shared collaborators handed to strategies
type Deps struct {
	Fetcher       *Fetcher
	Dictionary    *dictionary.Dictionary
	Detector      Detector
	Browser       *Browser // nil disables headless-browser
	GreenhouseAPI string
	LeverAPI      string
}

// Build instantiates the named strategies; an empty list builds them all
func Build(names []string, deps Deps) ([]scrape.Strategy, error) {
	if deps.Fetcher == nil {
		deps.Fetcher = NewFetcher(nil, FetcherConfig{})
	}
	if len(names) == 0 {
		names = Names()
	}

	x := NewExtractor(deps.Dictionary)
	seen := make(map[string]bool)
	var out []scrape.Strategy

	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case NameStaticHTML:
			out = append(out, NewStaticHTML(deps.Fetcher, x, deps.Detector))
		case NameStructuredData:
			out = append(out, NewStructuredData(deps.Fetcher, x, deps.Detector))
		case NameGreenhouseAPI:
			out = append(out, NewGreenhouseAPI(deps.Fetcher, x, deps.GreenhouseAPI))
		case NameLeverAPI:
			out = append(out, NewLeverAPI(deps.Fetcher, x, deps.LeverAPI))
		case NameHeadless:
			if deps.Browser == nil {
				continue
			}
			out = append(out, NewHeadless(deps.Browser, x, deps.Dictionary))
		default:
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
	}
	return out, nil
}
