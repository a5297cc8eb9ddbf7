package strategy

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// Public job-board APIs
const (
	DefaultGreenhouseAPI = "https://boards-api.greenhouse.io"
	DefaultLeverAPI      = "https://api.lever.co"
)

// GreenhouseAPI lists a Greenhouse board through its public JSON API
type GreenhouseAPI struct {
	fetcher   *Fetcher
	extractor *Extractor
	baseURL   string
}

// NewGreenhouseAPI creates the greenhouse-api strategy; an empty baseURL
// uses the public endpoint
func NewGreenhouseAPI(f *Fetcher, x *Extractor, baseURL string) *GreenhouseAPI {
	if baseURL == "" {
		baseURL = DefaultGreenhouseAPI
	}
	return &GreenhouseAPI{fetcher: f, extractor: x, baseURL: strings.TrimRight(baseURL, "/")}
}

func (g *GreenhouseAPI) Info() scrape.Info {
	return scrape.Info{Name: NameGreenhouseAPI, Priority: 5, DefaultTimeout: 10 * time.Second}
}

func (g *GreenhouseAPI) IsApplicable(rawURL string, _ scrape.Options) bool {
	return greenhouseToken(rawURL) != ""
}

func (g *GreenhouseAPI) IsResultValid(r *scrape.Result) bool {
	return r != nil && len(r.Links) > 0
}

func (g *GreenhouseAPI) Close() error { return nil }

type greenhouseJobs struct {
	Jobs []struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		AbsoluteURL string `json:"absolute_url"`
		Content     string `json:"content"`
		Location    struct {
			Name string `json:"name"`
		} `json:"location"`
		Departments []struct {
			Name string `json:"name"`
		} `json:"departments"`
	} `json:"jobs"`
}

func (g *GreenhouseAPI) Scrape(ctx context.Context, rawURL string, opts scrape.Options, cfg scrape.StepConfig) (*scrape.Result, error) {
	token := greenhouseToken(rawURL)
	if token == "" {
		return nil, scrape.ErrNotApplicable
	}

	api := fmt.Sprintf("%s/v1/boards/%s/jobs?content=true", g.baseURL, url.PathEscape(token))
	var body greenhouseJobs
	if err := g.fetcher.GetJSON(ctx, api, cfg.Retries, &body); err != nil {
		return nil, err
	}
	if len(body.Jobs) == 0 {
		return nil, nil
	}

	links := make([]scrape.Link, 0, len(body.Jobs))
	var details []string
	for _, j := range body.Jobs {
		l := scrape.Link{
			URL:          j.AbsoluteURL,
			Text:         collapse(j.Title),
			IsJobPosting: true,
			Confidence:   1,
			Location:     j.Location.Name,
		}
		if len(j.Departments) > 0 {
			l.Department = j.Departments[0].Name
		}
		links = append(links, l)
		if opts.ForceDeepScrape && j.Content != "" {
			details = append(details, l.Text+": "+g.extractor.StripHTML(j.Content))
		}
	}

	title := fmt.Sprintf("Jobs at %s", token)
	text := postingsText(title, links)
	if len(details) > 0 {
		text += "\n\n" + strings.Join(details, "\n\n")
	}
	return &scrape.Result{
		URL:       rawURL,
		Title:     title,
		Text:      text,
		Links:     links,
		Platform:  "greenhouse",
		Language:  opts.Language,
		Method:    NameGreenhouseAPI,
		Timestamp: time.Now(),
	}, nil
}

// greenhouseToken extracts the board token from a Greenhouse board or
// embed URL
func greenhouseToken(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host != "greenhouse.io" && !strings.HasSuffix(host, ".greenhouse.io") {
		return ""
	}
	if t := u.Query().Get("for"); t != "" {
		return t
	}
	seg := firstSegment(u.Path)
	if seg == "embed" {
		return ""
	}
	return seg
}

// LeverAPI lists a Lever site through the public postings API
type LeverAPI struct {
	fetcher   *Fetcher
	extractor *Extractor
	baseURL   string
}

// NewLeverAPI creates the lever-api strategy; an empty baseURL uses the
// public endpoint
func NewLeverAPI(f *Fetcher, x *Extractor, baseURL string) *LeverAPI {
	if baseURL == "" {
		baseURL = DefaultLeverAPI
	}
	return &LeverAPI{fetcher: f, extractor: x, baseURL: strings.TrimRight(baseURL, "/")}
}

func (l *LeverAPI) Info() scrape.Info {
	return scrape.Info{Name: NameLeverAPI, Priority: 5, DefaultTimeout: 10 * time.Second}
}

func (l *LeverAPI) IsApplicable(rawURL string, _ scrape.Options) bool {
	return leverCompany(rawURL) != ""
}

func (l *LeverAPI) IsResultValid(r *scrape.Result) bool {
	return r != nil && len(r.Links) > 0
}

func (l *LeverAPI) Close() error { return nil }

type leverPosting struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	HostedURL        string `json:"hostedUrl"`
	DescriptionPlain string `json:"descriptionPlain"`
	Description      string `json:"description"`
	Categories       struct {
		Location   string `json:"location"`
		Team       string `json:"team"`
		Commitment string `json:"commitment"`
	} `json:"categories"`
}

func (l *LeverAPI) Scrape(ctx context.Context, rawURL string, opts scrape.Options, cfg scrape.StepConfig) (*scrape.Result, error) {
	company := leverCompany(rawURL)
	if company == "" {
		return nil, scrape.ErrNotApplicable
	}

	api := fmt.Sprintf("%s/v0/postings/%s?mode=json", l.baseURL, url.PathEscape(company))
	var postings []leverPosting
	if err := l.fetcher.GetJSON(ctx, api, cfg.Retries, &postings); err != nil {
		return nil, err
	}
	if len(postings) == 0 {
		return nil, nil
	}

	links := make([]scrape.Link, 0, len(postings))
	var details []string
	for _, p := range postings {
		links = append(links, scrape.Link{
			URL:            p.HostedURL,
			Text:           collapse(p.Text),
			IsJobPosting:   true,
			Confidence:     1,
			Location:       p.Categories.Location,
			Department:     p.Categories.Team,
			EmploymentType: p.Categories.Commitment,
		})
		if opts.ForceDeepScrape {
			desc := collapse(p.DescriptionPlain)
			if desc == "" && p.Description != "" {
				desc = l.extractor.StripHTML(p.Description)
			}
			if desc != "" {
				details = append(details, collapse(p.Text)+": "+desc)
			}
		}
	}

	title := fmt.Sprintf("Jobs at %s", company)
	text := postingsText(title, links)
	if len(details) > 0 {
		text += "\n\n" + strings.Join(details, "\n\n")
	}
	return &scrape.Result{
		URL:       rawURL,
		Title:     title,
		Text:      text,
		Links:     links,
		Platform:  "lever",
		Language:  opts.Language,
		Method:    NameLeverAPI,
		Timestamp: time.Now(),
	}, nil
}

// leverCompany extracts the site name from a jobs.lever.co URL
func leverCompany(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if !strings.HasPrefix(host, "jobs.") || !strings.HasSuffix(host, "lever.co") {
		return ""
	}
	return firstSegment(u.Path)
}

func firstSegment(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}
