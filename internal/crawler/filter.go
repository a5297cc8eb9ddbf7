package crawler

import (
	"regexp"
)

// Excluded domain patterns: job aggregators and social networks list other
// companies' jobs, and ads or analytics hosts never carry listings
var excludedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|\.)(facebook|fb)\.com$`),
	regexp.MustCompile(`(?i)(^|\.)(twitter|x)\.com$`),
	regexp.MustCompile(`(?i)(^|\.)instagram\.com$`),
	regexp.MustCompile(`(?i)(^|\.)linkedin\.com$`),
	regexp.MustCompile(`(?i)(^|\.)youtube\.com$`),
	regexp.MustCompile(`(?i)(^|\.)indeed\.[a-z.]+$`),
	regexp.MustCompile(`(?i)(^|\.)glassdoor\.[a-z.]+$`),
	regexp.MustCompile(`(?i)(^|\.)monster\.[a-z.]+$`),
	regexp.MustCompile(`(?i)(^|\.)welcometothejungle\.com$`),
	regexp.MustCompile(`(?i)(^|\.)ziprecruiter\.com$`),
	regexp.MustCompile(`(?i)google-analytics\.com$`),
	regexp.MustCompile(`(?i)doubleclick\.net$`),
	regexp.MustCompile(`(?i)^ads?\.`),
	regexp.MustCompile(`(?i)^analytics?\.`),
}

// IsExcluded checks if a domain matches any excluded pattern
func IsExcluded(domain string) bool {
	for _, pattern := range excludedPatterns {
		if pattern.MatchString(domain) {
			return true
		}
	}
	return false
}

// multiTenantRoots host one subdomain per company, so the per-root
// subdomain limit does not apply to them
var multiTenantRoots = map[string]bool{
	"myworkdayjobs.com":   true,
	"greenhouse.io":       true,
	"lever.co":            true,
	"smartrecruiters.com": true,
	"ashbyhq.com":         true,
	"recruitee.com":       true,
	"teamtailor.com":      true,
	"personio.de":         true,
	"personio.com":        true,
	"workable.com":        true,
	"successfactors.com":  true,
	"successfactors.eu":   true,
	"taleo.net":           true,
	"icims.com":           true,
}
