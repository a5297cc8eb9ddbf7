package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	tests := []struct {
		name   string
		url    string
		html   string
		want   string
		wantOK bool
	}{
		{name: "greenhouse board", url: "https://boards.greenhouse.io/acme", want: "greenhouse", wantOK: true},
		{name: "lever", url: "https://jobs.lever.co/acme", want: "lever", wantOK: true},
		{name: "workday", url: "https://acme.wd3.myworkdayjobs.com/en-US/External", want: "workday", wantOK: true},
		{name: "embedded greenhouse", url: "https://acme.com/careers", html: `<div id="grnhse_app"></div>`, want: "greenhouse", wantOK: true},
		{name: "unknown", url: "https://example.com/careers", html: "<html><body>Careers</body></html>"},
		{name: "unknown without html", url: "https://example.com/careers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Detect(tt.url, tt.html)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrategyTables(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	s, ok := c.RecommendedStrategy("Greenhouse")
	assert.True(t, ok)
	assert.Equal(t, "greenhouse-api", s)

	_, ok = c.RecommendedStrategy("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"static-html"}, c.Blocked("workday"))
	assert.Nil(t, c.Blocked("nope"))
	assert.True(t, c.HeavyJS("taleo"))
	assert.False(t, c.HeavyJS("lever"))
	assert.Contains(t, c.Names(), "icims")
}

func TestParseAddsPlatformsAsData(t *testing.T) {
	c, err := Parse([]byte(`
platforms:
  - name: jobylon
    url_patterns: ['emp\.jobylon\.com']
    strategy: static-html
`))
	require.NoError(t, err)

	got, ok := c.Detect("https://emp.jobylon.com/jobs/123", "")
	assert.True(t, ok)
	assert.Equal(t, "jobylon", got)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("platforms:\n  - url_patterns: ['x']\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("platforms:\n  - name: a\n  - name: a\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("platforms:\n  - name: a\n    url_patterns: ['(']\n"))
	assert.Error(t, err)
}
