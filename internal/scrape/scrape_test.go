package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "https", in: "https://Example.com/careers", want: "example.com"},
		{name: "subdomain with port", in: "http://jobs.example.com:8080/x", want: "jobs.example.com"},
		{name: "protocol relative", in: "//careers.acme.io/open", want: "careers.acme.io"},
		{name: "no scheme", in: "example.com/careers", wantErr: true},
		{name: "mailto", in: "mailto://hr@example.com", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractDomain(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractRootDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractRootDomain("careers.example.com"))
	assert.Equal(t, "example.com", ExtractRootDomain("example.com"))
	assert.Equal(t, "localhost", ExtractRootDomain("localhost"))
	assert.Equal(t, "acme.co.uk", ExtractRootDomain("jobs.acme.co.uk"))
	assert.Equal(t, "beta.co.uk", ExtractRootDomain("beta.co.uk"))
	assert.Equal(t, "gamma.com.au", ExtractRootDomain("careers.gamma.com.au"))
	assert.Equal(t, "example.com", ExtractRootDomain("Careers.Example.com."))
	assert.Equal(t, "127.0.0.1", ExtractRootDomain("127.0.0.1"))
}

func TestResolveURL(t *testing.T) {
	base, err := url.Parse("https://example.com/careers/")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/jobs/1", ResolveURL(base, "/jobs/1#apply"))
	assert.Equal(t, "https://example.com/careers/eng", ResolveURL(base, "eng"))
	assert.Equal(t, "", ResolveURL(base, "javascript:void(0)"))
	assert.Equal(t, "", ResolveURL(base, "#top"))
	assert.Equal(t, "", ResolveURL(base, "  "))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "", Classify(nil))
	assert.Equal(t, KindNotApplicable, Classify(ErrNotApplicable))
	assert.Equal(t, KindNoResult, Classify(fmt.Errorf("wrapped: %w", ErrNoResult)))
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindBlocked, Classify(ErrBlocked))
	assert.Equal(t, KindNavigation, Classify(&NavigationError{URL: "https://x", Err: errors.New("boom")}))
	assert.Equal(t, KindExecution, Classify(&StepError{Step: "s", Kind: KindExecution, Err: errors.New("panic: nil map")}))
	assert.Equal(t, KindNetwork, Classify(errors.New("dial tcp: connection refused")))
	assert.Equal(t, KindExecution, Classify(errors.New("unexpected page structure")))
}

func TestResultHelpers(t *testing.T) {
	var nilResult *Result
	assert.False(t, nilResult.HasContent())
	assert.Nil(t, nilResult.Clone())

	r := &Result{
		Text: "x",
		Links: []Link{
			{URL: "https://example.com/jobs/1", IsJobPosting: true},
			{URL: "https://example.com/about"},
		},
	}
	assert.True(t, r.HasContent())
	assert.Len(t, r.JobLinks(), 1)

	c := r.Clone()
	c.Links[0].Text = "changed"
	assert.Equal(t, "", r.Links[0].Text)
}
