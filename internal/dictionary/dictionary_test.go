package dictionary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDefault(t *testing.T) *Dictionary {
	t.Helper()
	d, err := Default()
	require.NoError(t, err)
	return d
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ingenieur developpeur", Normalize("Ingénieur Développeur"))
	assert.Equal(t, "nachste", Normalize("Nächste"))
}

func TestCountJobTerms(t *testing.T) {
	d := mustDefault(t)

	tests := []struct {
		name string
		text string
		lang string
		want int
	}{
		{name: "english title", text: "Careers at Example - Software Engineer, Paris", lang: "en", want: 2},
		{name: "accented french", text: "Offres d'emploi : Ingénieur logiciel", lang: "fr", want: 3},
		{name: "region subtag", text: "Offres d'emploi", lang: "fr-FR", want: 2},
		{name: "unknown language falls back to all", text: "Stellenangebote und Jobs", lang: "xx", want: 2},
		{name: "no terms", text: "Our company history and values", lang: "en", want: 0},
		{name: "empty", text: "", lang: "en", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.CountJobTerms(tt.text, tt.lang))
		})
	}
}

func TestIsJobURL(t *testing.T) {
	d := mustDefault(t)

	assert.True(t, d.IsJobURL("https://example.com/jobs/1"))
	assert.True(t, d.IsJobURL("https://boards.greenhouse.io/acme/jobs/4012345"))
	assert.True(t, d.IsJobURL("https://example.com/apply?gh_jid=42"))
	assert.True(t, d.IsJobURL("https://example.de/karriere/stellenangebote"))
	assert.False(t, d.IsJobURL("https://example.com/about-us"))
	assert.False(t, d.IsJobURL("https://example.com/blog/2024/recap"))
}

func TestIsShowMoreText(t *testing.T) {
	d := mustDefault(t)

	assert.True(t, d.IsShowMoreText("en", "Load more jobs"))
	assert.True(t, d.IsShowMoreText("de", "Mehr anzeigen"))
	assert.True(t, d.IsShowMoreText("fr", "Voir plus d'offres"))
	assert.True(t, d.IsShowMoreText("fr", "Show more"), "english fallback")
	assert.False(t, d.IsShowMoreText("en", "Show less"))
	assert.False(t, d.IsShowMoreText("en", "Cookie settings"))
	assert.False(t, d.IsShowMoreText("en", ""))
}

func TestCookieTables(t *testing.T) {
	d := mustDefault(t)

	assert.Contains(t, d.CookieSelectors(), "#onetrust-accept-btn-handler")
	texts := d.CookieAcceptTexts("de")
	assert.Contains(t, texts, "alle akzeptieren")
	assert.Contains(t, texts, "accept all")
	assert.Greater(t, len(d.ShowMoreSelectors(true)), len(d.ShowMoreSelectors(false)))
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse([]byte("job_url_patterns: []\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("job_url_patterns: ['(']\nlanguages:\n  en:\n    job_terms: [job]\n"))
	assert.Error(t, err)
}

func TestLanguages(t *testing.T) {
	d := mustDefault(t)
	assert.Equal(t, []string{"de", "en", "es", "fr", "it", "nl", "pt"}, d.Languages())
	assert.NotEmpty(t, d.JobTerms(""))
	assert.Contains(t, d.JobTerms("EN"), "engineer")
}
