package models_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"minder/internal/models"
)

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"YouTube.com":      "youtube.com",
		"www.youtube.com":  "youtube.com",
		" reddit.com ":     "reddit.com",
		"news.site.co.uk.": "news.site.co.uk",
		"www.WWW.com":      "www.com",
	}
	for in, want := range cases {
		require.Equal(t, want, models.NormalizeDomain(in), "input %q", in)
	}
}

func TestMatchesHost(t *testing.T) {
	t.Parallel()

	require.True(t, models.MatchesHost("youtube.com", "youtube.com"))
	require.True(t, models.MatchesHost("www.youtube.com", "youtube.com"))
	require.True(t, models.MatchesHost("music.youtube.com", "youtube.com"))
	require.True(t, models.MatchesHost("a.b.youtube.com", "youtube.com"))

	require.False(t, models.MatchesHost("notyoutube.com", "youtube.com"))
	require.False(t, models.MatchesHost("youtube.com.evil.org", "youtube.com"))
	require.False(t, models.MatchesHost("youtube.org", "youtube.com"))
}
