package service

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideMirror(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		sourceHost string
		want       MirrorDecision
	}{
		{"known extension", "https://cdn.example.com/files/report.PDF", "", MirrorRequired},
		{"source host", "https://data.city.gov/api/views/abc/rows", "data.city.gov", MirrorRequired},
		{"source host given as url", "https://data.city.gov/download", "https://data.city.gov:443", MirrorRequired},
		{"web page", "https://example.com/about.html", "data.city.gov", MirrorSkip},
		{"inconclusive", "https://example.com/download?id=4", "data.city.gov", MirrorProbe},
		{"not http", "ftp://example.com/data.csv", "", MirrorSkip},
		{"garbage", "::not a url", "", MirrorSkip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideMirror(tt.url, tt.sourceHost))
		})
	}
}

func TestIsMirrorableContentType(t *testing.T) {
	assert.True(t, IsMirrorableContentType("text/csv; charset=utf-8"))
	assert.True(t, IsMirrorableContentType("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
	assert.False(t, IsMirrorableContentType("text/html"))
	assert.False(t, IsMirrorableContentType(""))
}

var keyPattern = regexp.MustCompile(`^resources/[0-9a-f-]{36}/[a-z0-9_-]+-[A-Za-z0-9]{6}\.[a-z0-9_-]+$`)

func TestNewObjectKey(t *testing.T) {
	k1, err := NewObjectKey("https://example.com/files/Annual%20Report.csv")
	require.NoError(t, err)
	k2, err := NewObjectKey("https://example.com/files/Annual%20Report.csv")
	require.NoError(t, err)

	assert.Equal(t, "annual-report", k1.Stem)
	assert.Equal(t, "csv", k1.Extension)
	assert.Regexp(t, keyPattern, k1.String())
	assert.NotEqual(t, k1.String(), k2.String(), "keys never collide across runs")
}

func TestObjectKey_Defaults(t *testing.T) {
	k, err := NewObjectKey("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "unnamed", k.Stem)
	assert.Equal(t, "bin", k.Extension)

	k, err = NewObjectKey("https://example.com/download")
	require.NoError(t, err)
	assert.Equal(t, "download", k.Stem)
	assert.Equal(t, "bin", k.Extension)
}

func TestDeterministicObjectKey(t *testing.T) {
	a := DeterministicObjectKey("https://example.com/a.json")
	b := DeterministicObjectKey("https://example.com/a.json")
	c := DeterministicObjectKey("https://example.com/b.json")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a.String(), c.String())
	assert.Regexp(t, keyPattern, a.String())
}
