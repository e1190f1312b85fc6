package source

import (
	"testing"

	"catalog-harvester/internal/harvest/domain/repository"
	sharedErrors "catalog-harvester/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(sourceURL string) Options {
	return Options{
		SourceURL: sourceURL,
		APIKey:    "token",
		MainOrg:   "main",
		MainGroup: "main-group",
		Now:       fixedNow,
	}
}

func TestDefaultRegistry_ResolvesNamesAndAliases(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"arcgis", "ckan", "dataverse", "dkan", "lincolnshire", "opendatasoft", "socrata"}, r.Names())

	tests := map[string]string{
		"ckan":                  "ckan",
		"CkanHarvester":         "ckan",
		"LincolnshireHarvester": "lincolnshire",
		"SocrataHarvester":      "socrata",
		"OpenDataSoftHarvester": "opendatasoft",
		"ods":                   "opendatasoft",
		"ArcgisHarvester":       "arcgis",
		"DataverseHarvester":    "dataverse",
		"DkanHarvester":         "dkan",
		"DKAN":                  "dkan",
	}
	for name, want := range tests {
		got, ok := r.Resolve(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)

		h, err := r.New(name, testOptions("https://source.test"))
		require.NoError(t, err, name)
		assert.Equal(t, want, h.Name())
	}
}

func TestRegistry_UnknownHarvester(t *testing.T) {
	_, err := DefaultRegistry().New("geonetwork", testOptions("https://source.test"))
	require.Error(t, err)
	assert.True(t, sharedErrors.IsValidation(err))
	assert.ErrorIs(t, err, sharedErrors.ErrUnknownHarvester)
	assert.Contains(t, err.Error(), "ckan")
}

func TestRegistry_RequiresSourceAndOrg(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.New("ckan", Options{MainOrg: "main"})
	assert.True(t, sharedErrors.IsValidation(err))

	_, err = r.New("ckan", Options{SourceURL: "https://source.test"})
	assert.True(t, sharedErrors.IsValidation(err))
}

func TestRegistry_RegisterTwicePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("ckan", NewCkanHarvester)
	assert.Panics(t, func() { r.Register("ckan", NewCkanHarvester) })
	assert.Panics(t, func() { r.Register("nil", nil) })
}

func TestRegistry_Aliases(t *testing.T) {
	assert.Equal(t, []string{"OpenDataSoftHarvester", "ods"}, DefaultRegistry().Aliases("opendatasoft"))
}

func TestLincolnshire_ImplementsEntityExtractor(t *testing.T) {
	h, err := DefaultRegistry().New("lincolnshire", testOptions("https://source.test"))
	require.NoError(t, err)
	_, ok := h.(repository.EntityExtractor)
	assert.True(t, ok)
	host, ok := h.(repository.SourceHost)
	require.True(t, ok)
	assert.Equal(t, "source.test", host.SourceHost())
}
