package elevation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/elevation-aggregation/internal/elevation"
)

func registration(name string, requiresCredential, present bool) elevation.Registration {
	return elevation.Registration{
		Descriptor: elevation.ProviderDescriptor{
			Name:               name,
			RequiresCredential: requiresCredential,
			CredentialPresent:  present,
		},
		Provider: &fakeProvider{name: name, fetch: returns(1)},
	}
}

func fullRegistry(t *testing.T, googleKey bool) *elevation.Registry {
	t.Helper()
	r, err := elevation.NewRegistry(
		registration(elevation.ProviderUSGS, false, false),
		registration(elevation.ProviderGoogle, true, googleKey),
		registration(elevation.ProviderOpenTopoData, false, false),
		registration(elevation.ProviderOSM, false, false),
	)
	require.NoError(t, err)
	return r
}

func names(list []elevation.ProviderDescriptor) []string {
	out := make([]string, 0, len(list))
	for _, d := range list {
		out = append(out, d.Name)
	}
	return out
}

func TestNewRegistryRejectsBadRegistrations(t *testing.T) {
	_, err := elevation.NewRegistry(registration("", false, false))
	assert.Error(t, err)

	_, err = elevation.NewRegistry(elevation.Registration{Descriptor: elevation.ProviderDescriptor{Name: "usgs"}})
	assert.Error(t, err)

	mismatched := registration("usgs", false, false)
	mismatched.Descriptor.Name = "google"
	_, err = elevation.NewRegistry(mismatched)
	assert.Error(t, err)

	_, err = elevation.NewRegistry(registration("osm", false, false), registration("osm", false, false))
	assert.Error(t, err)
}

func TestRouteDefaultTable(t *testing.T) {
	router := elevation.NewRouter(fullRegistry(t, true), nil)

	assert.Equal(t, []string{"usgs", "google", "open_topo_data", "osm"}, names(router.Route(elevation.ClassDomestic)))
	assert.Equal(t, []string{"google", "open_topo_data", "osm"}, names(router.Route(elevation.ClassInternational)))
	assert.Equal(t, []string{"google", "open_topo_data", "osm", "usgs"}, names(router.Route(elevation.ClassOcean)))
}

func TestRouteIsStable(t *testing.T) {
	router := elevation.NewRouter(fullRegistry(t, true), nil)
	first := names(router.Route(elevation.ClassDomestic))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, names(router.Route(elevation.ClassDomestic)))
	}
}

func TestRouteSkipsProvidersWithoutCredential(t *testing.T) {
	router := elevation.NewRouter(fullRegistry(t, false), nil)

	assert.Equal(t, []string{"usgs", "open_topo_data", "osm"}, names(router.Route(elevation.ClassDomestic)))
	assert.Equal(t, []string{"open_topo_data", "osm"}, names(router.Route(elevation.ClassInternational)))
}

func TestRouteWithCredentialsCopiesRegistry(t *testing.T) {
	without := fullRegistry(t, true)
	with := without.WithCredentials(map[string]bool{elevation.ProviderGoogle: false})

	assert.Equal(t, []string{"usgs", "open_topo_data", "osm"}, names(elevation.NewRouter(with, nil).Route(elevation.ClassDomestic)))
	assert.Equal(t, []string{"usgs", "google", "open_topo_data", "osm"}, names(elevation.NewRouter(without, nil).Route(elevation.ClassDomestic)))
	assert.Len(t, with.AvailableProviders(), 3)
}

func TestRouteCustomTable(t *testing.T) {
	router := elevation.NewRouter(fullRegistry(t, true), elevation.PriorityTable{
		elevation.ClassInternational: {"osm", "unknown", "osm", "google"},
	})

	assert.Equal(t, []string{"osm", "google"}, names(router.Route(elevation.ClassInternational)))
	assert.Equal(t, []string{"usgs", "google", "open_topo_data", "osm"}, names(router.Route(elevation.ClassDomestic)))

	table := router.Table()
	table[elevation.ClassDomestic][0] = "mutated"
	assert.Equal(t, "usgs", router.Table()[elevation.ClassDomestic][0])
}

func TestRestrict(t *testing.T) {
	router := elevation.NewRouter(fullRegistry(t, false), nil)

	got, err := router.Restrict([]string{"osm", "google", "usgs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"osm", "usgs"}, names(got))

	_, err = router.Restrict([]string{"osm", "bing"})
	var ve *elevation.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "providers", ve.Field)
}

func TestOrderByCoverage(t *testing.T) {
	onlyNorth := func(c elevation.Coordinate) bool { return c.Lat > 0 }
	list := []elevation.ProviderDescriptor{
		{Name: "a", Covers: onlyNorth},
		{Name: "b"},
		{Name: "c", Covers: onlyNorth},
		{Name: "d"},
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, names(elevation.OrderByCoverage(list, elevation.Coordinate{Lat: 10})))
	assert.Equal(t, []string{"b", "d", "a", "c"}, names(elevation.OrderByCoverage(list, elevation.Coordinate{Lat: -10})))
}
