package geoindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/melbdata/enrich-cli/internal/model"
)

func squareRegion(name string, kind model.RegionKind, minLng, minLat, maxLng, maxLat float64) Region {
	ring := geom.NewLinearRingFlat(geom.XY, []float64{
		minLng, minLat,
		maxLng, minLat,
		maxLng, maxLat,
		minLng, maxLat,
		minLng, minLat,
	})
	poly := geom.NewPolygon(geom.XY)
	if err := poly.Push(ring); err != nil {
		panic(err)
	}
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(poly); err != nil {
		panic(err)
	}
	return Region{Name: name, Kind: kind, Boundary: mp}
}

func testIndex() *Index {
	regions := []Region{
		squareRegion("CARLTON", model.RegionSuburb, 144.95, -37.81, 144.98, -37.78),
		squareRegion("FITZROY", model.RegionSuburb, 144.98, -37.81, 145.01, -37.78),
		squareRegion("MELBOURNE", model.RegionLGA, 144.90, -37.85, 145.05, -37.75),
	}
	stations := []model.Station{
		{ID: "19842", Name: "Melbourne Central", Latitude: -37.8100, Longitude: 144.9626},
		{ID: "19843", Name: "Flagstaff", Latitude: -37.8119, Longitude: 144.9560},
		{ID: "19844", Name: "Parliament", Latitude: -37.8110, Longitude: 144.9730},
	}
	return NewIndex(regions, stations)
}

func TestResolveRegion_Containment(t *testing.T) {
	ix := testIndex()

	m, err := ix.ResolveRegion(-37.80, 144.96, model.RegionSuburb)
	require.NoError(t, err)
	assert.Equal(t, "CARLTON", m.Name)
	assert.False(t, m.Approximate)
	assert.Zero(t, m.DistanceKM)

	m, err = ix.ResolveRegion(-37.80, 144.99, model.RegionSuburb)
	require.NoError(t, err)
	assert.Equal(t, "FITZROY", m.Name)
	assert.False(t, m.Approximate)
}

func TestResolveRegion_LGALayer(t *testing.T) {
	ix := testIndex()

	m, err := ix.ResolveRegion(-37.80, 144.96, model.RegionLGA)
	require.NoError(t, err)
	assert.Equal(t, "MELBOURNE", m.Name)
	assert.False(t, m.Approximate)
}

func TestResolveRegion_NearestFallback(t *testing.T) {
	ix := testIndex()

	// Point west of every suburb polygon: resolution falls back to the
	// nearest boundary and flags the match.
	m, err := ix.ResolveRegion(-37.80, 144.94, model.RegionSuburb)
	require.NoError(t, err)
	assert.Equal(t, "CARLTON", m.Name)
	assert.True(t, m.Approximate)
	assert.Greater(t, m.DistanceKM, 0.0)
}

func TestResolveRegion_BoundaryDeterministic(t *testing.T) {
	ix := testIndex()

	// The shared edge between CARLTON and FITZROY.
	first, err := ix.ResolveRegion(-37.80, 144.98, model.RegionSuburb)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, resErr := ix.ResolveRegion(-37.80, 144.98, model.RegionSuburb)
		require.NoError(t, resErr)
		assert.Equal(t, first, again)
	}
	assert.Contains(t, []string{"CARLTON", "FITZROY"}, first.Name)
}

func TestResolveRegion_FallbackSkipsUnusableBoundaries(t *testing.T) {
	regions := []Region{
		{Name: "NILBOUNDARY", Kind: model.RegionSuburb},
		{Name: "RINGLESS", Kind: model.RegionSuburb, Boundary: geom.NewMultiPolygon(geom.XY)},
		squareRegion("CARLTON", model.RegionSuburb, 144.95, -37.81, 144.98, -37.78),
	}
	ix := NewIndex(regions, nil)

	// Point outside the one real polygon: the fallback must rank only the
	// measurable boundary, not let an empty geometry win at distance zero.
	m, err := ix.ResolveRegion(-37.80, 144.90, model.RegionSuburb)
	require.NoError(t, err)
	assert.Equal(t, "CARLTON", m.Name)
	assert.True(t, m.Approximate)
	assert.Greater(t, m.DistanceKM, 0.0)
}

func TestResolveRegion_NoUsableBoundaries(t *testing.T) {
	ix := NewIndex([]Region{{Name: "NILBOUNDARY", Kind: model.RegionSuburb}}, nil)

	_, err := ix.ResolveRegion(-37.80, 144.90, model.RegionSuburb)
	assert.ErrorIs(t, err, ErrNoReferenceData)
}

func TestIndexEmpty(t *testing.T) {
	assert.True(t, NewIndex(nil, nil).Empty())
	assert.False(t, testIndex().Empty())
	assert.False(t, NewIndex(nil, []model.Station{{ID: "19842", Name: "Melbourne Central"}}).Empty())
}

func TestResolveRegion_NoReferenceData(t *testing.T) {
	ix := NewIndex(nil, nil)

	_, err := ix.ResolveRegion(-37.80, 144.96, model.RegionSuburb)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoReferenceData)
}

func TestNearestStation_BruteForceCrossCheck(t *testing.T) {
	ix := testIndex()

	probes := []struct{ lat, lng float64 }{
		{-37.8100, 144.9626},
		{-37.8150, 144.9500},
		{-37.8050, 144.9800},
		{-37.7900, 144.9400},
	}
	for _, p := range probes {
		st, km, err := ix.NearestStation(p.lat, p.lng)
		require.NoError(t, err)

		for _, other := range ix.stations {
			otherKM := Haversine(p.lat, p.lng, other.Latitude, other.Longitude)
			assert.LessOrEqual(t, km, otherKM,
				"station %s should not beat reported nearest %s", other.Name, st.Name)
		}
	}
}

func TestNearestStation_TieBreaksByName(t *testing.T) {
	stations := []model.Station{
		{ID: "2", Name: "Zeta", Latitude: -37.80, Longitude: 144.96},
		{ID: "1", Name: "Alpha", Latitude: -37.80, Longitude: 144.96},
	}
	ix := NewIndex(nil, stations)

	st, _, err := ix.NearestStation(-37.80, 144.96)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", st.Name)
}

func TestNearestStation_NoReferenceData(t *testing.T) {
	ix := NewIndex(nil, nil)

	_, _, err := ix.NearestStation(-37.80, 144.96)
	assert.ErrorIs(t, err, ErrNoReferenceData)
}

func TestHaversine(t *testing.T) {
	// Melbourne CBD to Sydney CBD is roughly 713 km.
	km := Haversine(-37.8136, 144.9631, -33.8688, 151.2093)
	assert.InDelta(t, 713.0, km, 5.0)

	// Zero distance to self.
	assert.InDelta(t, 0.0, Haversine(-37.8, 144.9, -37.8, 144.9), 1e-9)
}
