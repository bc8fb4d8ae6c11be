// Package geoindex answers point-in-polygon and nearest-point queries over
// the suburb, LGA, and station reference datasets. The index is built once
// at load and is read-only afterwards, so lookups are safe to run from
// multiple goroutines.
package geoindex

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/melbdata/enrich-cli/internal/model"
)

// ErrNoReferenceData is returned when the index holds no polygons of the
// requested kind (or no stations). Callers treat it as per-record
// recoverable unless it would fail every lookup.
var ErrNoReferenceData = eris.New("geoindex: no reference data")

// kmPerDegree converts a small angular separation at Melbourne's latitude
// into kilometers, used only for reporting fallback distances.
const kmPerDegree = 111.195

// Region is one named polygon boundary with its precomputed bounding box.
type Region struct {
	Name       string
	Kind       model.RegionKind
	Boundary   *geom.MultiPolygon
	Population int

	bounds *geom.Bounds
}

// Match is the result of resolving a point against a polygon layer.
// Approximate is set when the point fell outside every boundary and the
// nearest region was used instead; DistanceKM is zero for containment hits.
type Match struct {
	Name        string
	Approximate bool
	DistanceKM  float64
}

// Index holds the polygon layers and the station set.
type Index struct {
	regions  map[model.RegionKind][]Region
	stations []model.Station
}

// NewIndex builds an index over the given regions and stations. Region
// order is preserved, which makes boundary-point resolution deterministic:
// the first containing polygon in load order wins.
func NewIndex(regions []Region, stations []model.Station) *Index {
	ix := &Index{regions: make(map[model.RegionKind][]Region)}
	for _, r := range regions {
		if r.Boundary != nil {
			r.bounds = r.Boundary.Bounds()
		}
		ix.regions[r.Kind] = append(ix.regions[r.Kind], r)
	}
	ix.stations = append(ix.stations, stations...)
	sort.Slice(ix.stations, func(i, j int) bool {
		return ix.stations[i].Name < ix.stations[j].Name
	})
	return ix
}

// ResolveRegion finds the polygon of the given kind containing the point.
// If no polygon contains it, the region with the nearest boundary is
// returned with Approximate set. An empty layer yields ErrNoReferenceData.
func (ix *Index) ResolveRegion(lat, lng float64, kind model.RegionKind) (Match, error) {
	layer := ix.regions[kind]
	if len(layer) == 0 {
		return Match{}, eris.Wrapf(ErrNoReferenceData, "geoindex: no %s polygons loaded", kind)
	}

	// Shapefile coordinates are (x, y) = (lng, lat).
	p := geom.Coord{lng, lat}

	for _, r := range layer {
		if r.bounds == nil || !r.bounds.OverlapsPoint(geom.XY, p) {
			continue
		}
		if multiPolygonContains(r.Boundary, p) {
			return Match{Name: r.Name}, nil
		}
	}

	// Seam or gap in the layer: fall back to the nearest boundary.
	best := -1
	bestDist := 0.0
	for i, r := range layer {
		d := boundaryDistance(r.Boundary, p)
		if d < 0 {
			continue
		}
		if best < 0 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return Match{}, eris.Wrapf(ErrNoReferenceData, "geoindex: no usable %s boundaries", kind)
	}
	return Match{
		Name:        layer[best].Name,
		Approximate: true,
		DistanceKM:  bestDist * kmPerDegree,
	}, nil
}

// NearestStation returns the station with the smallest great-circle
// distance to the point. Ties break on station name; the station slice is
// name-sorted at build time so the scan is deterministic.
func (ix *Index) NearestStation(lat, lng float64) (model.Station, float64, error) {
	if len(ix.stations) == 0 {
		return model.Station{}, 0, eris.Wrap(ErrNoReferenceData, "geoindex: no stations loaded")
	}

	best := 0
	bestKM := Haversine(lat, lng, ix.stations[0].Latitude, ix.stations[0].Longitude)
	for i := 1; i < len(ix.stations); i++ {
		km := Haversine(lat, lng, ix.stations[i].Latitude, ix.stations[i].Longitude)
		if km < bestKM {
			best = i
			bestKM = km
		}
	}
	return ix.stations[best], bestKM, nil
}

// Empty reports whether the index holds no polygons and no stations at all,
// meaning every lookup against it would fail.
func (ix *Index) Empty() bool {
	for _, layer := range ix.regions {
		if len(layer) > 0 {
			return false
		}
	}
	return len(ix.stations) == 0
}

// RegionNames lists the loaded region names for a kind, in load order.
func (ix *Index) RegionNames(kind model.RegionKind) []string {
	layer := ix.regions[kind]
	names := make([]string, len(layer))
	for i, r := range layer {
		names[i] = r.Name
	}
	return names
}

// multiPolygonContains runs the ray-casting test against each member
// polygon: inside the outer ring and outside every hole.
func multiPolygonContains(mp *geom.MultiPolygon, p geom.Coord) bool {
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}
		if !xy.IsPointInRing(geom.XY, p, poly.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for r := 1; r < poly.NumLinearRings(); r++ {
			if xy.IsPointInRing(geom.XY, p, poly.LinearRing(r).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// boundaryDistance is the minimum planar distance (in degrees) from the
// point to any outer ring of the multipolygon, or -1 when the geometry is
// nil or has no rings to measure against. Degree space is fine for ranking
// candidate regions over the small angular extents involved.
func boundaryDistance(mp *geom.MultiPolygon, p geom.Coord) float64 {
	best := -1.0
	if mp == nil {
		return best
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}
		d := xy.DistanceFromPointToLineString(geom.XY, p, poly.LinearRing(0).FlatCoords())
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}
