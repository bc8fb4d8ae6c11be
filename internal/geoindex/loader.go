package geoindex

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/melbdata/enrich-cli/internal/model"
)

// LoadRegionsShapefile reads polygon boundaries from a shapefile. nameField
// selects the attribute holding the region name (e.g. VIC_LOCA_2 for the
// Victorian locality layer); popField is optional and may be empty.
func LoadRegionsShapefile(path string, kind model.RegionKind, nameField, popField string) ([]Region, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geoindex: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map. DBF field names are NUL-padded.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	nameIdx, ok := fieldIdx[strings.ToLower(nameField)]
	if !ok {
		return nil, eris.Errorf("geoindex: shapefile %s has no field %q", path, nameField)
	}
	popIdx, hasPop := -1, false
	if popField != "" {
		popIdx, hasPop = fieldIdx[strings.ToLower(popField)]
	}

	var regions []Region
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		if name == "" {
			skipped++
			continue
		}

		poly, pOK := shape.(*shp.Polygon)
		if !pOK {
			skipped++
			continue
		}
		boundary := polygonToMultiPolygon(poly)
		if boundary == nil {
			skipped++
			continue
		}

		r := Region{Name: name, Kind: kind, Boundary: boundary}
		if hasPop {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(popIdx), "\x00"))
			if pop, convErr := strconv.Atoi(raw); convErr == nil {
				r.Population = pop
			}
		}
		regions = append(regions, r)
	}

	if skipped > 0 {
		zap.L().Debug("geoindex: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if len(regions) == 0 {
		return nil, eris.Wrapf(ErrNoReferenceData, "geoindex: shapefile %s yielded no %s polygons", path, kind)
	}

	return regions, nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon,
// treating each part as its own single-ring polygon.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("geoindex: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("geoindex: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
