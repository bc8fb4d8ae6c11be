package ingest

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/melbdata/enrich-cli/internal/model"
	"github.com/melbdata/enrich-cli/internal/routegraph"
)

type stopRow struct {
	StopID   string  `csv:"stop_id"`
	StopName string  `csv:"stop_name"`
	StopLat  float64 `csv:"stop_lat"`
	StopLon  float64 `csv:"stop_lon"`
}

// ReadStops reads a GTFS stops file into stations.
func ReadStops(r io.Reader) ([]model.Station, error) {
	rows, err := decodeCSV[stopRow](r, "stops")
	if err != nil {
		return nil, err
	}
	stations := make([]model.Station, 0, len(rows))
	for _, row := range rows {
		stations = append(stations, model.Station{
			ID:        row.StopID,
			Name:      row.StopName,
			Latitude:  row.StopLat,
			Longitude: row.StopLon,
		})
	}
	return stations, nil
}

// ReadStopTimes reads a GTFS stop_times file.
func ReadStopTimes(r io.Reader) ([]routegraph.StopTime, error) {
	return decodeCSV[routegraph.StopTime](r, "stop_times")
}

// ReadTrips reads a GTFS trips file.
func ReadTrips(r io.Reader) ([]routegraph.Trip, error) {
	return decodeCSV[routegraph.Trip](r, "trips")
}

// ReadCalendar reads a GTFS calendar file.
func ReadCalendar(r io.Reader) ([]routegraph.Service, error) {
	return decodeCSV[routegraph.Service](r, "calendar")
}

// decodeCSV decodes a headed CSV into a slice of T. Unknown columns are
// ignored; GTFS files carry many more than we read.
func decodeCSV[T any](r io.Reader, name string) ([]T, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "ingest: %s header", name)
	}

	var rows []T
	for {
		var row T
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s row", name)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
