package ingest

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melbdata/enrich-cli/internal/routegraph"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestReadStops(t *testing.T) {
	input := "stop_id,stop_name,stop_lat,stop_lon,extra_column\n" +
		"19842,Melbourne Central,-37.8100,144.9626,ignored\n" +
		"S1,Carlton,-37.8000,144.9670,ignored\n"

	stations, err := ReadStops(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "19842", stations[0].ID)
	assert.Equal(t, "Melbourne Central", stations[0].Name)
	assert.Equal(t, -37.81, stations[0].Latitude)
	assert.Equal(t, 144.9626, stations[0].Longitude)
}

func TestReadStopTimes(t *testing.T) {
	input := "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"t1,07:00:00,07:01:00,S1,1\n" +
		"t1,07:20:00,07:21:00,19842,2\n"

	stopTimes, err := ReadStopTimes(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, stopTimes, 2)
	assert.Equal(t, "t1", stopTimes[0].TripID)
	assert.Equal(t, "07:01:00", stopTimes[0].Departure)
	assert.Equal(t, 2, stopTimes[1].Sequence)
}

func TestReadTrips_And_Calendar_FeedTimetable(t *testing.T) {
	trips, err := ReadTrips(strings.NewReader(
		"trip_id,service_id\nt1,weekday\nt2,weekend\n"))
	require.NoError(t, err)

	services, err := ReadCalendar(strings.NewReader(
		"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday\n" +
			"weekday,1,1,1,1,1,0,0\n" +
			"weekend,0,0,0,0,0,1,1\n"))
	require.NoError(t, err)

	weekday := routegraph.WeekdayTrips(trips, services)
	_, hasWeekday := weekday["t1"]
	_, hasWeekend := weekday["t2"]
	assert.True(t, hasWeekday)
	assert.False(t, hasWeekend)

	stopTimes, err := ReadStopTimes(strings.NewReader(
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"t1,07:00:00,07:00:00,S1,1\n" +
			"t1,07:20:00,07:20:00,19842,2\n"))
	require.NoError(t, err)

	direct := routegraph.BuildDirectTimes(stopTimes, weekday, "19842", 7, 9)
	require.Contains(t, direct, "S1")
	assert.InDelta(t, 20, direct["S1"].AvgMinutes, 0.001)
}

func TestReadStops_Empty(t *testing.T) {
	stations, err := ReadStops(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, stations)
}
