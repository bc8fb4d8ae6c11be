package routegraph

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// StopTime is one timetable row: a trip calling at a stop.
type StopTime struct {
	TripID    string `csv:"trip_id"`
	Arrival   string `csv:"arrival_time"`
	Departure string `csv:"departure_time"`
	StopID    string `csv:"stop_id"`
	Sequence  int    `csv:"stop_sequence"`
}

// Trip links a trip to the service that schedules it.
type Trip struct {
	TripID    string `csv:"trip_id"`
	ServiceID string `csv:"service_id"`
}

// Service is one calendar row with weekday run flags.
type Service struct {
	ServiceID string `csv:"service_id"`
	Monday    int    `csv:"monday"`
	Tuesday   int    `csv:"tuesday"`
	Wednesday int    `csv:"wednesday"`
	Thursday  int    `csv:"thursday"`
	Friday    int    `csv:"friday"`
}

// DirectTime is the averaged direct travel time from one origin station to
// the destination, over every qualifying trip observed in the window.
type DirectTime struct {
	AvgMinutes float64
	Trips      int
}

// WeekdayTrips returns the set of trips whose service runs every weekday.
func WeekdayTrips(trips []Trip, services []Service) map[string]struct{} {
	weekday := make(map[string]struct{}, len(services))
	for _, s := range services {
		if s.Monday+s.Tuesday+s.Wednesday+s.Thursday+s.Friday == 5 {
			weekday[s.ServiceID] = struct{}{}
		}
	}

	set := make(map[string]struct{}, len(trips))
	for _, t := range trips {
		if _, ok := weekday[t.ServiceID]; ok {
			set[t.TripID] = struct{}{}
		}
	}
	return set
}

// BuildDirectTimes derives per-origin direct travel times to destStopID from
// the timetable: for every weekday trip that calls at the destination, each
// earlier stop with a departure in [startHour, endHour) contributes one
// observed leg. Legs are averaged per origin stop.
func BuildDirectTimes(stopTimes []StopTime, weekdayTrips map[string]struct{}, destStopID string, startHour, endHour int) map[string]DirectTime {
	// Group by trip and order by stop sequence.
	byTrip := make(map[string][]StopTime)
	for _, st := range stopTimes {
		if _, ok := weekdayTrips[st.TripID]; !ok {
			continue
		}
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}

	totals := make(map[string]float64)
	counts := make(map[string]int)
	var badClock int

	for _, calls := range byTrip {
		sort.Slice(calls, func(i, j int) bool { return calls[i].Sequence < calls[j].Sequence })

		destIdx := -1
		for i, c := range calls {
			if c.StopID == destStopID {
				destIdx = i
				break
			}
		}
		if destIdx < 0 {
			continue
		}

		arriveMin, err := clockMinutes(calls[destIdx].Arrival)
		if err != nil {
			badClock++
			continue
		}

		for i := 0; i < destIdx; i++ {
			departMin, depErr := clockMinutes(calls[i].Departure)
			if depErr != nil {
				badClock++
				continue
			}
			hour := int(departMin) / 60
			if hour < startHour || hour >= endHour {
				continue
			}
			leg := arriveMin - departMin
			if leg < 0 {
				continue
			}
			totals[calls[i].StopID] += leg
			counts[calls[i].StopID]++
		}
	}

	if badClock > 0 {
		zap.L().Debug("routegraph: skipped unparseable timetable clocks", zap.Int("count", badClock))
	}

	direct := make(map[string]DirectTime, len(counts))
	for stopID, n := range counts {
		direct[stopID] = DirectTime{AvgMinutes: totals[stopID] / float64(n), Trips: n}
	}
	// The destination reaches itself in zero minutes.
	direct[destStopID] = DirectTime{AvgMinutes: 0, Trips: 1}
	return direct
}

// clockMinutes parses an HH:MM:SS timetable clock into minutes after
// midnight. Feeds past midnight use hours >= 24, which wrap.
func clockMinutes(clock string) (float64, error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, eris.Errorf("routegraph: bad clock %q", clock)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, eris.Wrapf(err, "routegraph: bad hour in %q", clock)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, eris.Wrapf(err, "routegraph: bad minute in %q", clock)
	}
	s, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, eris.Wrapf(err, "routegraph: bad second in %q", clock)
	}
	h = h % 24
	return float64(h)*60 + float64(m) + float64(s)/60, nil
}
