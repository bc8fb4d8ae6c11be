// Package forecast fits a linear trend to recent daily case counts and
// projects the next day's value.
package forecast

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInsufficientHistory is returned when fewer than two observations are
// available; a line cannot be fit. Callers widen the window or report no
// forecast.
var ErrInsufficientHistory = eris.New("forecast: insufficient history")

// Point is one dated observation.
type Point struct {
	Date  time.Time
	Count int
}

// Obs is an observation on the fitted axis: a 0-based day index and count.
type Obs struct {
	DayIndex int
	Count    int
}

// Model is a fitted least-squares line. Ephemeral: recomputed per request,
// never persisted.
type Model struct {
	Slope     float64
	Intercept float64
}

// Fit computes the ordinary least-squares line through the observations.
func Fit(obs []Obs) (Model, error) {
	n := len(obs)
	if n < 2 {
		return Model{}, eris.Wrapf(ErrInsufficientHistory, "forecast: %d observation(s)", n)
	}

	var sumX, sumY, sumXX, sumXY float64
	for _, o := range obs {
		x, y := float64(o.DayIndex), float64(o.Count)
		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		// Every observation on the same day index.
		return Model{}, eris.Wrap(ErrInsufficientHistory, "forecast: degenerate day indexes")
	}

	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn
	return Model{Slope: slope, Intercept: intercept}, nil
}

// Predict evaluates the line at a day index.
func (m Model) Predict(dayIndex int) float64 {
	return m.Slope*float64(dayIndex) + m.Intercept
}

// Next fits the last `window` observations and projects one step past the
// final observed day. Negative projections clamp to zero; case counts
// cannot be negative. The result is a point estimate only.
func Next(points []Point, window int) (int, error) {
	if len(points) == 0 {
		return 0, eris.Wrap(ErrInsufficientHistory, "forecast: no observations")
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	if window > 0 && len(sorted) > window {
		sorted = sorted[len(sorted)-window:]
	}

	// Day indexes are relative to the first observation in the window so
	// gaps keep their true spacing.
	base := sorted[0].Date
	obs := make([]Obs, len(sorted))
	for i, p := range sorted {
		obs[i] = Obs{DayIndex: dayIndexOf(base, p.Date), Count: p.Count}
	}

	m, err := Fit(obs)
	if err != nil {
		return 0, err
	}

	next := obs[len(obs)-1].DayIndex + 1
	predicted := m.Predict(next)
	if predicted < 0 {
		return 0, nil
	}
	return int(predicted + 0.5), nil
}

func dayIndexOf(base, date time.Time) int {
	return int(date.Sub(base).Hours() / 24)
}
