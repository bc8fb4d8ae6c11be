package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/melbdata/enrich-cli/internal/casedata"
	"github.com/melbdata/enrich-cli/internal/forecast"
)

var (
	forecastRegion string
	forecastWindow int
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast next-day cases for one region",
	Long:  "Fits a linear trend over the recent daily case changes for a suburb or LGA and prints the projected next-day count.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		merger, _, err := loadCaseData(ctx)
		if err != nil {
			return err
		}

		history, lgaTotal, err := merger.History(forecastRegion)
		if err != nil {
			return err
		}

		window := forecastWindow
		if window <= 0 {
			window = cfg.Forecast.WindowDays
		}

		daily := casedata.DailyChanges(history)
		points := make([]forecast.Point, len(daily))
		for i, d := range daily {
			points[i] = forecast.Point{Date: d.Date, Count: d.Count}
		}

		predicted, err := forecast.Next(points, window)
		if err != nil {
			return eris.Wrapf(err, "forecast %s", forecastRegion)
		}

		last := history[len(history)-1].Date
		out := struct {
			Region      string `json:"region"`
			Date        string `json:"date"`
			Forecast    int    `json:"forecast_case_count"`
			Approximate bool   `json:"approximate"`
			Window      int    `json:"window_days"`
		}{
			Region:      forecastRegion,
			Date:        last.AddDate(0, 0, 1).Format("2006-01-02"),
			Forecast:    predicted,
			Approximate: lgaTotal,
			Window:      window,
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	forecastCmd.Flags().StringVar(&forecastRegion, "region", "", "suburb or LGA name (required)")
	forecastCmd.Flags().IntVar(&forecastWindow, "window", 0, "trailing days to fit (default from config)")
	_ = forecastCmd.MarkFlagRequired("region")
	rootCmd.AddCommand(forecastCmd)
}
