package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/melbdata/enrich-cli/internal/geoindex"
)

var (
	stationsLat float64
	stationsLng float64
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Find the nearest train station for a coordinate",
	RunE: func(cmd *cobra.Command, args []string) error {
		stations, err := loadStations()
		if err != nil {
			return err
		}
		if len(stations) == 0 {
			return eris.New("no stations loaded; set geo.stops_file")
		}

		index := geoindex.NewIndex(nil, stations)
		st, km, err := index.NearestStation(stationsLat, stationsLng)
		if err != nil {
			return err
		}

		out := struct {
			StationID  string  `json:"station_id"`
			Name       string  `json:"name"`
			DistanceKM float64 `json:"distance_km"`
		}{
			StationID:  st.ID,
			Name:       st.Name,
			DistanceKM: km,
		}

		// Travel time is best effort; the probe is useful without a timetable.
		graph, direct, graphErr := buildGraph(stations)
		if graphErr == nil && graph != nil {
			if minutes, routeErr := graph.MinutesTo(st.ID); routeErr == nil {
				withTravel := struct {
					StationID         string  `json:"station_id"`
					Name              string  `json:"name"`
					DistanceKM        float64 `json:"distance_km"`
					TravelTimeMinutes int     `json:"travel_time_minutes"`
					DirectJourney     bool    `json:"direct_journey"`
				}{
					StationID:         out.StationID,
					Name:              out.Name,
					DistanceKM:        out.DistanceKM,
					TravelTimeMinutes: minutes,
				}
				_, withTravel.DirectJourney = direct[st.ID]

				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(withTravel)
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	stationsCmd.Flags().Float64Var(&stationsLat, "lat", 0, "latitude (required)")
	stationsCmd.Flags().Float64Var(&stationsLng, "lng", 0, "longitude (required)")
	_ = stationsCmd.MarkFlagRequired("lat")
	_ = stationsCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(stationsCmd)
}
