package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/melbdata/enrich-cli/internal/casedata"
	"github.com/melbdata/enrich-cli/internal/forecast"
	"github.com/melbdata/enrich-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/enrich", func(w http.ResponseWriter, req *http.Request) {
			var row model.PropertyRow
			if decErr := json.NewDecoder(req.Body).Decode(&row); decErr != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if row.ID == "" {
				writeError(w, http.StatusBadRequest, "property_id is required")
				return
			}

			result, runErr := env.Pipeline.Run(req.Context(), []model.PropertyRow{row})
			if runErr != nil {
				zap.L().Error("enrich request failed",
					zap.String("property_id", row.ID),
					zap.Error(runErr),
				)
				writeError(w, http.StatusInternalServerError, "enrichment failed")
				return
			}

			writeJSON(w, http.StatusOK, struct {
				RunID    string          `json:"run_id"`
				Property model.ExportRow `json:"property"`
			}{RunID: result.RunID, Property: result.Rows[0]})
		})

		r.Get("/forecast/{region}", func(w http.ResponseWriter, req *http.Request) {
			region := chi.URLParam(req, "region")

			history, lgaTotal, histErr := env.Merger.History(region)
			if histErr != nil {
				writeError(w, http.StatusNotFound, "unknown region")
				return
			}

			daily := casedata.DailyChanges(history)
			points := make([]forecast.Point, len(daily))
			for i, d := range daily {
				points[i] = forecast.Point{Date: d.Date, Count: d.Count}
			}

			predicted, fcErr := forecast.Next(points, cfg.Forecast.WindowDays)
			if fcErr != nil {
				writeError(w, http.StatusUnprocessableEntity, "insufficient history")
				return
			}

			last := history[len(history)-1].Date
			writeJSON(w, http.StatusOK, struct {
				Region      string `json:"region"`
				Date        string `json:"date"`
				Forecast    int    `json:"forecast_case_count"`
				Approximate bool   `json:"approximate"`
			}{
				Region:      region,
				Date:        last.AddDate(0, 0, 1).Format("2006-01-02"),
				Forecast:    predicted,
				Approximate: lgaTotal,
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
