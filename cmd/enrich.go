package main

import (
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/melbdata/enrich-cli/internal/ingest"
)

var (
	enrichInputs []string
	enrichOutput string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich a property dataset",
	Long:  "Reads property records from JSON, XML, CSV, or XLSX files, enriches each with boundary, station, travel, and case data, and writes the result as CSV.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := ingest.LoadProperties(ctx, enrichInputs)
		if err != nil {
			return eris.Wrap(err, "load properties")
		}
		if len(rows) == 0 {
			return eris.New("no property records in input")
		}

		result, err := env.Pipeline.Run(ctx, rows)
		if err != nil {
			return eris.Wrap(err, "enrichment run")
		}

		out, err := csvutil.Marshal(result.Rows)
		if err != nil {
			return eris.Wrap(err, "encode output")
		}

		if enrichOutput == "" {
			if _, err := os.Stdout.Write(out); err != nil {
				return eris.Wrap(err, "write output")
			}
		} else if err := os.WriteFile(enrichOutput, out, 0o644); err != nil {
			return eris.Wrap(err, "write output file")
		}

		fields := []zap.Field{
			zap.String("run_id", result.RunID),
			zap.Int("properties", len(result.Rows)),
		}
		for _, stage := range result.Stages {
			if stage.Failures > 0 {
				fields = append(fields, zap.Int(stage.Name+"_failures", stage.Failures))
			}
		}
		zap.L().Info("enrichment complete", fields...)
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringSliceVar(&enrichInputs, "input", nil, "property input file (repeatable; .json, .xml, .csv, or .xlsx)")
	enrichCmd.Flags().StringVar(&enrichOutput, "output", "", "output CSV path (default stdout)")
	_ = enrichCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(enrichCmd)
}
