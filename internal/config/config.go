// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Geo       GeoConfig       `yaml:"geo" mapstructure:"geo"`
	Graph     GraphConfig     `yaml:"graph" mapstructure:"graph"`
	Cases     CasesConfig     `yaml:"cases" mapstructure:"cases"`
	Forecast  ForecastConfig  `yaml:"forecast" mapstructure:"forecast"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Covidlive CovidliveConfig `yaml:"covidlive" mapstructure:"covidlive"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the sqlite store.
type StoreConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// GeoConfig locates the boundary and station reference datasets.
type GeoConfig struct {
	SuburbShapefile string `yaml:"suburb_shapefile" mapstructure:"suburb_shapefile"`
	SuburbNameField string `yaml:"suburb_name_field" mapstructure:"suburb_name_field"`
	LGAShapefile    string `yaml:"lga_shapefile" mapstructure:"lga_shapefile"`
	LGANameField    string `yaml:"lga_name_field" mapstructure:"lga_name_field"`
	PopulationField string `yaml:"population_field" mapstructure:"population_field"`
	StopsFile       string `yaml:"stops_file" mapstructure:"stops_file"`
	StopTimesFile   string `yaml:"stop_times_file" mapstructure:"stop_times_file"`
	TripsFile       string `yaml:"trips_file" mapstructure:"trips_file"`
	CalendarFile    string `yaml:"calendar_file" mapstructure:"calendar_file"`
}

// GraphConfig configures travel-time computation to the fixed destination.
type GraphConfig struct {
	DestinationName   string `yaml:"destination_name" mapstructure:"destination_name"`
	DestinationStopID string `yaml:"destination_stop_id" mapstructure:"destination_stop_id"`
	WindowStartHour   int    `yaml:"window_start_hour" mapstructure:"window_start_hour"`
	WindowEndHour     int    `yaml:"window_end_hour" mapstructure:"window_end_hour"`
}

// CasesConfig configures case-data reconciliation.
type CasesConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	AsOfDate            string  `yaml:"as_of_date" mapstructure:"as_of_date"`

	// SuburbFile and LGAFile are cumulative case CSVs. SuburbLGAMapFile maps
	// suburb names to their LGA. FetchLGAs lists LGAs to pull live from
	// covidlive when no LGAFile is configured.
	SuburbFile       string   `yaml:"suburb_file" mapstructure:"suburb_file"`
	LGAFile          string   `yaml:"lga_file" mapstructure:"lga_file"`
	SuburbLGAMapFile string   `yaml:"suburb_lga_map_file" mapstructure:"suburb_lga_map_file"`
	FetchLGAs        []string `yaml:"fetch_lgas" mapstructure:"fetch_lgas"`
}

// AsOf parses the configured as-of date.
func (c CasesConfig) AsOf() (time.Time, error) {
	d, err := time.Parse("2006-01-02", c.AsOfDate)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: parse as_of_date %q", c.AsOfDate)
	}
	return d, nil
}

// ForecastConfig configures the trend forecast.
type ForecastConfig struct {
	WindowDays int `yaml:"window_days" mapstructure:"window_days"`
}

// PipelineConfig configures enrichment execution.
type PipelineConfig struct {
	Workers      int    `yaml:"workers" mapstructure:"workers"`
	DefaultsFile string `yaml:"defaults_file" mapstructure:"defaults_file"`
}

// CovidliveConfig configures the live case-data source.
type CovidliveConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.dsn", "enrich.db")
	v.SetDefault("geo.suburb_name_field", "VIC_LOCA_2")
	v.SetDefault("geo.lga_name_field", "LGA_NAME")
	v.SetDefault("graph.destination_name", "Melbourne Central")
	v.SetDefault("graph.destination_stop_id", "19842")
	v.SetDefault("graph.window_start_hour", 7)
	v.SetDefault("graph.window_end_hour", 9)
	v.SetDefault("cases.similarity_threshold", 0.85)
	v.SetDefault("cases.as_of_date", "2021-09-30")
	v.SetDefault("forecast.window_days", 14)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("covidlive.base_url", "https://covidlive.com.au")
	v.SetDefault("covidlive.requests_per_second", 2.0)
	v.SetDefault("covidlive.max_attempts", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
