// Package config layers the tool's settings: built-in defaults, then
// the YAML config file, then NEANDER_* environment variables. Flags
// bound by the CLI override all three.
//
// The file lives at $NEANDER_CONFIG if set, otherwise
// $XDG_CONFIG_HOME/neandertools/config.yaml (defaulting to
// ~/.config/neandertools/config.yaml).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mjuric/neandertools/internal/pipeline"
)

// Settings is the merged configuration. Field defaults follow
// Default(); zero values mean "use the pipeline default".
type Settings struct {
	Observer    string `yaml:"observer,omitempty"`
	ArchiveDir  string `yaml:"archive_dir,omitempty"`
	HorizonsURL string `yaml:"horizons_url,omitempty"`
	TLESource   string `yaml:"tle_source,omitempty"`

	StepHours            float64  `yaml:"step_hours,omitempty"`
	MaxSpanDays          float64  `yaml:"max_span_days,omitempty"`
	WidenArcsec          float64  `yaml:"widen_arcsec,omitempty"`
	Bands                []string `yaml:"bands,omitempty"`
	RegionTimeoutSeconds float64  `yaml:"region_timeout_seconds,omitempty"`

	CutoutHeight int  `yaml:"cutout_height,omitempty"`
	CutoutWidth  int  `yaml:"cutout_width,omitempty"`
	BorderMargin int  `yaml:"border_margin,omitempty"`
	NoPad        bool `yaml:"no_pad,omitempty"`

	// MatchBackground defaults to on; nil means unset.
	MatchBackground *bool `yaml:"match_background,omitempty"`
	MatchNoise      bool  `yaml:"match_noise,omitempty"`
	Reproject       bool  `yaml:"reproject,omitempty"`

	Grid        bool `yaml:"grid,omitempty"`
	GridColumns int  `yaml:"grid_columns,omitempty"`
	GIFDelayMS  int  `yaml:"gif_delay_ms,omitempty"`

	Workers      int    `yaml:"workers,omitempty"`
	CacheEntries int    `yaml:"cache_entries,omitempty"`
	OutputDir    string `yaml:"output_dir,omitempty"`

	LogLevel      string `yaml:"log_level,omitempty"`
	MetricsListen string `yaml:"metrics_listen,omitempty"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Observer:   "X05",
		ArchiveDir: "archive",
		OutputDir:  pipeline.DefaultOutputDir,
		LogLevel:   "info",
	}
}

// DefaultPath returns the config file location.
func DefaultPath() string {
	if p := os.Getenv("NEANDER_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "neandertools", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "neandertools", "config.yaml")
}

// Load builds Settings from defaults, the YAML file at path, and the
// environment, in that order. An empty path uses DefaultPath, where a
// missing file is fine; a path given explicitly must exist.
func Load(path string, logger *slog.Logger) (Settings, error) {
	s := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No file is a valid state.
	default:
		return s, fmt.Errorf("read config: %w", err)
	}

	s.applyEnv(logger)
	return s, nil
}

// applyEnv overlays NEANDER_* variables. Malformed values keep the
// prior setting with a warning, never abort.
func (s *Settings) applyEnv(logger *slog.Logger) {
	if v := os.Getenv("NEANDER_OBSERVER"); v != "" {
		s.Observer = v
	}
	if v := os.Getenv("NEANDER_ARCHIVE_DIR"); v != "" {
		s.ArchiveDir = v
	}
	if v := os.Getenv("NEANDER_HORIZONS_URL"); v != "" {
		s.HorizonsURL = v
	}
	if v := os.Getenv("NEANDER_TLE_SOURCE"); v != "" {
		s.TLESource = v
	}
	if v := os.Getenv("NEANDER_OUTPUT_DIR"); v != "" {
		s.OutputDir = v
	}
	if v := os.Getenv("NEANDER_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("NEANDER_METRICS_LISTEN"); v != "" {
		s.MetricsListen = v
	}

	if v := os.Getenv("NEANDER_BANDS"); v != "" {
		var bands []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				bands = append(bands, b)
			}
		}
		s.Bands = bands
	}

	if v := os.Getenv("NEANDER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid NEANDER_WORKERS value, keeping previous", "value", v)
		} else {
			s.Workers = n
		}
	}
	if v := os.Getenv("NEANDER_CACHE_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid NEANDER_CACHE_ENTRIES value, keeping previous", "value", v)
		} else {
			s.CacheEntries = n
		}
	}
}

// PipelineConfig maps the settings onto a run over [start, stop] for
// one target.
func (s Settings) PipelineConfig(target string, start, stop time.Time) pipeline.Config {
	matchBG := true
	if s.MatchBackground != nil {
		matchBG = *s.MatchBackground
	}
	return pipeline.Config{
		Target:          target,
		Start:           start,
		Stop:            stop,
		Step:            time.Duration(s.StepHours * float64(time.Hour)),
		Observer:        s.Observer,
		MaxSpanDays:     s.MaxSpanDays,
		WidenArcsec:     s.WidenArcsec,
		Bands:           s.Bands,
		RegionTimeout:   time.Duration(s.RegionTimeoutSeconds * float64(time.Second)),
		CutoutHeight:    s.CutoutHeight,
		CutoutWidth:     s.CutoutWidth,
		BorderMargin:    s.BorderMargin,
		NoPad:           s.NoPad,
		MatchBackground: matchBG,
		MatchNoise:      s.MatchNoise,
		Reproject:       s.Reproject,
		Grid:            s.Grid,
		GridColumns:     s.GridColumns,
		GIFDelayMS:      s.GIFDelayMS,
		Workers:         s.Workers,
		CacheEntries:    s.CacheEntries,
		OutputDir:       s.OutputDir,
	}
}

// Level parses the configured log level, defaulting to info.
func (s Settings) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
