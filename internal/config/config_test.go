package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	s := Default()
	if s.Observer != "X05" {
		t.Errorf("Observer = %q, want X05", s.Observer)
	}
	if s.OutputDir == "" || s.LogLevel != "info" {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.MatchBackground != nil {
		t.Error("MatchBackground should be unset by default")
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
observer: W84
archive_dir: /data/archive
step_hours: 12
bands: [g, r]
cutout_height: 64
cutout_width: 64
match_background: false
match_noise: true
workers: 4
`)
	s, err := Load(path, testLogger)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Observer != "W84" || s.ArchiveDir != "/data/archive" {
		t.Errorf("observer/archive = %q/%q", s.Observer, s.ArchiveDir)
	}
	if s.StepHours != 12 || s.Workers != 4 {
		t.Errorf("step/workers = %g/%d", s.StepHours, s.Workers)
	}
	if len(s.Bands) != 2 || s.Bands[0] != "g" || s.Bands[1] != "r" {
		t.Errorf("bands = %v", s.Bands)
	}
	if s.MatchBackground == nil || *s.MatchBackground {
		t.Error("match_background: false not honored")
	}
	if !s.MatchNoise {
		t.Error("match_noise: true not honored")
	}
	// Untouched keys keep their defaults.
	if s.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", s.LogLevel)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	t.Run("explicit path errors", func(t *testing.T) {
		if _, err := Load(missing, testLogger); err == nil {
			t.Fatal("expected error for explicit missing file")
		}
	})
	t.Run("default path tolerated", func(t *testing.T) {
		t.Setenv("NEANDER_CONFIG", missing)
		s, err := Load("", testLogger)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if s.Observer != "X05" {
			t.Errorf("expected defaults, got %+v", s)
		}
	})
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "observer: W84\nworkers: 4\n")
	t.Setenv("NEANDER_OBSERVER", "695")
	t.Setenv("NEANDER_BANDS", " g , r ,")
	t.Setenv("NEANDER_WORKERS", "8")
	t.Setenv("NEANDER_CACHE_ENTRIES", "not-a-number")

	s, err := Load(path, testLogger)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Observer != "695" {
		t.Errorf("Observer = %q, want env override 695", s.Observer)
	}
	if s.Workers != 8 {
		t.Errorf("Workers = %d, want 8", s.Workers)
	}
	if len(s.Bands) != 2 || s.Bands[0] != "g" || s.Bands[1] != "r" {
		t.Errorf("Bands = %v, want trimmed [g r]", s.Bands)
	}
	if s.CacheEntries != 0 {
		t.Errorf("CacheEntries = %d, malformed env must not apply", s.CacheEntries)
	}
}

func TestPipelineConfig(t *testing.T) {
	off := false
	s := Settings{
		Observer:        "X05",
		StepHours:       12,
		MaxSpanDays:     2,
		WidenArcsec:     30,
		Bands:           []string{"r"},
		CutoutHeight:    64,
		CutoutWidth:     48,
		BorderMargin:    5,
		MatchBackground: &off,
		OutputDir:       "out",
	}
	start := time.Date(2023, 2, 25, 0, 0, 0, 0, time.UTC)
	stop := start.Add(24 * time.Hour)

	cfg := s.PipelineConfig("2005 UD", start, stop)
	if cfg.Target != "2005 UD" || cfg.Observer != "X05" {
		t.Errorf("target/observer = %q/%q", cfg.Target, cfg.Observer)
	}
	if cfg.Step != 12*time.Hour {
		t.Errorf("Step = %v, want 12h", cfg.Step)
	}
	if cfg.CutoutHeight != 64 || cfg.CutoutWidth != 48 || cfg.BorderMargin != 5 {
		t.Errorf("shape/margin = %d/%d/%d", cfg.CutoutHeight, cfg.CutoutWidth, cfg.BorderMargin)
	}
	if cfg.MatchBackground {
		t.Error("explicit match_background: false must map through")
	}

	t.Run("background matching defaults on", func(t *testing.T) {
		cfg := Settings{}.PipelineConfig("x", start, stop)
		if !cfg.MatchBackground {
			t.Error("unset MatchBackground should default to true")
		}
	})
}

func TestLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := (Settings{LogLevel: tc.in}).Level(); got != tc.want {
			t.Errorf("Level(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
