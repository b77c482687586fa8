// Command neandercut extracts, aligns and animates cutouts of a moving
// object from a survey image archive. Subcommands cover the full
// pipeline (render), a dry run of exposure matching (matches) and local
// archive management (archive ingest, archive info).
//
// Diagnostics go to stderr as JSON logs; stdout carries only the
// artifact paths and tables the subcommands print.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mjuric/neandertools/internal/archive/local"
	"github.com/mjuric/neandertools/internal/config"
	"github.com/mjuric/neandertools/internal/ephem"

	"github.com/spf13/cobra"
)

// version is stamped at release time via -ldflags "-X main.version=...".
var version = "dev"

// app holds state shared by every subcommand: the layered settings and
// the logger derived from them. Filled in by PersistentPreRunE, after
// flag parsing.
type app struct {
	configPath string
	debug      bool

	settings config.Settings
	logger   *slog.Logger
}

func (a *app) init() error {
	// Bootstrap logger for messages emitted while loading the config
	// that decides the real level.
	boot := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	settings, err := config.Load(a.configPath, boot)
	if err != nil {
		return err
	}
	a.settings = settings

	level := settings.Level()
	if a.debug {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

// openArchive opens the configured local archive for reading.
func (a *app) openArchive() (*local.Store, error) {
	store, err := local.Open(a.settings.ArchiveDir, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", a.settings.ArchiveDir, err)
	}
	return store, nil
}

// providers returns the ephemeris providers in preference order:
// Horizons for solar-system designations, SGP4 for sat:NNNNN targets
// when a TLE source is configured.
func (a *app) providers() []ephem.Provider {
	ps := []ephem.Provider{ephem.NewHorizonsClient(a.settings.HorizonsURL, a.logger)}
	if a.settings.TLESource != "" {
		ps = append(ps, ephem.NewSGP4Provider(a.settings.TLESource, a.logger))
	}
	return ps
}

// timeFormats accepted by --start and --stop, tried in order. A bare
// date means midnight UTC.
var timeFormats = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (want RFC 3339 or YYYY-MM-DD)", s)
}

// window parses the shared --start/--stop flags.
func window(cmd *cobra.Command) (start, stop time.Time, err error) {
	startStr, _ := cmd.Flags().GetString("start")
	stopStr, _ := cmd.Flags().GetString("stop")
	if start, err = parseTime(startStr); err != nil {
		return start, stop, fmt.Errorf("--start: %w", err)
	}
	if stop, err = parseTime(stopStr); err != nil {
		return start, stop, fmt.Errorf("--stop: %w", err)
	}
	return start, stop, nil
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "neandercut",
		Short:         "Cutout pipeline for moving objects in survey image archives",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/neandertools/config.yaml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newRenderCmd(a))
	root.AddCommand(newMatchesCmd(a))
	root.AddCommand(newArchiveCmd(a))
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
