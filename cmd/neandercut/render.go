package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mjuric/neandertools/internal/metrics"
	"github.com/mjuric/neandertools/internal/pipeline"
	"github.com/mjuric/neandertools/internal/render"

	"github.com/spf13/cobra"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		observer    string
		stepHours   float64
		spanDays    float64
		widenArcsec float64
		bands       []string
		timeoutSec  float64

		height    int
		width     int
		margin    int
		noPad     bool
		matchBG   bool
		matchRMS  bool
		reproject bool

		grid       bool
		gridCols   int
		gifDelayMS int

		workers      int
		cacheEntries int
		outputDir    string
		metricsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "render <target>",
		Short: "Extract cutouts along a target's trajectory and render PNG frames, a GIF and optionally a grid",
		Long: `Render runs the full pipeline for one target: fetch its ephemeris,
match archived exposures along the trajectory, extract a cutout at the
predicted position in each exposure, normalize the frames and write
them out as PNGs plus an animated GIF.

Artifact paths are printed to stdout, one per line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, stop, err := window(cmd)
			if err != nil {
				return err
			}

			cfg := a.settings.PipelineConfig(args[0], start, stop)

			// Flags override the config file only when set explicitly.
			flags := cmd.Flags()
			if flags.Changed("observer") {
				cfg.Observer = observer
			}
			if flags.Changed("step-hours") {
				cfg.Step = time.Duration(stepHours * float64(time.Hour))
			}
			if flags.Changed("span-days") {
				cfg.MaxSpanDays = spanDays
			}
			if flags.Changed("widen-arcsec") {
				cfg.WidenArcsec = widenArcsec
			}
			if flags.Changed("bands") {
				cfg.Bands = bands
			}
			if flags.Changed("timeout-seconds") {
				cfg.RegionTimeout = time.Duration(timeoutSec * float64(time.Second))
			}
			if flags.Changed("height") {
				cfg.CutoutHeight = height
			}
			if flags.Changed("width") {
				cfg.CutoutWidth = width
			}
			if flags.Changed("margin") {
				cfg.BorderMargin = margin
			}
			if flags.Changed("no-pad") {
				cfg.NoPad = noPad
			}
			if flags.Changed("match-background") {
				cfg.MatchBackground = matchBG
			}
			if flags.Changed("match-noise") {
				cfg.MatchNoise = matchRMS
			}
			if flags.Changed("reproject") {
				cfg.Reproject = reproject
			}
			if flags.Changed("grid") {
				cfg.Grid = grid
			}
			if flags.Changed("grid-columns") {
				cfg.GridColumns = gridCols
			}
			if flags.Changed("gif-delay-ms") {
				cfg.GIFDelayMS = gifDelayMS
			}
			if flags.Changed("workers") {
				cfg.Workers = workers
			}
			if flags.Changed("cache-entries") {
				cfg.CacheEntries = cacheEntries
			}
			if flags.Changed("output") {
				cfg.OutputDir = outputDir
			}

			backend, err := a.openArchive()
			if err != nil {
				return err
			}
			defer backend.Close()

			listen := a.settings.MetricsListen
			if flags.Changed("metrics-listen") {
				listen = metricsAddr
			}
			if listen != "" {
				stopMetrics := serveMetrics(listen, a.logger)
				defer stopMetrics()
			}

			p, err := pipeline.New(a.providers(), backend, cfg, a.logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			summary, err := p.Run(ctx)
			if err != nil {
				return err
			}

			for _, path := range summary.Frames {
				fmt.Println(path)
			}
			fmt.Println(summary.GIF)
			if summary.Grid != "" {
				fmt.Println(summary.Grid)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&observer, "observer", "", "MPC observatory code the ephemeris is apparent from")
	flags.Float64Var(&stepHours, "step-hours", pipeline.DefaultStep.Hours(), "Ephemeris sampling step in hours")
	flags.Float64Var(&spanDays, "span-days", pipeline.DefaultMaxSpanDays, "Maximum time span of one search region in days")
	flags.Float64Var(&widenArcsec, "widen-arcsec", pipeline.DefaultWidenArcsec, "Corridor margin around the trajectory in arcseconds")
	flags.StringSliceVar(&bands, "bands", nil, "Restrict matching to these filter bands (default all)")
	flags.Float64Var(&timeoutSec, "timeout-seconds", pipeline.DefaultRegionTimeout.Seconds(), "Timeout per region query in seconds")
	flags.IntVar(&height, "height", pipeline.DefaultCutoutHeight, "Cutout height in pixels")
	flags.IntVar(&width, "width", pipeline.DefaultCutoutWidth, "Cutout width in pixels")
	flags.IntVar(&margin, "margin", 0, "Reject cutouts closer than this to the detector edge, in pixels")
	flags.BoolVar(&noPad, "no-pad", false, "Clip stamps at detector edges instead of padding with NaN")
	flags.BoolVar(&matchBG, "match-background", true, "Subtract each frame's clipped background")
	flags.BoolVar(&matchRMS, "match-noise", false, "Divide each frame by its clipped noise estimate")
	flags.BoolVar(&reproject, "reproject", false, "Resample all frames onto a common sky grid")
	flags.BoolVar(&grid, "grid", false, "Also render a contact-sheet PNG of all frames")
	flags.IntVar(&gridCols, "grid-columns", render.DefaultGridColumns, "Columns in the contact sheet")
	flags.IntVar(&gifDelayMS, "gif-delay-ms", render.DefaultDelayMS, "Delay between GIF frames in milliseconds")
	flags.IntVar(&workers, "workers", 0, "Concurrent cutout extractions (default NumCPU)")
	flags.IntVar(&cacheEntries, "cache-entries", 0, "Decompressed images held in memory (default 16)")
	flags.StringVar(&outputDir, "output", pipeline.DefaultOutputDir, "Directory for rendered artifacts")
	flags.StringVar(&metricsAddr, "metrics-listen", "", "Serve Prometheus metrics on this address while running")
	flags.StringP("start", "s", "", "Window start (RFC 3339 or YYYY-MM-DD)")
	flags.StringP("stop", "e", "", "Window stop")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("stop")

	return cmd
}

// serveMetrics exposes /metrics on addr until the returned stop func is
// called. Failures to serve are logged, not fatal; a broken metrics
// endpoint should not kill a render.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
