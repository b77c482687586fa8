package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mjuric/neandertools/internal/ephem"
	"github.com/mjuric/neandertools/internal/match"
	"github.com/mjuric/neandertools/internal/pipeline"
	"github.com/mjuric/neandertools/internal/trajectory"

	"github.com/spf13/cobra"
)

func newMatchesCmd(a *app) *cobra.Command {
	var (
		observer    string
		stepHours   float64
		spanDays    float64
		widenArcsec float64
		bands       []string
		timeoutSec  float64
	)

	cmd := &cobra.Command{
		Use:   "matches <target>",
		Short: "List archived exposures crossing a target's trajectory without extracting cutouts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, stop, err := window(cmd)
			if err != nil {
				return err
			}

			// Reuse the layered pipeline settings so a dry run sees the
			// same knobs a real render would.
			cfg := a.settings.PipelineConfig(args[0], start, stop)
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
			if cfg.Step <= 0 {
				cfg.Step = pipeline.DefaultStep
			}
			if cfg.MaxSpanDays <= 0 {
				cfg.MaxSpanDays = pipeline.DefaultMaxSpanDays
			}
			if cfg.WidenArcsec <= 0 {
				cfg.WidenArcsec = pipeline.DefaultWidenArcsec
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			provider, err := ephem.ForTarget(a.providers(), cfg.Target)
			if err != nil {
				return err
			}
			samples, err := provider.Path(ctx, ephem.PathRequest{
				Target:   cfg.Target,
				Start:    cfg.Start,
				Stop:     cfg.Stop,
				Step:     cfg.Step,
				Observer: cfg.Observer,
			})
			if err != nil {
				return fmt.Errorf("fetching ephemeris: %w", err)
			}

			regions, err := trajectory.Partition(samples, trajectory.PartitionOptions{
				MaxSpanDays: cfg.MaxSpanDays,
				WidenArcsec: cfg.WidenArcsec,
			})
			if err != nil {
				return fmt.Errorf("partitioning trajectory: %w", err)
			}

			backend, err := a.openArchive()
			if err != nil {
				return err
			}
			defer backend.Close()

			found, err := match.New(backend, match.Options{
				Timeout: cfg.RegionTimeout,
				Bands:   cfg.Bands,
			}, a.logger).Find(ctx, regions)
			if err != nil {
				return err
			}

			if len(found) == 0 {
				fmt.Printf("no exposures match %s between %s and %s\n",
					cfg.Target, cfg.Start.Format(time.RFC3339), cfg.Stop.Format(time.RFC3339))
				return nil
			}

			fmt.Printf("%-12s %-8s %-6s %s\n", "VISIT", "DETECTOR", "BAND", "MJD")
			for _, m := range found {
				fmt.Printf("%-12d %-8d %-6s %.5f\n", m.Visit, m.Detector, m.Band, m.MJD)
			}
			fmt.Printf("%d exposures across %d regions\n", len(found), len(regions))
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
	flags.StringP("start", "s", "", "Window start (RFC 3339 or YYYY-MM-DD)")
	flags.StringP("stop", "e", "", "Window stop")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("stop")

	return cmd
}
