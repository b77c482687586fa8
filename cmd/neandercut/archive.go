package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/archive/local"

	"github.com/spf13/cobra"
)

func newArchiveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage the local image archive",
	}

	cmd.AddCommand(newArchiveIngestCmd(a))
	cmd.AddCommand(newArchiveInfoCmd(a))
	return cmd
}

func newArchiveIngestCmd(a *app) *cobra.Command {
	var (
		dir   string
		noWCS bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <manifest>",
		Short: "Load exposures listed in a manifest into the local archive",
		Long: `Ingest reads a YAML manifest describing exposures and their pixel
files and loads them into the local archive, initializing it on first
use. Pixel file paths in the manifest are resolved relative to the
manifest's directory. Re-ingesting a visit/detector pair replaces it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("dir") {
				dir = a.settings.ArchiveDir
			}

			caps := archive.CapWCS
			if noWCS {
				caps = 0
			}
			store, err := local.Create(dir, caps, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := local.LoadManifest(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			n, err := store.Ingest(ctx, m, filepath.Dir(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("ingested %d images into %s\n", n, dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Archive directory (default from config)")
	cmd.Flags().BoolVar(&noWCS, "no-wcs", false, "Initialize the archive without astrometric solutions")
	return cmd
}

func newArchiveInfoCmd(a *app) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Summarize the local archive's contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("dir") {
				dir = a.settings.ArchiveDir
			}

			store, err := local.Open(dir, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			info, err := store.Summarize(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("%-14s %s\n", "archive:", dir)
			fmt.Printf("%-14s %d\n", "images:", info.Images)
			fmt.Printf("%-14s %d\n", "visits:", info.Visits)
			fmt.Printf("%-14s %s\n", "bands:", strings.Join(info.Bands, ","))
			if info.Images > 0 {
				fmt.Printf("%-14s %.5f .. %.5f\n", "mjd range:", info.MJDMin, info.MJDMax)
			}
			fmt.Printf("%-14s %s\n", "capabilities:", info.Capabilities)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Archive directory (default from config)")
	return cmd
}
