package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mjuric/neandertools/internal/ephem"
	"github.com/mjuric/neandertools/internal/trajectory"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fmt.Println("usage: ephemdiag <target> [hours]")
		os.Exit(1)
	}
	target := os.Args[1]

	hours := 24.0
	if len(os.Args) > 2 {
		v, err := strconv.ParseFloat(os.Args[2], 64)
		if err != nil {
			fmt.Println("ERROR parsing hours:", err)
			os.Exit(1)
		}
		hours = v
	}

	client := ephem.NewHorizonsClient(os.Getenv("NEANDER_HORIZONS_URL"), logger)

	stop := time.Now().UTC()
	start := stop.Add(-time.Duration(hours * float64(time.Hour)))
	fmt.Printf("Window: %s .. %s\n", start.Format(time.RFC3339), stop.Format(time.RFC3339))

	samples, err := client.Path(context.Background(), ephem.PathRequest{
		Target:   target,
		Start:    start,
		Stop:     stop,
		Step:     time.Hour,
		Observer: "500",
	})
	if err != nil {
		fmt.Println("ERROR fetching ephemeris:", err)
		os.Exit(1)
	}

	fmt.Printf("Fetched %d samples for %s\n", len(samples), target)
	for i, s := range samples {
		fmt.Printf("  sample %d: mjd=%.5f ra=%.6f dec=%.6f unc=%.2f\"\n", i, s.MJD, s.RA, s.Dec, s.Uncertainty)
	}

	regions, err := trajectory.Partition(samples, trajectory.PartitionOptions{
		MaxSpanDays: 1,
		WidenArcsec: 60,
	})
	if err != nil {
		fmt.Println("ERROR partitioning:", err)
		os.Exit(1)
	}

	fmt.Printf("\nPartitioned into %d regions\n", len(regions))
	for i, r := range regions {
		fmt.Printf("  region %d: mjd %.5f..%.5f vertices=%d\n", i, r.StartMJD, r.EndMJD, len(r.Polygon))
	}
}
