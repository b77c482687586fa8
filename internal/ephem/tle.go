package ephem

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// tleSet holds one satellite's two-line element set, keyed by NORAD catalog
// number in the provider's lookup table.
type tleSet struct {
	noradID int
	name    string
	epoch   time.Time
	line1   string
	line2   string
}

// parseTLESets reads 3-line NORAD element sets from r into a lookup table by
// catalog number. Malformed entries are skipped with a warning; a satellite
// appearing twice keeps the later (fresher-epoch) entry.
func parseTLESets(r io.Reader, logger *slog.Logger) (map[int]tleSet, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element sets: %w", err)
	}

	sets := make(map[int]tleSet)
	for i := 0; i+2 < len(lines); {
		name := strings.TrimSpace(lines[i])
		line1 := lines[i+1]
		line2 := lines[i+2]

		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			logger.Warn("skipping malformed element set", "line_index", i, "name", name)
			i++
			continue
		}
		if len(line1) < 32 {
			logger.Warn("skipping element set with short line 1", "name", name)
			i += 3
			continue
		}

		// NORAD catalog number sits in columns 3-7 of line 1.
		noradID, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
		if err != nil {
			logger.Warn("skipping element set with invalid catalog number", "name", name)
			i += 3
			continue
		}

		epoch, err := parseTLEEpoch(strings.TrimSpace(line1[18:32]))
		if err != nil {
			logger.Warn("skipping element set with invalid epoch", "name", name, "error", err)
			i += 3
			continue
		}

		if prev, ok := sets[noradID]; !ok || epoch.After(prev.epoch) {
			sets[noradID] = tleSet{
				noradID: noradID,
				name:    name,
				epoch:   epoch,
				line1:   line1,
				line2:   line2,
			}
		}
		i += 3
	}

	return sets, nil
}

// parseTLEEpoch converts an element-set epoch in YYDDD.DDDDDDDD form to
// time.Time. Years 00-56 map to the 2000s, 57-99 to the 1900s.
func parseTLEEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year in %q: %w", s, err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day in %q: %w", s, err)
	}

	// Day 1 is January 1.
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

// validateTLELines performs format validation before handing lines to the
// SGP4 library, which calls log.Fatal on garbage input.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line 1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line 2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line 1 must start with '1', got %q", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line 2 must start with '2', got %q", line2[0])
	}
	return nil
}
