// Package ephem acquires target ephemerides: time series of apparent sky
// positions from which search trajectories are built.
//
// Two providers are available. The Horizons provider queries a JPL
// Horizons-compatible ephemeris service over HTTP and serves any body the
// service knows (asteroids, comets, planets, spacecraft). The SGP4 provider
// propagates artificial satellites from two-line element sets and places
// them topocentrically for the requesting observatory, with no network
// dependency beyond the element source.
package ephem

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownTarget reports a target designation the provider's catalog does
// not contain.
var ErrUnknownTarget = errors.New("unknown target")

// ErrNoProvider reports a target designation no configured provider
// recognizes.
var ErrNoProvider = errors.New("no ephemeris provider for target")

// Sample is one point of a target's apparent track.
type Sample struct {
	Time time.Time
	MJD  float64
	RA   float64 // degrees, [0, 360)
	Dec  float64 // degrees

	// Uncertainty is the plane-of-sky 3-sigma positional uncertainty in
	// arcseconds, 0 when the source reports none.
	Uncertainty float64
}

// PathRequest describes the ephemeris arc to compute.
type PathRequest struct {
	// Target is the object designation: a small-body name or number for the
	// ephemeris service ("2005 UD", "308635"), or "sat:NNNNN" with a NORAD
	// catalog number for the SGP4 provider.
	Target string

	Start time.Time
	Stop  time.Time
	Step  time.Duration

	// Observer is the MPC observatory code the positions are apparent from.
	Observer string
}

// Validate rejects requests no provider could serve.
func (r PathRequest) Validate() error {
	if r.Target == "" {
		return fmt.Errorf("empty target designation")
	}
	if r.Observer == "" {
		return fmt.Errorf("empty observer code")
	}
	if !r.Stop.After(r.Start) {
		return fmt.Errorf("stop %v not after start %v", r.Stop, r.Start)
	}
	if r.Step <= 0 {
		return fmt.Errorf("non-positive step %v", r.Step)
	}
	return nil
}

// Provider supplies ephemeris paths for targets it recognizes.
type Provider interface {
	// Name identifies the provider in logs and diagnostics.
	Name() string

	// Available reports whether this provider can serve the target.
	Available(target string) bool

	// Path returns the target's apparent track over the requested range,
	// sampled every Step, in strictly increasing time order.
	Path(ctx context.Context, req PathRequest) ([]Sample, error)
}

// ForTarget returns the first provider that recognizes the target.
func ForTarget(providers []Provider, target string) (Provider, error) {
	for _, p := range providers {
		if p.Available(target) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoProvider, target)
}

// ensureIncreasing verifies strictly increasing sample times, the contract
// every provider must meet.
func ensureIncreasing(samples []Sample) error {
	for i := 1; i < len(samples); i++ {
		if samples[i].MJD <= samples[i-1].MJD {
			return fmt.Errorf("ephemeris rows out of order at index %d (MJD %.8f after %.8f)",
				i, samples[i].MJD, samples[i-1].MJD)
		}
	}
	return nil
}
