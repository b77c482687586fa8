package ephem

import (
	"fmt"
	"sort"

	"github.com/mjuric/neandertools/internal/transform"
)

// Observatory is a ground station from the MPC observatory list, with the
// geodetic position needed for topocentric placement.
type Observatory struct {
	Code string
	Name string

	// Position is the precomputed observer location. Zero (origin ECEF) for
	// the geocenter, where apparent positions are geocentric.
	Position transform.ObserverPosition

	Geocentric bool
}

// observatories covers the survey sites the pipeline is pointed at plus the
// geocenter. The ephemeris service accepts any MPC code directly; this table
// only gates satellite propagation, which needs coordinates locally.
var observatories = map[string]Observatory{
	"500": {Code: "500", Name: "Geocenter", Geocentric: true},
	"X05": {Code: "X05", Name: "Simonyi Survey Telescope, Cerro Pachon", Position: transform.NewObserverPosition(-30.2446, -70.7494, 2663)},
	"W84": {Code: "W84", Name: "Cerro Tololo-DECam", Position: transform.NewObserverPosition(-30.1697, -70.8065, 2207)},
	"I11": {Code: "I11", Name: "Gemini South", Position: transform.NewObserverPosition(-30.2408, -70.7367, 2722)},
	"568": {Code: "568", Name: "Mauna Kea", Position: transform.NewObserverPosition(19.8262, -155.4681, 4215)},
	"T14": {Code: "T14", Name: "Haleakala-Pan-STARRS 1", Position: transform.NewObserverPosition(20.7073, -156.2572, 3052)},
	"695": {Code: "695", Name: "Kitt Peak", Position: transform.NewObserverPosition(31.9599, -111.5997, 2120)},
	"703": {Code: "703", Name: "Catalina Sky Survey", Position: transform.NewObserverPosition(32.4170, -110.7323, 2510)},
	"G96": {Code: "G96", Name: "Mount Lemmon Survey", Position: transform.NewObserverPosition(32.4428, -110.7886, 2791)},
}

// LookupObservatory resolves an MPC observatory code to a ground station.
func LookupObservatory(code string) (Observatory, error) {
	obs, ok := observatories[code]
	if !ok {
		return Observatory{}, fmt.Errorf("observatory code %q not in the local site table (known: %v)", code, ObservatoryCodes())
	}
	return obs, nil
}

// ObservatoryCodes lists the locally known site codes in sorted order.
func ObservatoryCodes() []string {
	codes := make([]string, 0, len(observatories))
	for code := range observatories {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
