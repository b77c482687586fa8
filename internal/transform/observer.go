package transform

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// ObserverPosition holds a ground observer's location in both geodetic and ECEF frames.
// ECEF coordinates are precomputed once so they can be reused across many epochs.
type ObserverPosition struct {
	LatRad, LonRad, AltM float64 // geodetic (radians, meters above ellipsoid)
	ECEFx, ECEFy, ECEFz  float64 // precomputed ECEF (meters)
}

// NewObserverPosition creates an ObserverPosition from geodetic coordinates.
// Latitude and longitude are in degrees, altitude in meters above the WGS-84 ellipsoid.
func NewObserverPosition(latDeg, lonDeg, altM float64) ObserverPosition {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	sinLon := math.Sin(lon)
	cosLon := math.Cos(lon)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	x := (N + altM) * cosLat * cosLon
	y := (N + altM) * cosLat * sinLon
	z := (N*(1-wgs84E2) + altM) * sinLat

	return ObserverPosition{
		LatRad: lat,
		LonRad: lon,
		AltM:   altM,
		ECEFx:  x,
		ECEFy:  y,
		ECEFz:  z,
	}
}

// PositionTEME is an inertial (True Equator Mean Equinox) position in km,
// the output frame of SGP4 propagation.
type PositionTEME struct {
	X, Y, Z float64
}

// TopocentricRADec computes the topocentric right ascension and declination
// (degrees) of an inertial position as seen by a ground observer, using a
// precomputed GMST angle (radians). Compute GMST once per epoch when placing
// many targets at the same time.
//
// The observer's ECEF position is rotated into the inertial frame by R3(-θ),
// the inverse of the Vallado TEME→PEF rotation:
//
//	r_inertial = R3(-θ_GMST) * r_ECEF
//
// The range vector from observer to target then gives RA = atan2(ρy, ρx)
// and Dec = asin(ρz/|ρ|). TEME is treated as the equator-of-date frame;
// omitted precession/nutation terms stay below the search-corridor scale.
func TopocentricRADec(obs ObserverPosition, target PositionTEME, gmst float64) (raDeg, decDeg float64) {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	// Observer ECEF (meters) rotated into the inertial frame, in km.
	ox := (obs.ECEFx*cosG - obs.ECEFy*sinG) / 1000.0
	oy := (obs.ECEFx*sinG + obs.ECEFy*cosG) / 1000.0
	oz := obs.ECEFz / 1000.0

	// Range vector observer → target in km.
	rx := target.X - ox
	ry := target.Y - oy
	rz := target.Z - oz

	rho := math.Sqrt(rx*rx + ry*ry + rz*rz)

	ra := math.Atan2(ry, rx) * 180.0 / math.Pi
	if ra < 0 {
		ra += 360.0
	}
	dec := math.Asin(rz/rho) * 180.0 / math.Pi

	return ra, dec
}
