package gnss

import "math"

// EarthRadiusKm is the mean Earth radius used by the thin-shell model.
const EarthRadiusKm = 6371.0

// DefaultShellHeight is the default thin-shell ionosphere altitude [m].
const DefaultShellHeight = 350_000.0

// MappingFunction returns the slant-to-vertical thin-shell mapping value for
// a satellite elevation [deg] and pierce point shell height [m]:
//
//	M = cos(asin(Re/(Re+h) * cos(elev)))
//
// Multiplying a slant TEC by M yields the vertical equivalent at the pierce
// point.
func MappingFunction(elevationDeg, shellHeightM float64) float64 {
	ratio := EarthRadiusKm / (EarthRadiusKm + shellHeightM/1000.0)
	return math.Cos(math.Asin(ratio * math.Cos(elevationDeg*math.Pi/180.0)))
}
