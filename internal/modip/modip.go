// Package modip projects geographic coordinates into the modified dip
// latitude (modip) frame used as the regression basis of the ionosphere
// model. Modip follows magnetic field geometry more faithfully than
// geographic latitude, so a low-degree polynomial in (modip, longitude)
// captures the spatial TEC variation with far fewer terms.
package modip

import (
	"math"

	"github.com/judeallred/gotecgg/internal/gnss"
)

const degToRad = math.Pi / 180.0

// Projector maps geographic coordinates to the modip frame using a centred
// tilted dipole field model. A Projector is immutable and safe for
// concurrent use by any number of workers.
type Projector struct {
	poleLat float64 // geomagnetic north pole latitude [rad]
	poleLon float64 // geomagnetic north pole longitude [rad]
}

// NewProjector builds a projector for a dipole with the given geomagnetic
// north pole coordinates in degrees.
func NewProjector(poleLatDeg, poleLonDeg float64) *Projector {
	return &Projector{
		poleLat: poleLatDeg * degToRad,
		poleLon: poleLonDeg * degToRad,
	}
}

// Default returns a projector with the IGRF-13 epoch-2020 dipole pole
// position (80.65 N, 72.68 W).
func Default() *Projector {
	return NewProjector(80.65, -72.68)
}

// Project maps a geographic (latitude, longitude) pair in degrees to
// (modip, longitude) in degrees. Longitude passes through normalised to
// [-180, 180). The only error condition is a latitude outside [-90, 90];
// the projector is otherwise a pure function with no state.
func (p *Projector) Project(latDeg, lonDeg float64) (modipDeg, outLonDeg float64, err error) {
	if latDeg < -90 || latDeg > 90 || math.IsNaN(latDeg) {
		return 0, 0, &gnss.CoordinateError{Name: "latitude", Value: latDeg}
	}
	lonDeg = normalizeLon(lonDeg)

	lat := latDeg * degToRad
	lon := lonDeg * degToRad

	// Magnetic latitude from the dipole pole position.
	sinMagLat := math.Sin(lat)*math.Sin(p.poleLat) +
		math.Cos(lat)*math.Cos(p.poleLat)*math.Cos(lon-p.poleLon)
	magLat := math.Asin(clamp(sinMagLat, -1, 1))

	// Dipole inclination: tan I = 2 tan(magnetic latitude).
	inclination := math.Atan(2 * math.Tan(magLat))

	// Modip: tan(mu) = I / sqrt(cos(latitude)). cos approaches zero at the
	// poles, where modip saturates at +/-90 by definition.
	cosLat := math.Cos(lat)
	if cosLat <= 1e-12 {
		return math.Copysign(90, latDeg), lonDeg, nil
	}
	mu := math.Atan(inclination / math.Sqrt(cosLat))
	return mu / degToRad, lonDeg, nil
}

// ProjectAll projects a slice of (lat, lon) pairs, failing on the first
// out-of-range coordinate.
func (p *Projector) ProjectAll(latDeg, lonDeg []float64) (modip, lon []float64, err error) {
	modip = make([]float64, len(latDeg))
	lon = make([]float64, len(latDeg))
	for i := range latDeg {
		modip[i], lon[i], err = p.Project(latDeg[i], lonDeg[i])
		if err != nil {
			return nil, nil, err
		}
	}
	return modip, lon, nil
}

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
