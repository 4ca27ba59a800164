package modip

import (
	"errors"
	"math"
	"testing"

	"github.com/judeallred/gotecgg/internal/gnss"
)

// TestProjectPoles verifies the saturation convention at the geographic
// poles.
func TestProjectPoles(t *testing.T) {
	p := Default()

	mu, _, err := p.Project(90, 0)
	if err != nil {
		t.Fatalf("north pole: %v", err)
	}
	if mu != 90 {
		t.Errorf("modip at north pole = %.4f, expected 90", mu)
	}

	mu, _, err = p.Project(-90, 45)
	if err != nil {
		t.Fatalf("south pole: %v", err)
	}
	if mu != -90 {
		t.Errorf("modip at south pole = %.4f, expected -90", mu)
	}
}

// TestProjectMonotonicAlongPoleMeridian checks that modip grows with
// latitude along the meridian through the dipole pole, where the dipole
// field is symmetric.
func TestProjectMonotonicAlongPoleMeridian(t *testing.T) {
	p := Default()
	prev := -91.0
	for lat := -85.0; lat <= 85.0; lat += 5 {
		mu, _, err := p.Project(lat, -72.68)
		if err != nil {
			t.Fatalf("Project(%.0f): %v", lat, err)
		}
		if mu <= prev {
			t.Fatalf("modip not increasing: mu(%.0f) = %.4f <= %.4f", lat, mu, prev)
		}
		if mu < -90 || mu > 90 {
			t.Fatalf("modip out of range at lat %.0f: %.4f", lat, mu)
		}
		prev = mu
	}
}

// TestProjectLongitudeNormalized verifies the pass-through longitude is
// wrapped to [-180, 180).
func TestProjectLongitudeNormalized(t *testing.T) {
	p := Default()
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{190, -170},
		{-190, 170},
		{360, 0},
		{180, -180},
	}
	for _, tt := range tests {
		_, lon, err := p.Project(10, tt.in)
		if err != nil {
			t.Fatalf("Project(10, %g): %v", tt.in, err)
		}
		if math.Abs(lon-tt.want) > 1e-9 {
			t.Errorf("longitude %g normalized to %g, want %g", tt.in, lon, tt.want)
		}
	}
}

// TestProjectRejectsBadLatitude checks the contract-violation path.
func TestProjectRejectsBadLatitude(t *testing.T) {
	p := Default()
	for _, lat := range []float64{90.001, -91, math.NaN()} {
		_, _, err := p.Project(lat, 0)
		if err == nil {
			t.Fatalf("Project(%g, 0) accepted an impossible latitude", lat)
		}
		var cerr *gnss.CoordinateError
		if !errors.As(err, &cerr) {
			t.Errorf("Project(%g, 0) error %v is not a CoordinateError", lat, err)
		}
	}
}

// TestProjectAll verifies index alignment and first-error propagation.
func TestProjectAll(t *testing.T) {
	p := Default()
	lats := []float64{0, 30, 60}
	lons := []float64{10, 20, 30}

	mu, lon, err := p.ProjectAll(lats, lons)
	if err != nil {
		t.Fatalf("ProjectAll: %v", err)
	}
	if len(mu) != 3 || len(lon) != 3 {
		t.Fatalf("ProjectAll returned %d/%d values, want 3/3", len(mu), len(lon))
	}
	for i := range lats {
		wantMu, wantLon, _ := p.Project(lats[i], lons[i])
		if mu[i] != wantMu || lon[i] != wantLon {
			t.Errorf("index %d: (%.4f, %.4f), want (%.4f, %.4f)", i, mu[i], lon[i], wantMu, wantLon)
		}
	}

	if _, _, err := p.ProjectAll([]float64{0, 95}, []float64{0, 0}); err == nil {
		t.Error("ProjectAll accepted an out-of-range latitude")
	}
}
