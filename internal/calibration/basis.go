// Package calibration jointly estimates per-arc instrumental biases and a
// shared spatial ionosphere model from levelled, arc-tagged samples. The
// samples are partitioned into fixed-size epoch batches; each batch is an
// independent least-squares problem whose unknowns are one bias per arc
// active in the batch plus the coefficients of a 2D polynomial in the modip
// frame. A rank-revealing solve separates the two: biases are constant per
// arc while the ionosphere term varies smoothly in space and is shared by
// every satellite in the batch.
package calibration

import "math"

// Basis evaluates the full two-dimensional polynomial expansion in
// (delta modip, delta longitude) relative to the station. Shared read-only
// across all batch workers.
type Basis struct {
	MaxDegree int
	Size      int // (MaxDegree+1)(MaxDegree+2)/2
}

// NewBasis returns the basis for a maximum total degree d >= 0.
func NewBasis(maxDegree int) Basis {
	return Basis{
		MaxDegree: maxDegree,
		Size:      (maxDegree + 1) * (maxDegree + 2) / 2,
	}
}

// Eval fills row (length Size) with the basis terms at the given offsets
// from the station. Terms are ordered degree-major with the constant term
// first, so evaluating at the station itself (0, 0) isolates coefficient 0:
//
//	k: (i,j) = (0,0), (1,0), (0,1), (2,0), (1,1), (0,2), ...
//
// where i is the modip power and j the longitude power, i + j <= MaxDegree.
// Every term carries the normalisation 1/(1+|dModip|^(MaxDegree+1)), which
// tapers the expansion at large modip offsets and keeps distant low-elevation
// pierce points from dominating the fit.
func (b Basis) Eval(dModip, dLon float64, row []float64) {
	norm := 1.0 / (1.0 + math.Pow(math.Abs(dModip), float64(b.MaxDegree+1)))
	k := 0
	for deg := 0; deg <= b.MaxDegree; deg++ {
		for i := deg; i >= 0; i-- {
			j := deg - i
			row[k] = math.Pow(dModip, float64(i)) * math.Pow(dLon, float64(j)) * norm
			k++
		}
	}
}
