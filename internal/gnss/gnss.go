// Package gnss defines the observation data model shared by the TEC
// calibration pipeline. This package contains the per-(satellite, epoch)
// sample record, the calibrated output record, and the engine configuration.
//
// Samples are produced upstream from dual-frequency phase/code observables
// (see combinations.go) together with line-of-sight geometry and ionospheric
// pierce point coordinates. The calibration core consumes Samples and emits
// Results; it never mutates a Sample.
package gnss

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// =============================================================================
// Sample - calibration engine input (one row per satellite per epoch)
// =============================================================================

// Sample is a single geometry-enriched observation of one satellite at one
// epoch. All combination values are in meters; angles and coordinates are in
// degrees. Immutable once built.
type Sample struct {
	SV            string    // Satellite id, e.g. "G12", "E03"
	Epoch         time.Time // Observation epoch (UTC, strictly increasing per SV)
	GeomFree      float64   // Geometry-free phase combination [m]
	CodePhaseDiff float64   // Code/phase detector combination [m], drives slip detection and levelling
	Elevation     float64   // Satellite elevation [deg]
	Azimuth       float64   // Satellite azimuth [deg]
	IPPLat        float64   // Ionospheric pierce point latitude [deg]
	IPPLon        float64   // Ionospheric pierce point longitude [deg]
	Mapping       float64   // Slant-to-vertical mapping function value
}

// Result is a Sample augmented with the calibration outputs. Per-arc fields
// are NaN when the sample was excluded from calibration (discarded arc or
// under-determined batch); ArcID is empty in the discarded case. The
// vertical equivalent is a per-batch value and covers discarded samples of a
// solved batch too.
type Result struct {
	Sample

	ArcID      string // Unique arc identifier; empty for discarded arcs
	CycleSlip  bool   // Detector jump terminated the previous arc here
	LossOfLock bool   // Time gap terminated the previous arc here

	Levelled       float64 // Arc-levelled geometry-free value [m]; NaN if discarded
	Bias           float64 // Estimated arc bias [m]; NaN if not calibrated
	SlantTEC       float64 // Bias-corrected slant TEC [TECU]; NaN if not calibrated
	VertTEC        float64 // Vertical TEC [TECU]; NaN if not calibrated
	VertEquivalent float64 // Batch zenith-equivalent value [TECU]; NaN if the batch was skipped
}

// Calibrated reports whether the sample received bias and TEC estimates.
func (r *Result) Calibrated() bool {
	return r.ArcID != "" && !math.IsNaN(r.Bias)
}

// =============================================================================
// Station - receiver-side coordinates for the vertical-equivalent evaluation
// =============================================================================

// Station carries the receiver coordinates the estimator needs: the modip
// frame position of the station itself (not of any pierce point).
type Station struct {
	Name  string  // Receiver acronym, lowercase, prefixes arc identifiers
	Modip float64 // Station modip coordinate [deg]
	Lon   float64 // Station longitude [deg]
}

// =============================================================================
// Config - calibration engine tunables
// =============================================================================

// Config holds the calibration engine parameters. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	MaxDegree       int           // Maximum 2D polynomial degree for the ionosphere model
	BatchSizeEpochs int           // Distinct epochs per calibration batch
	ThresholdAbs    float64       // Absolute detector jump threshold [m]
	ThresholdStd    float64       // Running-sigma multiplier for detector jumps
	ThresholdJump   float64       // Residual levelling jump threshold [m]
	MinArcLength    int           // Minimum samples for an arc to survive
	MaxGap          time.Duration // Gap declaring loss-of-lock; 0 infers per satellite
}

// DefaultConfig mirrors the operational defaults of the reference processing
// chain: 30-epoch batches, degree-3 ionosphere model, 30-sample arcs.
func DefaultConfig() Config {
	return Config{
		MaxDegree:       3,
		BatchSizeEpochs: 30,
		ThresholdAbs:    5.0,
		ThresholdStd:    5.0,
		ThresholdJump:   10.0,
		MinArcLength:    30,
		MaxGap:          0,
	}
}

// ErrInvalidConfig is wrapped by all Config validation failures.
var ErrInvalidConfig = errors.New("invalid calibration config")

// Validate checks the structural constraints on the tunables. Violations are
// fatal for the run and are reported before any sample is touched.
func (c Config) Validate() error {
	if c.MaxDegree < 0 {
		return fmt.Errorf("%w: max polynomial degree %d, must be >= 0", ErrInvalidConfig, c.MaxDegree)
	}
	if c.BatchSizeEpochs <= 0 {
		return fmt.Errorf("%w: batch size %d epochs, must be > 0", ErrInvalidConfig, c.BatchSizeEpochs)
	}
	if c.MinArcLength < 1 {
		return fmt.Errorf("%w: minimum arc length %d, must be >= 1", ErrInvalidConfig, c.MinArcLength)
	}
	if c.MaxGap < 0 {
		return fmt.Errorf("%w: max gap %v, must be >= 0", ErrInvalidConfig, c.MaxGap)
	}
	return nil
}

// BasisSize returns the number of polynomial coefficients for a full 2D
// expansion of degree d: (d+1)(d+2)/2.
func BasisSize(maxDegree int) int {
	return (maxDegree + 1) * (maxDegree + 2) / 2
}

// =============================================================================
// Contract violation errors
// =============================================================================

// EpochOrderError reports a non-monotonic epoch sequence for one satellite.
// This is a precondition violation: the caller must feed strictly increasing
// epochs per satellite, and the engine never reorders silently.
type EpochOrderError struct {
	SV    string
	Index int       // Position of the offending sample in the satellite's stream
	Epoch time.Time // The epoch that failed to advance
	Prev  time.Time
}

func (e *EpochOrderError) Error() string {
	return fmt.Sprintf("gnss: non-monotonic epochs for %s at index %d: %s does not advance past %s",
		e.SV, e.Index, e.Epoch.Format(time.RFC3339), e.Prev.Format(time.RFC3339))
}

// CoordinateError reports a geographically impossible input coordinate.
type CoordinateError struct {
	Name  string // "latitude" or "longitude"
	Value float64
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("gnss: %s out of range: %g", e.Name, e.Value)
}
