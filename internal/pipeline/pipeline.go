// Package pipeline wires the two calibration passes together: arc extraction
// over per-satellite streams, then batched bias/ionosphere estimation over
// the merged table. It owns the distinction between fatal contract violations
// (bad configuration, impossible coordinates, non-monotonic epochs), which
// abort the run, and recoverable per-batch failures, which only null that
// batch's outputs and surface as summary warnings.
package pipeline

import (
	"context"
	"fmt"

	"github.com/judeallred/gotecgg/internal/arcs"
	"github.com/judeallred/gotecgg/internal/calibration"
	"github.com/judeallred/gotecgg/internal/gnss"
	"github.com/judeallred/gotecgg/internal/modip"
)

// Station identifies the receiver in geographic coordinates. The pipeline
// projects it into the modip frame before estimation.
type Station struct {
	Name string  // Receiver acronym, used as arc id prefix
	Lat  float64 // Geodetic latitude [deg]
	Lon  float64 // Longitude [deg]
}

// Summary aggregates run-level counters and the warnings produced by
// recoverable batch failures.
type Summary struct {
	Samples         int // Input samples
	Satellites      int // Distinct satellites seen
	Arcs            int // Surviving arcs across all satellites
	Discarded       int // Samples on arcs shorter than the minimum length
	CycleSlips      int // Detector-terminated arc boundaries
	LossOfLock      int // Gap-terminated arc boundaries
	Batches         int // Calibration batches formed
	UnderDetermined int // Batches that could not be solved
	Calibrated      int // Samples that received bias and TEC estimates

	Warnings []string // One entry per skipped batch
}

// Runner executes the full calibration for one receiver. The zero value is
// not usable; fill Cfg (typically from gnss.DefaultConfig) first. A nil
// Projector selects the standard dipole pole.
type Runner struct {
	Cfg       gnss.Config
	Projector *modip.Projector
	Workers   int // Worker pool size for both passes; <= 0 means NumCPU
}

// Run calibrates one receiver's observation table. The input may interleave
// satellites, but epochs must be strictly increasing within each satellite.
// Results are ordered by (satellite, epoch) and are index-stable for the
// whole run: every input sample has exactly one output row, calibrated or
// not.
func (r *Runner) Run(ctx context.Context, station Station, samples []gnss.Sample) ([]gnss.Result, *Summary, error) {
	if err := r.Cfg.Validate(); err != nil {
		return nil, nil, err
	}
	proj := r.Projector
	if proj == nil {
		proj = modip.Default()
	}
	stModip, stLon, err := proj.Project(station.Lat, station.Lon)
	if err != nil {
		return nil, nil, fmt.Errorf("station %q: %w", station.Name, err)
	}

	results, err := arcs.New(r.Cfg, station.Name).ExtractAll(ctx, samples, r.Workers)
	if err != nil {
		return nil, nil, err
	}

	sum := &Summary{Samples: len(results)}
	seenSV := make(map[string]struct{})
	seenArc := make(map[string]struct{})
	for i := range results {
		res := &results[i]
		seenSV[res.SV] = struct{}{}
		if res.ArcID == "" {
			sum.Discarded++
		} else {
			seenArc[res.ArcID] = struct{}{}
		}
		if res.CycleSlip {
			sum.CycleSlips++
		}
		if res.LossOfLock {
			sum.LossOfLock++
		}
	}
	sum.Satellites = len(seenSV)
	sum.Arcs = len(seenArc)

	ippLat := make([]float64, len(results))
	ippLon := make([]float64, len(results))
	for i := range results {
		ippLat[i] = results[i].IPPLat
		ippLon[i] = results[i].IPPLon
	}
	ippModip, ippOutLon, err := proj.ProjectAll(ippLat, ippLon)
	if err != nil {
		return nil, nil, fmt.Errorf("pierce point projection: %w", err)
	}

	est := calibration.NewEstimator(r.Cfg, gnss.Station{
		Name:  station.Name,
		Modip: stModip,
		Lon:   stLon,
	})
	statuses, err := est.Calibrate(ctx, results, ippModip, ippOutLon, r.Workers)
	if err != nil {
		return nil, nil, err
	}

	sum.Batches = len(statuses)
	for _, st := range statuses {
		if st.UnderDetermined {
			sum.UnderDetermined++
			sum.Warnings = append(sum.Warnings,
				fmt.Sprintf("batch %d skipped: %s (%d samples, %d arcs)", st.Index, st.Reason, st.Rows, st.Arcs))
		}
	}
	for i := range results {
		if results[i].Calibrated() {
			sum.Calibrated++
		}
	}
	return results, sum, nil
}
