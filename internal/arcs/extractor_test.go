package arcs

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/judeallred/gotecgg/internal/gnss"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// makeSamples builds a stream of n samples at the given cadence with a
// constant detector value and constant geometry-free value.
func makeSamples(sv string, n int, cadence time.Duration, geomFree, detector float64) []gnss.Sample {
	samples := make([]gnss.Sample, n)
	for i := range samples {
		samples[i] = gnss.Sample{
			SV:            sv,
			Epoch:         t0.Add(time.Duration(i) * cadence),
			GeomFree:      geomFree,
			CodePhaseDiff: detector,
			Elevation:     45,
			Mapping:       0.8,
		}
	}
	return samples
}

func testConfig() gnss.Config {
	cfg := gnss.DefaultConfig()
	cfg.MinArcLength = 5
	cfg.ThresholdStd = 0 // absolute threshold only, keeps tests deterministic
	return cfg
}

// TestSingleArcLevelling verifies that a clean stream becomes one arc whose
// levelled values are the geometry-free values shifted by the detector mean.
func TestSingleArcLevelling(t *testing.T) {
	samples := makeSamples("G01", 40, 30*time.Second, 12.0, 10.0)
	results, err := New(testConfig(), "EBRE").ExtractSatellite("G01", samples)
	if err != nil {
		t.Fatalf("ExtractSatellite: %v", err)
	}

	for i := range results {
		if results[i].ArcID != "ebre_g01_001" {
			t.Fatalf("sample %d: arc id %q, want ebre_g01_001", i, results[i].ArcID)
		}
		if results[i].CycleSlip || results[i].LossOfLock {
			t.Fatalf("sample %d: unexpected arc break flag", i)
		}
		// Constant detector 10 means the level offset is exactly 10.
		if math.Abs(results[i].Levelled-2.0) > 1e-12 {
			t.Fatalf("sample %d: levelled = %.6f, want 2.0", i, results[i].Levelled)
		}
	}
}

// TestShortArcDiscarded verifies arcs below the minimum length produce null
// outputs but keep their rows.
func TestShortArcDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.MinArcLength = 30
	samples := makeSamples("G02", 10, 30*time.Second, 5, 3)

	results, err := New(cfg, "ebre").ExtractSatellite("G02", samples)
	if err != nil {
		t.Fatalf("ExtractSatellite: %v", err)
	}
	if len(results) != len(samples) {
		t.Fatalf("got %d results for %d samples", len(results), len(samples))
	}
	for i := range results {
		if results[i].ArcID != "" {
			t.Errorf("sample %d: discarded arc has id %q", i, results[i].ArcID)
		}
		if !math.IsNaN(results[i].Levelled) {
			t.Errorf("sample %d: discarded arc has levelled value %.4f", i, results[i].Levelled)
		}
	}
}

// TestCycleSlipSplitsArc injects a detector step and checks arc numbering,
// the slip flag position, and independent levelling on both sides.
func TestCycleSlipSplitsArc(t *testing.T) {
	const slipAt = 30
	samples := makeSamples("G03", 60, 30*time.Second, 5.0, 0.0)
	for i := slipAt; i < len(samples); i++ {
		samples[i].GeomFree = 25.0
		samples[i].CodePhaseDiff = 20.0 // step of 20 >= default threshold 5
	}

	results, err := New(testConfig(), "ebre").ExtractSatellite("G03", samples)
	if err != nil {
		t.Fatalf("ExtractSatellite: %v", err)
	}

	for i := range results {
		wantArc := "ebre_g03_001"
		if i >= slipAt {
			wantArc = "ebre_g03_002"
		}
		if results[i].ArcID != wantArc {
			t.Fatalf("sample %d: arc id %q, want %q", i, results[i].ArcID, wantArc)
		}
		if got := results[i].CycleSlip; got != (i == slipAt) {
			t.Fatalf("sample %d: cycle slip flag = %v", i, got)
		}
		// Both arcs level to geomFree - detector = 5.
		if math.Abs(results[i].Levelled-5.0) > 1e-12 {
			t.Fatalf("sample %d: levelled = %.6f, want 5.0", i, results[i].Levelled)
		}
	}
}

// TestLossOfLockOnGap verifies an explicit max gap splits the arc and flags
// the first sample after the gap.
func TestLossOfLockOnGap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGap = time.Minute

	samples := makeSamples("G04", 40, 30*time.Second, 1, 0)
	// Push the second half five minutes into the future.
	for i := 20; i < len(samples); i++ {
		samples[i].Epoch = samples[i].Epoch.Add(5 * time.Minute)
	}

	results, err := New(cfg, "ebre").ExtractSatellite("G04", samples)
	if err != nil {
		t.Fatalf("ExtractSatellite: %v", err)
	}
	for i := range results {
		if got := results[i].LossOfLock; got != (i == 20) {
			t.Fatalf("sample %d: loss of lock flag = %v", i, got)
		}
	}
	if results[19].ArcID == results[20].ArcID {
		t.Error("gap did not split the arc")
	}
}

// TestInferredMaxGap checks the per-satellite gap threshold derived from the
// median cadence: three medians tolerate a skipped epoch but not more.
func TestInferredMaxGap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGap = 0 // infer

	// 30s cadence with one skipped epoch (60s gap) and one long outage
	// (300s gap).
	samples := makeSamples("G05", 60, 30*time.Second, 1, 0)
	for i := 20; i < len(samples); i++ {
		samples[i].Epoch = samples[i].Epoch.Add(30 * time.Second) // 60s gap at 20
	}
	for i := 40; i < len(samples); i++ {
		samples[i].Epoch = samples[i].Epoch.Add(5 * time.Minute) // outage at 40
	}

	results, err := New(cfg, "ebre").ExtractSatellite("G05", samples)
	if err != nil {
		t.Fatalf("ExtractSatellite: %v", err)
	}
	if results[20].LossOfLock {
		t.Error("single skipped epoch split the arc under the inferred gap")
	}
	if !results[40].LossOfLock {
		t.Error("five-minute outage did not split the arc")
	}
}

// TestResidualJumpRelevelled verifies that a jump below the slip threshold
// but above the levelling threshold is folded into the level instead of
// closing the arc.
func TestResidualJumpRelevelled(t *testing.T) {
	cfg := testConfig()
	cfg.ThresholdAbs = 5
	cfg.ThresholdJump = 3

	// Detector and geometry-free both step by 4 at index 20: a phase
	// artifact common to both combinations.
	samples := makeSamples("G06", 40, 30*time.Second, 10.0, 0.0)
	for i := 20; i < len(samples); i++ {
		samples[i].GeomFree = 14.0
		samples[i].CodePhaseDiff = 4.0
	}

	results, err := New(cfg, "ebre").ExtractSatellite("G06", samples)
	if err != nil {
		t.Fatalf("ExtractSatellite: %v", err)
	}
	for i := range results {
		if results[i].ArcID != "ebre_g06_001" {
			t.Fatalf("sample %d: re-levelling split the arc (%q)", i, results[i].ArcID)
		}
		if math.Abs(results[i].Levelled-10.0) > 1e-12 {
			t.Fatalf("sample %d: levelled = %.6f, want 10.0 (continuous across jump)", i, results[i].Levelled)
		}
	}
}

// TestExtractSatelliteIdempotent runs the state machine twice over the same
// stream, one with a slip and a gap, and expects identical arc ids, flags
// and levelled values: extraction must depend only on the input sequence.
func TestExtractSatelliteIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGap = time.Minute

	samples := makeSamples("G08", 80, 30*time.Second, 6.0, 0.0)
	for i := 40; i < len(samples); i++ {
		samples[i].GeomFree = 26.0
		samples[i].CodePhaseDiff = 20.0 // slip at 40
	}
	for i := 60; i < len(samples); i++ {
		samples[i].Epoch = samples[i].Epoch.Add(5 * time.Minute) // gap at 60
	}

	ext := New(cfg, "ebre")
	first, err := ext.ExtractSatellite("G08", samples)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := ext.ExtractSatellite("G08", samples)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("pass lengths differ: %d vs %d", len(first), len(second))
	}

	for i := range first {
		a, b := &first[i], &second[i]
		if a.ArcID != b.ArcID {
			t.Fatalf("sample %d: arc id %q vs %q", i, a.ArcID, b.ArcID)
		}
		if a.CycleSlip != b.CycleSlip || a.LossOfLock != b.LossOfLock {
			t.Fatalf("sample %d: flags differ between passes", i)
		}
		if a.Levelled != b.Levelled && !(math.IsNaN(a.Levelled) && math.IsNaN(b.Levelled)) {
			t.Fatalf("sample %d: levelled %.9f vs %.9f", i, a.Levelled, b.Levelled)
		}
	}
}

// TestEpochOrderViolation verifies the contract error for non-advancing
// epochs.
func TestEpochOrderViolation(t *testing.T) {
	samples := makeSamples("G07", 10, 30*time.Second, 1, 0)
	samples[5].Epoch = samples[4].Epoch // duplicate

	_, err := New(testConfig(), "ebre").ExtractSatellite("G07", samples)
	if err == nil {
		t.Fatal("expected epoch order error, got nil")
	}
	var oerr *gnss.EpochOrderError
	if !errors.As(err, &oerr) {
		t.Fatalf("error %v is not an EpochOrderError", err)
	}
	if oerr.SV != "G07" || oerr.Index != 5 {
		t.Errorf("error locates %s index %d, want G07 index 5", oerr.SV, oerr.Index)
	}
}

// TestExtractAllMergesOrdered runs the worker pool over interleaved
// satellites and checks the merged ordering and per-satellite independence.
func TestExtractAllMergesOrdered(t *testing.T) {
	g1 := makeSamples("G01", 20, 30*time.Second, 3, 1)
	g2 := makeSamples("G02", 20, 30*time.Second, 7, 2)

	// Interleave the two streams as an observation file would.
	var mixed []gnss.Sample
	for i := 0; i < 20; i++ {
		mixed = append(mixed, g2[i], g1[i])
	}

	results, err := New(testConfig(), "ebre").ExtractAll(context.Background(), mixed, 4)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if len(results) != len(mixed) {
		t.Fatalf("got %d results for %d samples", len(results), len(mixed))
	}

	for i := range results {
		wantSV := "G01"
		if i >= 20 {
			wantSV = "G02"
		}
		if results[i].SV != wantSV {
			t.Fatalf("result %d: satellite %s, want %s", i, results[i].SV, wantSV)
		}
		if i > 0 && results[i].SV == results[i-1].SV && !results[i].Epoch.After(results[i-1].Epoch) {
			t.Fatalf("result %d: epochs not increasing within %s", i, results[i].SV)
		}
	}

	// Independent levelling per satellite.
	if math.Abs(results[0].Levelled-2.0) > 1e-12 {
		t.Errorf("G01 levelled = %.4f, want 2.0", results[0].Levelled)
	}
	if math.Abs(results[20].Levelled-5.0) > 1e-12 {
		t.Errorf("G02 levelled = %.4f, want 5.0", results[20].Levelled)
	}
}

// TestExtractAllPropagatesError checks that a bad satellite stream fails the
// whole pass.
func TestExtractAllPropagatesError(t *testing.T) {
	good := makeSamples("G01", 10, 30*time.Second, 1, 0)
	bad := makeSamples("G02", 10, 30*time.Second, 1, 0)
	bad[3].Epoch = bad[2].Epoch

	_, err := New(testConfig(), "ebre").ExtractAll(context.Background(), append(good, bad...), 2)
	if err == nil {
		t.Fatal("expected error from bad stream, got nil")
	}
	var oerr *gnss.EpochOrderError
	if !errors.As(err, &oerr) {
		t.Fatalf("error %v is not an EpochOrderError", err)
	}
}
