package calibration

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/judeallred/gotecgg/internal/gnss"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// TestBasisEval checks term count, the constant-first ordering and the
// station-origin property the vertical equivalent relies on.
func TestBasisEval(t *testing.T) {
	for d := 0; d <= 4; d++ {
		b := NewBasis(d)
		if b.Size != gnss.BasisSize(d) {
			t.Errorf("degree %d: basis size %d, want %d", d, b.Size, gnss.BasisSize(d))
		}
	}

	b := NewBasis(2)
	row := make([]float64, b.Size)

	// At the station origin only the constant term survives.
	b.Eval(0, 0, row)
	if row[0] != 1 {
		t.Errorf("constant term at origin = %g, want 1", row[0])
	}
	for k := 1; k < b.Size; k++ {
		if row[k] != 0 {
			t.Errorf("term %d at origin = %g, want 0", k, row[k])
		}
	}

	// Degree-major ordering: (0,0), (1,0), (0,1), (2,0), (1,1), (0,2),
	// every term scaled by the common taper.
	dm, dl := 2.0, 3.0
	b.Eval(dm, dl, row)
	norm := 1.0 / (1.0 + math.Pow(math.Abs(dm), 3))
	want := []float64{1, dm, dl, dm * dm, dm * dl, dl * dl}
	for k := range want {
		if math.Abs(row[k]-want[k]*norm) > 1e-12 {
			t.Errorf("term %d = %.8f, want %.8f", k, row[k], want[k]*norm)
		}
	}
}

// TestPartitionEpochs verifies the fixed-size epoch windows: full coverage,
// correct count, final window allowed to be short.
func TestPartitionEpochs(t *testing.T) {
	tests := []struct {
		name    string
		epochs  int
		size    int
		batches int
	}{
		{"exact multiple", 90, 30, 3},
		{"one extra epoch", 91, 30, 4},
		{"single short batch", 7, 30, 1},
		{"empty", 0, 30, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Duplicated epochs (several satellites per epoch) must not
			// inflate the count.
			var nanos []int64
			for i := 0; i < tt.epochs; i++ {
				e := t0.Add(time.Duration(i) * 30 * time.Second).UnixNano()
				nanos = append(nanos, e, e)
			}
			batchOf, n := PartitionEpochs(nanos, tt.size)
			if n != tt.batches {
				t.Fatalf("got %d batches, want %d", n, tt.batches)
			}
			if len(batchOf) != tt.epochs {
				t.Fatalf("assigned %d epochs, want %d", len(batchOf), tt.epochs)
			}
			for e, b := range batchOf {
				if b < 0 || b >= n {
					t.Fatalf("epoch %d assigned to batch %d of %d", e, b, n)
				}
			}
		})
	}
}

// syntheticBatch builds arc-tagged results from a known truth: per-arc
// biases and polynomial coefficients. Each arc sweeps its own pierce point
// trajectory so the system is well conditioned.
func syntheticBatch(est *Estimator, biases map[string]float64, coeffs []float64, epochs int) (results []gnss.Result, ippModip, ippLon []float64) {
	basis := est.basis
	row := make([]float64, basis.Size)

	arcIdx := 0
	for arcID, bias := range biases {
		arcIdx++
		for i := 0; i < epochs; i++ {
			// Distinct geometry per arc and epoch.
			dm := float64(arcIdx)*2.0 + float64(i)*0.05
			dl := float64(arcIdx)*-1.5 + float64(i)*0.08
			mapping := 0.5 + 0.4*float64(i)/float64(epochs) + 0.02*float64(arcIdx)

			basis.Eval(dm, dl, row)
			var field float64
			for k := range coeffs {
				field += coeffs[k] * row[k]
			}

			var r gnss.Result
			r.SV = arcID
			r.Epoch = t0.Add(time.Duration(i) * 30 * time.Second)
			r.Mapping = mapping
			r.ArcID = arcID
			r.Levelled = bias + field/mapping
			r.Bias = math.NaN()
			r.SlantTEC = math.NaN()
			r.VertTEC = math.NaN()
			r.VertEquivalent = math.NaN()

			results = append(results, r)
			ippModip = append(ippModip, est.station.Modip+dm)
			ippLon = append(ippLon, est.station.Lon+dl)
		}
	}
	return results, ippModip, ippLon
}

// TestCalibrateRoundTrip feeds noise-free synthetic data through the solver
// and expects the injected biases and the vertical equivalent back to
// numerical precision.
func TestCalibrateRoundTrip(t *testing.T) {
	cfg := gnss.DefaultConfig()
	cfg.MaxDegree = 1
	cfg.BatchSizeEpochs = 40

	est := NewEstimator(cfg, gnss.Station{Name: "ebre", Modip: 40, Lon: 0.5})

	biases := map[string]float64{
		"ebre_g01_001": 3.25,
		"ebre_g07_001": -1.75,
		"ebre_g12_001": 0.40,
	}
	coeffs := []float64{12.0, -0.8, 0.3}
	results, ippModip, ippLon := syntheticBatch(est, biases, coeffs, 40)

	statuses, err := est.Calibrate(context.Background(), results, ippModip, ippLon, 2)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("got %d batches, want 1", len(statuses))
	}
	if statuses[0].UnderDetermined {
		t.Fatalf("batch flagged under-determined: %s", statuses[0].Reason)
	}

	wantVertEq := coeffs[0] * gnss.GPSTECUPerMeter
	for i := range results {
		r := &results[i]
		wantBias := biases[r.ArcID]
		if math.Abs(r.Bias-wantBias) > 1e-6 {
			t.Fatalf("sample %d (%s): bias %.8f, want %.8f", i, r.ArcID, r.Bias, wantBias)
		}
		wantSlant := (r.Levelled - wantBias) * gnss.GPSTECUPerMeter
		if math.Abs(r.SlantTEC-wantSlant) > 1e-6 {
			t.Fatalf("sample %d: slant TEC %.8f, want %.8f", i, r.SlantTEC, wantSlant)
		}
		if math.Abs(r.VertTEC-wantSlant*r.Mapping) > 1e-6 {
			t.Fatalf("sample %d: vertical TEC %.8f, want %.8f", i, r.VertTEC, wantSlant*r.Mapping)
		}
		if math.Abs(r.VertEquivalent-wantVertEq) > 1e-6 {
			t.Fatalf("sample %d: vertical equivalent %.8f, want %.8f", i, r.VertEquivalent, wantVertEq)
		}
	}
}

// TestCalibrateDiscardedRowsGetVerticalEquivalent checks that rows from
// discarded arcs inside a solved batch receive the batch zenith value while
// keeping null per-arc outputs, and stay fully null when the batch is
// skipped.
func TestCalibrateDiscardedRowsGetVerticalEquivalent(t *testing.T) {
	cfg := gnss.DefaultConfig()
	cfg.MaxDegree = 1
	cfg.BatchSizeEpochs = 40

	est := NewEstimator(cfg, gnss.Station{Name: "ebre", Modip: 40, Lon: 0.5})

	coeffs := []float64{12.0, -0.8, 0.3}
	results, ippModip, ippLon := syntheticBatch(est,
		map[string]float64{"ebre_g01_001": 3.25, "ebre_g07_001": -1.75}, coeffs, 40)

	// A short-arc leftover sharing the batch epochs: no arc id, no levelled
	// value.
	for i := 0; i < 4; i++ {
		var r gnss.Result
		r.SV = "G30"
		r.Epoch = t0.Add(time.Duration(i) * 30 * time.Second)
		r.Mapping = 0.7
		r.Levelled = math.NaN()
		r.Bias = math.NaN()
		r.SlantTEC = math.NaN()
		r.VertTEC = math.NaN()
		r.VertEquivalent = math.NaN()
		results = append(results, r)
		ippModip = append(ippModip, 41)
		ippLon = append(ippLon, 1)
	}

	statuses, err := est.Calibrate(context.Background(), results, ippModip, ippLon, 2)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if len(statuses) != 1 || statuses[0].UnderDetermined {
		t.Fatalf("batch not solved: %+v", statuses)
	}

	wantVertEq := coeffs[0] * gnss.GPSTECUPerMeter
	for i := range results {
		r := &results[i]
		if r.ArcID != "" {
			continue
		}
		if math.Abs(r.VertEquivalent-wantVertEq) > 1e-6 {
			t.Fatalf("discarded sample %d: vertical equivalent %.8f, want %.8f", i, r.VertEquivalent, wantVertEq)
		}
		if !math.IsNaN(r.Bias) || !math.IsNaN(r.SlantTEC) || !math.IsNaN(r.VertTEC) {
			t.Fatalf("discarded sample %d received per-arc estimates", i)
		}
	}

	// Same shape with a single valid arc: the skipped batch leaves every
	// output null, the discarded rows included.
	single, sModip, sLon := syntheticBatch(est,
		map[string]float64{"ebre_g02_001": 1.0}, coeffs, 10)
	var dr gnss.Result
	dr.SV = "G31"
	dr.Epoch = t0
	dr.Mapping = 0.7
	dr.Levelled = math.NaN()
	dr.Bias = math.NaN()
	dr.SlantTEC = math.NaN()
	dr.VertTEC = math.NaN()
	dr.VertEquivalent = math.NaN()
	single = append(single, dr)
	sModip = append(sModip, 41)
	sLon = append(sLon, 1)

	statuses, err = est.Calibrate(context.Background(), single, sModip, sLon, 1)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if len(statuses) != 1 || !statuses[0].UnderDetermined {
		t.Fatalf("single-arc batch not flagged: %+v", statuses)
	}
	if !math.IsNaN(single[len(single)-1].VertEquivalent) {
		t.Error("discarded row in a skipped batch received a vertical equivalent")
	}
}

// TestCalibrateSingleArc verifies the bias/ionosphere confounding guard.
func TestCalibrateSingleArc(t *testing.T) {
	cfg := gnss.DefaultConfig()
	cfg.MaxDegree = 1
	cfg.BatchSizeEpochs = 30

	est := NewEstimator(cfg, gnss.Station{Name: "ebre", Modip: 40, Lon: 0})
	results, ippModip, ippLon := syntheticBatch(est,
		map[string]float64{"ebre_g01_001": 2.0}, []float64{5, 0, 0}, 30)

	statuses, err := est.Calibrate(context.Background(), results, ippModip, ippLon, 1)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if len(statuses) != 1 || !statuses[0].UnderDetermined {
		t.Fatal("single-arc batch was not flagged under-determined")
	}
	for i := range results {
		if !math.IsNaN(results[i].Bias) || !math.IsNaN(results[i].SlantTEC) {
			t.Fatalf("sample %d received estimates from an unsolvable batch", i)
		}
	}
}

// TestCalibrateRankDeficient pins every pierce point to the station origin:
// the longitude and modip columns vanish, the remaining system cannot
// separate the constant term from the biases, and the batch must be skipped
// rather than solved badly.
func TestCalibrateRankDeficient(t *testing.T) {
	cfg := gnss.DefaultConfig()
	cfg.MaxDegree = 1
	cfg.BatchSizeEpochs = 30

	est := NewEstimator(cfg, gnss.Station{Name: "ebre", Modip: 40, Lon: 0})

	var results []gnss.Result
	var ippModip, ippLon []float64
	for _, arcID := range []string{"ebre_g01_001", "ebre_g02_001"} {
		for i := 0; i < 30; i++ {
			var r gnss.Result
			r.SV = arcID
			r.Epoch = t0.Add(time.Duration(i) * 30 * time.Second)
			r.Mapping = 0.8
			r.ArcID = arcID
			r.Levelled = 1.0
			r.Bias = math.NaN()
			r.SlantTEC = math.NaN()
			r.VertTEC = math.NaN()
			r.VertEquivalent = math.NaN()
			results = append(results, r)
			ippModip = append(ippModip, 40)
			ippLon = append(ippLon, 0)
		}
	}

	statuses, err := est.Calibrate(context.Background(), results, ippModip, ippLon, 1)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if len(statuses) != 1 || !statuses[0].UnderDetermined {
		t.Fatal("rank-deficient batch was not flagged")
	}
}

// TestCalibrateBatchIsolation gives the first batch a solvable two-arc
// system and the second batch a single arc, and expects the failure to stay
// contained.
func TestCalibrateBatchIsolation(t *testing.T) {
	cfg := gnss.DefaultConfig()
	cfg.MaxDegree = 1
	cfg.BatchSizeEpochs = 30

	est := NewEstimator(cfg, gnss.Station{Name: "ebre", Modip: 40, Lon: 0})

	biases := map[string]float64{"ebre_g01_001": 1.0, "ebre_g02_001": -2.0}
	results, ippModip, ippLon := syntheticBatch(est, biases, []float64{8, 0.5, -0.2}, 30)

	// Second batch: a lone arc 30 epochs later.
	single, sModip, sLon := syntheticBatch(est,
		map[string]float64{"ebre_g03_002": 0.7}, []float64{8, 0.5, -0.2}, 30)
	for i := range single {
		single[i].Epoch = single[i].Epoch.Add(30 * 30 * time.Second)
	}
	results = append(results, single...)
	ippModip = append(ippModip, sModip...)
	ippLon = append(ippLon, sLon...)

	statuses, err := est.Calibrate(context.Background(), results, ippModip, ippLon, 2)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d batches, want 2", len(statuses))
	}
	if statuses[0].UnderDetermined {
		t.Errorf("solvable batch flagged: %s", statuses[0].Reason)
	}
	if !statuses[1].UnderDetermined {
		t.Error("single-arc batch not flagged")
	}

	for i := range results {
		inFirst := results[i].ArcID != "ebre_g03_002"
		if inFirst && math.IsNaN(results[i].Bias) {
			t.Fatalf("sample %d in solvable batch has no bias", i)
		}
		if !inFirst && !math.IsNaN(results[i].Bias) {
			t.Fatalf("sample %d in skipped batch received a bias", i)
		}
	}
}

// TestVerticalEquivalentConstantTerm checks that the zenith evaluation
// isolates the constant coefficient regardless of the higher-order terms.
func TestVerticalEquivalentConstantTerm(t *testing.T) {
	cfg := gnss.DefaultConfig()
	cfg.MaxDegree = 3
	est := NewEstimator(cfg, gnss.Station{Name: "ebre", Modip: 40, Lon: 0})

	poly := make([]float64, est.basis.Size)
	for k := range poly {
		poly[k] = float64(k + 1)
	}
	want := poly[0] * gnss.GPSTECUPerMeter
	if got := est.VerticalEquivalent(poly); math.Abs(got-want) > 1e-12 {
		t.Errorf("vertical equivalent %.8f, want %.8f", got, want)
	}
}
