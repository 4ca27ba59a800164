package calibration

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/judeallred/gotecgg/internal/gnss"
)

// rankTol scales the rank-detection tolerance: singular values below
// rankTol * max(rows, cols) * largest singular value are treated as zero.
const rankTol = 1e-12

// BatchStatus describes the outcome of one batch solve. Under-determined
// batches are recoverable: their samples keep null outputs and the run
// continues, with the condition enumerated in the run summary.
type BatchStatus struct {
	Index           int    // Batch index in epoch order
	Rows            int    // Calibratable samples in the batch
	Arcs            int    // Distinct arcs contributing bias columns
	UnderDetermined bool   // Bias and ionosphere could not be separated
	Reason          string // Why the batch was skipped, when it was
}

// Estimator solves the joint bias/ionosphere system batch by batch. The
// basis and scale constant are immutable, so one Estimator may be shared by
// all batch workers.
type Estimator struct {
	cfg     gnss.Config
	station gnss.Station
	basis   Basis
	scale   float64 // TECU per meter of geometry-free combination
}

// NewEstimator builds an estimator for the given configuration and station
// coordinates (already in the modip frame).
func NewEstimator(cfg gnss.Config, station gnss.Station) *Estimator {
	return &Estimator{
		cfg:     cfg,
		station: station,
		basis:   NewBasis(cfg.MaxDegree),
		scale:   gnss.GPSTECUPerMeter,
	}
}

// PartitionEpochs assigns every distinct epoch (as UnixNano) to a batch
// index: consecutive non-overlapping windows of size epochs each, final
// window possibly shorter but never dropped. The union of all batches covers
// the input epoch set exactly once.
func PartitionEpochs(epochsNano []int64, size int) (batchOf map[int64]int, nBatches int) {
	distinct := make(map[int64]struct{}, len(epochsNano))
	for _, e := range epochsNano {
		distinct[e] = struct{}{}
	}
	sorted := make([]int64, 0, len(distinct))
	for e := range distinct {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	batchOf = make(map[int64]int, len(sorted))
	for i, e := range sorted {
		batchOf[e] = i / size
	}
	if len(sorted) > 0 {
		nBatches = (len(sorted) + size - 1) / size
	}
	return batchOf, nBatches
}

// Calibrate solves every batch and annotates results in place with bias,
// slant TEC, vertical TEC and the batch vertical-equivalent value. ippModip
// and ippLon are the pierce point coordinates in the modip frame, index-
// aligned with results. Batches write to disjoint row sets and are solved
// concurrently.
func (e *Estimator) Calibrate(ctx context.Context, results []gnss.Result, ippModip, ippLon []float64, workers int) ([]BatchStatus, error) {
	if len(ippModip) != len(results) || len(ippLon) != len(results) {
		return nil, fmt.Errorf("calibration: coordinate slices (%d, %d) not aligned with %d results",
			len(ippModip), len(ippLon), len(results))
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	epochs := make([]int64, len(results))
	for i := range results {
		epochs[i] = results[i].Epoch.UnixNano()
	}
	batchOf, nBatches := PartitionEpochs(epochs, e.cfg.BatchSizeEpochs)
	if nBatches == 0 {
		return nil, nil
	}

	rowsByBatch := make([][]int, nBatches)
	discardedByBatch := make([][]int, nBatches)
	for i := range results {
		b := batchOf[epochs[i]]
		if results[i].ArcID == "" {
			discardedByBatch[b] = append(discardedByBatch[b], i)
			continue
		}
		rowsByBatch[b] = append(rowsByBatch[b], i)
	}

	statuses := make([]BatchStatus, nBatches)
	jobs := make(chan int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				e.solveBatch(b, rowsByBatch[b], discardedByBatch[b], results, ippModip, ippLon, &statuses[b])
			}
		}()
	}
	for b := 0; b < nBatches; b++ {
		select {
		case jobs <- b:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	return statuses, nil
}

// solveBatch builds and solves the joint system for one batch. Each sample
// contributes one row: its mapping value in the column of its arc, the
// polynomial basis evaluated at its pierce point offset from the station, and
// the vertical-projected levelled value as the right-hand side. An arc that
// spans a batch boundary appears as an independent unknown in each batch it
// touches. Rows from discarded arcs contribute no equations, but once the
// batch solves they still receive the batch vertical equivalent: the value
// belongs to the batch, not to any arc.
func (e *Estimator) solveBatch(idx int, rows, discarded []int, results []gnss.Result, ippModip, ippLon []float64, st *BatchStatus) {
	st.Index = idx
	st.Rows = len(rows)

	if len(rows) == 0 {
		st.UnderDetermined = true
		st.Reason = "no samples from valid arcs"
		return
	}

	colOf := make(map[string]int)
	var arcIDs []string
	for _, i := range rows {
		id := results[i].ArcID
		if _, ok := colOf[id]; !ok {
			colOf[id] = 0
			arcIDs = append(arcIDs, id)
		}
	}
	sort.Strings(arcIDs)
	for c, id := range arcIDs {
		colOf[id] = c
	}
	st.Arcs = len(arcIDs)

	// Bias and ionosphere are confounded for a single arc: the system needs
	// at least two arcs with different geometry to be identifiable.
	if len(arcIDs) < 2 {
		st.UnderDetermined = true
		st.Reason = fmt.Sprintf("only %d distinct arc(s)", len(arcIDs))
		return
	}

	nCols := len(arcIDs) + e.basis.Size
	if len(rows) < nCols {
		st.UnderDetermined = true
		st.Reason = fmt.Sprintf("%d equations for %d unknowns", len(rows), nCols)
		return
	}

	a := mat.NewDense(len(rows), nCols, nil)
	rhs := make([]float64, len(rows))
	basisRow := make([]float64, e.basis.Size)
	for r, i := range rows {
		res := &results[i]
		a.Set(r, colOf[res.ArcID], res.Mapping)
		e.basis.Eval(ippModip[i]-e.station.Modip, lonDelta(ippLon[i], e.station.Lon), basisRow)
		for k, v := range basisRow {
			a.Set(r, len(arcIDs)+k, v)
		}
		rhs[r] = res.Levelled * res.Mapping
	}

	coeffs, rank, ok := solveLeastSquares(a, rhs)
	if !ok {
		st.UnderDetermined = true
		st.Reason = "decomposition failed"
		return
	}
	if rank < nCols {
		st.UnderDetermined = true
		st.Reason = fmt.Sprintf("rank %d below %d unknowns", rank, nCols)
		return
	}

	vertEq := e.VerticalEquivalent(coeffs[len(arcIDs):])
	for _, i := range rows {
		res := &results[i]
		bias := coeffs[colOf[res.ArcID]]
		res.Bias = bias
		res.SlantTEC = (res.Levelled - bias) * e.scale
		res.VertTEC = res.SlantTEC * res.Mapping
		res.VertEquivalent = vertEq
	}
	for _, i := range discarded {
		results[i].VertEquivalent = vertEq
	}
}

// solveLeastSquares computes the least-squares solution of a*x = b through a
// singular value decomposition, returning the numerical rank alongside the
// solution. The SVD is preferred over normal equations: bias columns from
// short-lived arcs and near-collinear basis columns make the normal matrix
// ill-conditioned long before the problem itself is singular.
func solveLeastSquares(a *mat.Dense, b []float64) (x []float64, rank int, ok bool) {
	m, n := a.Dims()

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, 0, false
	}
	s := svd.Values(nil)
	if len(s) == 0 || s[0] == 0 {
		return nil, 0, true
	}
	tol := rankTol * float64(max(m, n)) * s[0]
	for _, v := range s {
		if v > tol {
			rank++
		}
	}
	if rank < n {
		return nil, rank, true
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// x = V * Sigma^-1 * U^T * b
	w := make([]float64, len(s))
	for j := range s {
		var dot float64
		for i := 0; i < m; i++ {
			dot += u.At(i, j) * b[i]
		}
		w[j] = dot / s[j]
	}
	x = make([]float64, n)
	for i := 0; i < n; i++ {
		var dot float64
		for j := range w {
			dot += v.At(i, j) * w[j]
		}
		x[i] = dot
	}
	return x, rank, true
}

// lonDelta wraps a longitude difference into [-180, 180).
func lonDelta(lon, ref float64) float64 {
	d := lon - ref
	for d >= 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return d
}
