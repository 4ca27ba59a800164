package arcs

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/judeallred/gotecgg/internal/gnss"
)

// svJob is a unit of work for the per-satellite worker pool.
type svJob struct {
	sv      string
	samples []gnss.Sample
}

// svResult is the outcome of one satellite's extraction.
type svResult struct {
	sv      string
	results []gnss.Result
	err     error
}

// ExtractAll groups samples by satellite, runs the arc state machine for each
// satellite on a worker pool, and merges the annotated streams back into one
// table ordered by (satellite, epoch). Satellites are fully independent in
// pass 1, so workers share nothing but the read-only Extractor.
//
// The input may interleave satellites, but within each satellite the samples
// must already be in strictly increasing epoch order.
func (e *Extractor) ExtractAll(ctx context.Context, samples []gnss.Sample, workers int) ([]gnss.Result, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	bySV := make(map[string][]gnss.Sample)
	var order []string
	for _, s := range samples {
		if _, ok := bySV[s.SV]; !ok {
			order = append(order, s.SV)
		}
		bySV[s.SV] = append(bySV[s.SV], s)
	}
	sort.Strings(order)

	jobs := make(chan svJob, workers)
	out := make(chan svResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res, err := e.ExtractSatellite(job.sv, job.samples)
				select {
				case out <- svResult{sv: job.sv, results: res, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, sv := range order {
			select {
			case jobs <- svJob{sv: sv, samples: bySV[sv]}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	collected := make(map[string][]gnss.Result, len(order))
	var firstErr error
	for res := range out {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		collected[res.sv] = res.results
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := make([]gnss.Result, 0, len(samples))
	for _, sv := range order {
		merged = append(merged, collected[sv]...)
	}
	return merged, nil
}
