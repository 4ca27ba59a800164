// Package arcs segments per-satellite observation streams into continuous,
// validated arcs. An arc is a maximal run of samples with no detected
// discontinuity: cycle slips show up as jumps in the code/phase detector
// combination, loss-of-lock as excessive time gaps. Surviving arcs are
// levelled, aligning the precise phase-derived geometry-free values to the
// absolute code-derived level with a single per-arc offset.
package arcs

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/judeallred/gotecgg/internal/gnss"
)

// detectorWindow is the trailing window length for the running first
// difference statistics of the detector combination.
const detectorWindow = 30

// Extractor owns the arc segmentation parameters. One Extractor serves any
// number of satellites; all per-satellite state lives in a cursor created per
// stream, so concurrent ExtractSatellite calls never share mutable state.
type Extractor struct {
	cfg      gnss.Config
	receiver string
}

// New returns an Extractor for the given receiver acronym. The receiver name
// prefixes arc identifiers, lowercased and truncated to four characters in
// RINEX station style.
func New(cfg gnss.Config, receiver string) *Extractor {
	receiver = strings.ToLower(receiver)
	if len(receiver) > 4 {
		receiver = receiver[:4]
	}
	return &Extractor{cfg: cfg, receiver: receiver}
}

// ExtractSatellite runs the arc state machine over one satellite's
// time-ordered samples. The returned slice is index-aligned with the input.
// A non-monotonic epoch sequence is a contract violation and aborts with
// *gnss.EpochOrderError; nothing is reordered or dropped silently.
func (e *Extractor) ExtractSatellite(sv string, samples []gnss.Sample) ([]gnss.Result, error) {
	results := make([]gnss.Result, len(samples))
	for i := range samples {
		results[i] = gnss.Result{
			Sample:         samples[i],
			Levelled:       math.NaN(),
			Bias:           math.NaN(),
			SlantTEC:       math.NaN(),
			VertTEC:        math.NaN(),
			VertEquivalent: math.NaN(),
		}
	}
	if len(samples) == 0 {
		return results, nil
	}

	cur := &cursor{
		ext:    e,
		sv:     sv,
		maxGap: e.maxGapFor(samples),
	}
	for i := range samples {
		if i > 0 && !samples[i].Epoch.After(samples[i-1].Epoch) {
			return nil, &gnss.EpochOrderError{
				SV:    sv,
				Index: i,
				Epoch: samples[i].Epoch,
				Prev:  samples[i-1].Epoch,
			}
		}
		cur.step(i, &samples[i], results)
	}
	cur.closeArc(results)
	return results, nil
}

// maxGapFor resolves the loss-of-lock gap threshold. An explicit MaxGap wins;
// otherwise the threshold is inferred per satellite as three times the median
// observed sampling interval, a robust multiple that tolerates isolated
// missing epochs without splitting arcs on every hiccup.
func (e *Extractor) maxGapFor(samples []gnss.Sample) time.Duration {
	if e.cfg.MaxGap > 0 {
		return e.cfg.MaxGap
	}
	if len(samples) < 2 {
		return time.Duration(math.MaxInt64)
	}
	gaps := make([]time.Duration, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		if d := samples[i].Epoch.Sub(samples[i-1].Epoch); d > 0 {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) == 0 {
		return time.Duration(math.MaxInt64)
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	median := gaps[len(gaps)/2]
	return 3 * median
}

// =============================================================================
// Per-satellite cursor
// =============================================================================

// cursor is the mutable state for one satellite's stream: the open arc
// buffer, the trailing detector difference statistics, and the cumulative
// re-levelling correction.
type cursor struct {
	ext    *Extractor
	sv     string
	maxGap time.Duration

	open    []int // indices of the open arc's samples
	arcSeq  int   // arcs started so far for this satellite
	prevIdx int   // index of the previous sample, valid when len(open) > 0

	diffs     []float64 // trailing window of detector first differences
	corr      float64   // cumulative re-levelling correction within the arc
	detSum    float64   // sum of corrected detector values over the arc
	prevDet   float64   // previous corrected detector value
	detValid  bool      // prevDet holds a value from the current arc
	corrByIdx map[int]float64
}

// step advances the state machine by one sample.
func (c *cursor) step(i int, s *gnss.Sample, results []gnss.Result) {
	if len(c.open) == 0 {
		// The very first sample of a satellite, or the first after a
		// closure, always opens a new arc: there is no prior difference
		// to test against.
		c.openArc(i, s)
		return
	}

	prev := &results[c.prevIdx].Sample
	gap := s.Epoch.Sub(prev.Epoch)
	if gap > c.maxGap {
		c.closeArc(results)
		results[i].LossOfLock = true
		c.openArc(i, s)
		return
	}

	diff := s.CodePhaseDiff - prev.CodePhaseDiff
	threshold := c.ext.cfg.ThresholdAbs
	if sd := c.runningStd(); c.ext.cfg.ThresholdStd*sd > threshold {
		threshold = c.ext.cfg.ThresholdStd * sd
	}
	// Inclusive boundary: a difference exactly at the threshold counts as
	// a slip.
	if math.Abs(diff) >= threshold {
		c.closeArc(results)
		results[i].CycleSlip = true
		c.openArc(i, s)
		return
	}

	c.pushDiff(diff)

	// Residual jump below the slip threshold but above the levelling
	// threshold: a partial-cycle artifact. Re-level locally by folding the
	// jump into the cumulative correction instead of closing the arc.
	det := s.CodePhaseDiff - c.corr
	if c.detValid {
		if jump := det - c.prevDet; math.Abs(jump) > c.ext.cfg.ThresholdJump {
			c.corr += jump
			det -= jump
		}
	}

	c.open = append(c.open, i)
	c.corrByIdx[i] = c.corr
	c.detSum += det
	c.prevDet = det
	c.detValid = true
	c.prevIdx = i
}

func (c *cursor) openArc(i int, s *gnss.Sample) {
	c.arcSeq++
	c.open = c.open[:0]
	c.open = append(c.open, i)
	c.diffs = c.diffs[:0]
	c.corr = 0
	c.corrByIdx = map[int]float64{i: 0}
	c.detSum = s.CodePhaseDiff
	c.prevDet = s.CodePhaseDiff
	c.detValid = true
	c.prevIdx = i
}

// closeArc finalizes the open arc: short arcs are discarded (null arc id, no
// levelled value), surviving arcs get a deterministic identifier and a single
// level offset applied to every geometry-free value.
func (c *cursor) closeArc(results []gnss.Result) {
	n := len(c.open)
	if n == 0 {
		return
	}
	defer func() {
		c.open = c.open[:0]
		c.detValid = false
	}()

	if n < c.ext.cfg.MinArcLength {
		return
	}

	arcID := fmt.Sprintf("%s_%s_%03d", c.ext.receiver, strings.ToLower(c.sv), c.arcSeq)
	offset := c.detSum / float64(n)
	for _, idx := range c.open {
		r := &results[idx]
		r.ArcID = arcID
		r.Levelled = r.GeomFree - c.corrByIdx[idx] - offset
	}
}

func (c *cursor) pushDiff(d float64) {
	if len(c.diffs) == detectorWindow {
		copy(c.diffs, c.diffs[1:])
		c.diffs = c.diffs[:detectorWindow-1]
	}
	c.diffs = append(c.diffs, d)
}

// runningStd is the standard deviation of the trailing detector differences;
// zero until at least two differences are available, so early samples fall
// back to the absolute threshold alone.
func (c *cursor) runningStd() float64 {
	n := len(c.diffs)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, d := range c.diffs {
		sum += d
	}
	mean := sum / float64(n)
	var ss float64
	for _, d := range c.diffs {
		ss += (d - mean) * (d - mean)
	}
	return math.Sqrt(ss / float64(n-1))
}
