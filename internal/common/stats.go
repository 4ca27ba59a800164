package common

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats holds atomic counters for pipeline telemetry.
type Stats struct {
	TotalSamples        uint64 // Atomic counter for samples processed
	TotalBytesRead      uint64 // Atomic counter for bytes read from input
	CurrentSolveLatency uint64 // Atomic gauge for the latest batch solve, nanoseconds

	// Internal state for the reporter
	running     atomic.Bool
	stopCh      chan struct{}
	silent      bool
	lastSamples uint64
	lastBytes   uint64
	lastTime    time.Time

	// Moving average window for the sample rate
	rateWindow []float64
	rateIndex  int
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		stopCh:     make(chan struct{}),
		rateWindow: make([]float64, 10), // 10-sample moving average (5 seconds)
	}
}

// AddSamples atomically increments the processed sample counter.
func (s *Stats) AddSamples(count uint64) {
	atomic.AddUint64(&s.TotalSamples, count)
}

// AddBytes atomically increments the bytes-read counter.
func (s *Stats) AddBytes(count uint64) {
	atomic.AddUint64(&s.TotalBytesRead, count)
}

// SetSolveLatency atomically records the latest batch solve duration.
func (s *Stats) SetSolveLatency(d time.Duration) {
	atomic.StoreUint64(&s.CurrentSolveLatency, uint64(d.Nanoseconds()))
}

// GetTotalSamples atomically reads the processed sample count.
func (s *Stats) GetTotalSamples() uint64 {
	return atomic.LoadUint64(&s.TotalSamples)
}

// GetTotalBytes atomically reads the bytes-read count.
func (s *Stats) GetTotalBytes() uint64 {
	return atomic.LoadUint64(&s.TotalBytesRead)
}

// GetSolveLatency atomically reads the latest batch solve duration.
func (s *Stats) GetSolveLatency() time.Duration {
	return time.Duration(atomic.LoadUint64(&s.CurrentSolveLatency))
}

// SetSilent enables or disables silent mode.
func (s *Stats) SetSilent(silent bool) {
	s.silent = silent
}

// StartReporter starts a background goroutine that prints telemetry every
// 500ms using newline-based output to avoid conflicts with log.Printf.
func (s *Stats) StartReporter() {
	if s.running.Load() {
		return // Already running
	}

	s.running.Store(true)
	s.lastTime = time.Now()
	s.lastSamples = 0
	s.lastBytes = 0

	go s.reporterLoop()
}

// StopReporter stops the background reporter goroutine.
func (s *Stats) StopReporter() {
	if !s.running.Load() {
		return
	}

	s.running.Store(false)
	close(s.stopCh)
}

func (s *Stats) reporterLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.printStatus()
		}
	}
}

func (s *Stats) printStatus() {
	if s.silent {
		return
	}

	now := time.Now()
	elapsed := now.Sub(s.lastTime).Seconds()

	if elapsed < 0.001 {
		// Avoid division by zero on first tick
		return
	}

	currentSamples := s.GetTotalSamples()
	currentBytes := s.GetTotalBytes()

	deltaSamples := currentSamples - s.lastSamples
	deltaBytes := currentBytes - s.lastBytes

	mibPerSec := (float64(deltaBytes) / (1024 * 1024)) / elapsed
	krps := (float64(deltaSamples) / 1_000) / elapsed

	s.rateWindow[s.rateIndex] = krps
	s.rateIndex = (s.rateIndex + 1) % len(s.rateWindow)

	var sum float64
	var count int
	for _, v := range s.rateWindow {
		if v > 0 {
			sum += v
			count++
		}
	}
	smoothed := 0.0
	if count > 0 {
		smoothed = sum / float64(count)
	}

	solveMs := float64(s.GetSolveLatency().Nanoseconds()) / 1_000_000

	fmt.Printf("[Progress] Throughput: %.2f MiB/s | Samples: %.2f krps (avg: %.2f) | Solve: %.2f ms | Total: %d samples\n",
		mibPerSec,
		krps,
		smoothed,
		solveMs,
		currentSamples,
	)

	s.lastSamples = currentSamples
	s.lastBytes = currentBytes
	s.lastTime = now
}

// Reset clears all counters.
func (s *Stats) Reset() {
	atomic.StoreUint64(&s.TotalSamples, 0)
	atomic.StoreUint64(&s.TotalBytesRead, 0)
	atomic.StoreUint64(&s.CurrentSolveLatency, 0)
	s.lastSamples = 0
	s.lastBytes = 0
	s.lastTime = time.Now()

	for i := range s.rateWindow {
		s.rateWindow[i] = 0
	}
	s.rateIndex = 0
}
