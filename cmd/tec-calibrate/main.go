// Package main provides the TEC calibration command.
//
// Architecture:
//   sample CSV(.gz) -> arc extraction (per-satellite workers) ->
//   batched bias/ionosphere estimation (per-batch workers) -> result CSV(.gz)
//
// Arc extraction and batch solving both run on worker pools; gzipped input
// is decompressed in parallel across all cores.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/judeallred/gotecgg/internal/common"
	"github.com/judeallred/gotecgg/internal/gnss"
	"github.com/judeallred/gotecgg/internal/pipeline"
	"github.com/judeallred/gotecgg/internal/tecio"
)

// Version is set at build time
var Version = "1.0.0"

// =============================================================================
// Command-line flags
// =============================================================================

var (
	station    = flag.String("station", "", "Receiver acronym (required)")
	stationLat = flag.Float64("lat", 0, "Receiver latitude in degrees (required)")
	stationLon = flag.Float64("lon", 0, "Receiver longitude in degrees (required)")
	output     = flag.String("o", "", "Output CSV path; .gz enables compression (default: TEC data dir)")

	maxDegree  = flag.Int("degree", 3, "Maximum 2D polynomial degree of the ionosphere model")
	batchSize  = flag.Int("batch-epochs", 30, "Distinct epochs per calibration batch")
	thrAbs     = flag.Float64("threshold-abs", 5.0, "Absolute cycle slip threshold in meters")
	thrStd     = flag.Float64("threshold-std", 5.0, "Running-sigma cycle slip multiplier")
	thrJump    = flag.Float64("threshold-jump", 10.0, "Residual levelling jump threshold in meters")
	minArcLen  = flag.Int("min-arc", 30, "Minimum samples for an arc to survive")
	maxGapSec  = flag.Float64("max-gap", 0, "Loss-of-lock gap in seconds; 0 infers per satellite")
	numWorkers = flag.Int("workers", 0, "Worker pool size; 0 = NumCPU")
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tec-calibrate v%s - GNSS TEC Calibration\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <samples.csv[.gz]>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Estimates per-arc biases and a batch ionosphere model from\n")
		fmt.Fprintf(os.Stderr, "geometry-free observation samples of one receiver.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 || *station == "" {
		fmt.Fprintf(os.Stderr, "Error: missing input path or -station\n")
		flag.Usage()
		os.Exit(1)
	}
	inputPath := flag.Arg(0)

	outPath := *output
	if outPath == "" {
		base := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(inputPath), ".gz"), ".csv")
		outPath = filepath.Join(common.DefaultConfig().TECDataDir(), base+".tec.csv.gz")
	}

	cfg := gnss.Config{
		MaxDegree:       *maxDegree,
		BatchSizeEpochs: *batchSize,
		ThresholdAbs:    *thrAbs,
		ThresholdStd:    *thrStd,
		ThresholdJump:   *thrJump,
		MinArcLength:    *minArcLen,
		MaxGap:          time.Duration(*maxGapSec * float64(time.Second)),
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration: %v", err)
	}

	log.Println("=================================================")
	log.Printf("TEC Calibrator v%s", Version)
	log.Println("=================================================")
	log.Printf("Input: %s", inputPath)
	log.Printf("Station: %s (%.4f, %.4f)", *station, *stationLat, *stationLon)
	log.Printf("Model: degree %d, %d-epoch batches", cfg.MaxDegree, cfg.BatchSizeEpochs)

	// Context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutdown requested...")
		cancel()
	}()

	startTime := time.Now()

	samples, err := tecio.ReadSamples(inputPath)
	if err != nil {
		log.Fatalf("Read samples: %v", err)
	}
	log.Printf("Loaded %d samples in %v", len(samples), time.Since(startTime).Round(time.Millisecond))

	runner := &pipeline.Runner{Cfg: cfg, Workers: *numWorkers}
	st := pipeline.Station{Name: *station, Lat: *stationLat, Lon: *stationLon}

	results, summary, err := runner.Run(ctx, st, samples)
	if err != nil {
		log.Fatalf("Calibration: %v", err)
	}

	for _, w := range summary.Warnings {
		log.Printf("Warning: %s", w)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		log.Fatalf("Create output directory: %v", err)
	}
	if err := tecio.WriteResults(outPath, results); err != nil {
		log.Fatalf("Write results: %v", err)
	}

	elapsed := time.Since(startTime)
	log.Println("=================================================")
	log.Printf("Satellites: %d | Arcs: %d | Batches: %d (%d skipped)",
		summary.Satellites, summary.Arcs, summary.Batches, summary.UnderDetermined)
	log.Printf("Samples: %d total, %d calibrated, %d discarded",
		summary.Samples, summary.Calibrated, summary.Discarded)
	log.Printf("Arc breaks: %d cycle slips, %d loss of lock", summary.CycleSlips, summary.LossOfLock)
	log.Printf("Done in %v -> %s", elapsed.Round(time.Millisecond), outPath)
}
