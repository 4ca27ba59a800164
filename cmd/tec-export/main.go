// Package main provides tec-export, a converter from calibrated result CSV
// to Parquet for analytical storage.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/tec-export ./cmd/tec-export
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/judeallred/gotecgg/internal/tecio"
)

var Version = "1.0.0"

var output = flag.String("o", "", "Output Parquet path (default: input with .parquet extension)")

func main() {
	log.SetFlags(log.Ldate | log.Ltime)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tec-export v%s - TEC result CSV to Parquet converter\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <results.csv[.gz]>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: missing input path\n")
		flag.Usage()
		os.Exit(1)
	}
	inputPath := flag.Arg(0)

	outPath := *output
	if outPath == "" {
		base := strings.TrimSuffix(strings.TrimSuffix(inputPath, ".gz"), ".csv")
		outPath = base + ".parquet"
	}

	startTime := time.Now()
	results, err := tecio.ReadResults(inputPath)
	if err != nil {
		log.Fatalf("Read results: %v", err)
	}
	log.Printf("Loaded %d rows from %s", len(results), inputPath)

	if err := tecio.WriteParquet(outPath, results); err != nil {
		log.Fatalf("Write parquet: %v", err)
	}

	info, _ := os.Stat(outPath)
	var size int64
	if info != nil {
		size = info.Size()
	}
	log.Printf("Wrote %d rows (%.1f MiB) to %s in %v",
		len(results), float64(size)/(1024*1024), outPath, time.Since(startTime).Round(time.Millisecond))
}
