// Package main provides tec-ingest-native, a Parquet to ClickHouse loader
// over the native column protocol.
//
// Reads result Parquet files directly in Go and inserts via ch-go, avoiding
// server-side file() path restrictions.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/tec-ingest-native ./cmd/tec-ingest-native
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"

	"github.com/judeallred/gotecgg/internal/common"
	"github.com/judeallred/gotecgg/internal/gnss"
	"github.com/judeallred/gotecgg/internal/tecio"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const (
	NumWorkers = 4
	BatchSize  = 100_000
)

// Command-line flags
var (
	chHost  = flag.String("ch-host", "127.0.0.1:9000", "ClickHouse address")
	chDB    = flag.String("ch-db", "", "ClickHouse database (default: $CLICKHOUSE_DATABASE or gnss)")
	chTable = flag.String("ch-table", "tec", "ClickHouse table")
	station = flag.String("station", "", "Receiver acronym stored with each row (required)")
	silent  = flag.Bool("silent", false, "Suppress progress output")
)

// Batch holds column data for native insert
type Batch struct {
	Station        *proto.ColLowCardinality[string]
	SV             *proto.ColLowCardinality[string]
	Timestamp      *proto.ColDateTime
	ArcID          *proto.ColStr
	CycleSlip      *proto.ColBool
	LossOfLock     *proto.ColBool
	GeomFree       *proto.ColFloat64
	CodePhaseDiff  *proto.ColFloat64
	Elevation      *proto.ColFloat64
	Azimuth        *proto.ColFloat64
	IPPLat         *proto.ColFloat64
	IPPLon         *proto.ColFloat64
	Mapping        *proto.ColFloat64
	Levelled       *proto.ColNullable[float64]
	Bias           *proto.ColNullable[float64]
	SlantTEC       *proto.ColNullable[float64]
	VertTEC        *proto.ColNullable[float64]
	VertEquivalent *proto.ColNullable[float64]
}

func NewBatch() *Batch {
	return &Batch{
		Station:        new(proto.ColStr).LowCardinality(),
		SV:             new(proto.ColStr).LowCardinality(),
		Timestamp:      new(proto.ColDateTime),
		ArcID:          new(proto.ColStr),
		CycleSlip:      new(proto.ColBool),
		LossOfLock:     new(proto.ColBool),
		GeomFree:       new(proto.ColFloat64),
		CodePhaseDiff:  new(proto.ColFloat64),
		Elevation:      new(proto.ColFloat64),
		Azimuth:        new(proto.ColFloat64),
		IPPLat:         new(proto.ColFloat64),
		IPPLon:         new(proto.ColFloat64),
		Mapping:        new(proto.ColFloat64),
		Levelled:       new(proto.ColFloat64).Nullable(),
		Bias:           new(proto.ColFloat64).Nullable(),
		SlantTEC:       new(proto.ColFloat64).Nullable(),
		VertTEC:        new(proto.ColFloat64).Nullable(),
		VertEquivalent: new(proto.ColFloat64).Nullable(),
	}
}

func (b *Batch) Reset() {
	b.Station.Reset()
	b.SV.Reset()
	b.Timestamp.Reset()
	b.ArcID.Reset()
	b.CycleSlip.Reset()
	b.LossOfLock.Reset()
	b.GeomFree.Reset()
	b.CodePhaseDiff.Reset()
	b.Elevation.Reset()
	b.Azimuth.Reset()
	b.IPPLat.Reset()
	b.IPPLon.Reset()
	b.Mapping.Reset()
	b.Levelled.Reset()
	b.Bias.Reset()
	b.SlantTEC.Reset()
	b.VertTEC.Reset()
	b.VertEquivalent.Reset()
}

func (b *Batch) Len() int {
	return b.Timestamp.Rows()
}

func (b *Batch) Input() proto.Input {
	return proto.Input{
		{Name: "station", Data: b.Station},
		{Name: "sv", Data: b.SV},
		{Name: "timestamp", Data: b.Timestamp},
		{Name: "arc_id", Data: b.ArcID},
		{Name: "cycle_slip", Data: b.CycleSlip},
		{Name: "loss_of_lock", Data: b.LossOfLock},
		{Name: "geom_free", Data: b.GeomFree},
		{Name: "code_phase_diff", Data: b.CodePhaseDiff},
		{Name: "elevation", Data: b.Elevation},
		{Name: "azimuth", Data: b.Azimuth},
		{Name: "ipp_lat", Data: b.IPPLat},
		{Name: "ipp_lon", Data: b.IPPLon},
		{Name: "mapping", Data: b.Mapping},
		{Name: "levelled", Data: b.Levelled},
		{Name: "bias", Data: b.Bias},
		{Name: "slant_tec", Data: b.SlantTEC},
		{Name: "vert_tec", Data: b.VertTEC},
		{Name: "vert_equivalent", Data: b.VertEquivalent},
	}
}

// nullable maps the NaN sentinel to a protocol-level NULL.
func nullable(v float64) proto.Nullable[float64] {
	if math.IsNaN(v) {
		return proto.Null[float64]()
	}
	return proto.NewNullable(v)
}

func (b *Batch) AddResult(station string, r *gnss.Result) {
	b.Station.Append(station)
	b.SV.Append(r.SV)
	b.Timestamp.Append(r.Epoch.UTC())
	b.ArcID.Append(r.ArcID)
	b.CycleSlip.Append(r.CycleSlip)
	b.LossOfLock.Append(r.LossOfLock)
	b.GeomFree.Append(r.GeomFree)
	b.CodePhaseDiff.Append(r.CodePhaseDiff)
	b.Elevation.Append(r.Elevation)
	b.Azimuth.Append(r.Azimuth)
	b.IPPLat.Append(r.IPPLat)
	b.IPPLon.Append(r.IPPLon)
	b.Mapping.Append(r.Mapping)
	b.Levelled.Append(nullable(r.Levelled))
	b.Bias.Append(nullable(r.Bias))
	b.SlantTEC.Append(nullable(r.SlantTEC))
	b.VertTEC.Append(nullable(r.VertTEC))
	b.VertEquivalent.Append(nullable(r.VertEquivalent))
}

func flushBatch(ctx context.Context, conn *ch.Client, tableFQN string, batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (station, sv, timestamp, arc_id, cycle_slip, loss_of_lock, geom_free, code_phase_diff, elevation, azimuth, ipp_lat, ipp_lon, mapping, levelled, bias, slant_tec, vert_tec, vert_equivalent) VALUES", tableFQN)
	return conn.Do(ctx, ch.Query{
		Body:  query,
		Input: batch.Input(),
	})
}

func processFile(ctx context.Context, filePath, chHost, db, table string, stats *common.Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	fileName := filepath.Base(filePath)

	info, err := os.Stat(filePath)
	if err != nil {
		log.Printf("[%s] Stat error: %v", fileName, err)
		return
	}

	results, err := tecio.ReadParquet(filePath)
	if err != nil {
		log.Printf("[%s] Read error: %v", fileName, err)
		return
	}

	conn, err := ch.Dial(ctx, ch.Options{
		Address:     chHost,
		Database:    db,
		Compression: ch.CompressionLZ4,
	})
	if err != nil {
		log.Printf("[%s] Connect error: %v", fileName, err)
		return
	}
	defer conn.Close()

	tableFQN := fmt.Sprintf("%s.%s", db, table)
	startTime := time.Now()

	batch := NewBatch()
	for i := range results {
		batch.AddResult(*station, &results[i])
		if batch.Len() >= BatchSize {
			if err := flushBatch(ctx, conn, tableFQN, batch); err != nil {
				log.Printf("[%s] Insert error: %v", fileName, err)
				return
			}
			stats.AddSamples(uint64(batch.Len()))
			batch.Reset()
		}
	}
	if err := flushBatch(ctx, conn, tableFQN, batch); err != nil {
		log.Printf("[%s] Insert error: %v", fileName, err)
		return
	}
	stats.AddSamples(uint64(batch.Len()))
	stats.AddBytes(uint64(info.Size()))

	log.Printf("[%s] %d rows in %v", fileName, len(results), time.Since(startTime).Round(time.Millisecond))
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tec-ingest-native v%s - Parquet to ClickHouse loader\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <file.parquet>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  - Native Go Parquet reading (parquet-go)\n")
		fmt.Fprintf(os.Stderr, "  - ch-go native protocol with LZ4\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 || *station == "" {
		fmt.Fprintf(os.Stderr, "Error: missing input files or -station\n")
		flag.Usage()
		os.Exit(1)
	}

	env := common.DefaultConfig()
	db := *chDB
	if db == "" {
		db = env.ClickHouseDatabase
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutdown requested...")
		cancel()
	}()

	log.Printf("Protocol: parquet-go + ch-go Native with LZ4")
	log.Printf("Workers: %d | Batch: %d rows", NumWorkers, BatchSize)

	startTime := time.Now()
	stats := common.NewStats()
	stats.SetSilent(*silent)
	stats.StartReporter()
	defer stats.StopReporter()

	sem := make(chan struct{}, NumWorkers)
	var wg sync.WaitGroup
	for _, path := range flag.Args() {
		wg.Add(1)
		sem <- struct{}{}
		go func(p string) {
			defer func() { <-sem }()
			processFile(ctx, p, *chHost, db, *chTable, stats, &wg)
		}(path)
	}
	wg.Wait()

	log.Printf("Total: %d rows in %v", stats.GetTotalSamples(), time.Since(startTime).Round(time.Millisecond))
}
