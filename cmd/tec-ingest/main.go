// Package main provides tec-ingest, a ClickHouse loader for calibrated TEC
// result files.
//
// Architecture:
//   result CSV(.gz) -> row batches -> ClickHouse batch insert (LZ4)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/judeallred/gotecgg/internal/common"
	"github.com/judeallred/gotecgg/internal/gnss"
	"github.com/judeallred/gotecgg/internal/tecio"
)

// Version is set at build time
var Version = "1.0.0"

const InsertBatchSize = 500_000

// Command-line flags
var (
	chHost      = flag.String("ch-host", "127.0.0.1:9000", "ClickHouse address")
	chDB        = flag.String("ch-db", "", "ClickHouse database (default: $CLICKHOUSE_DATABASE or gnss)")
	chTable     = flag.String("ch-table", "tec", "ClickHouse table")
	station     = flag.String("station", "", "Receiver acronym stored with each row (required)")
	createTable = flag.Bool("create", false, "Create the target table if missing")
	replace     = flag.Bool("replace", false, "Drop the affected monthly partitions before loading")
	silent      = flag.Bool("silent", false, "Suppress progress output")
)

// tableDDL is the target schema, partitioned by month to mirror the
// per-campaign loading pattern.
const tableDDL = `
CREATE TABLE IF NOT EXISTS %s (
    station          LowCardinality(String),
    sv               LowCardinality(String),
    timestamp        DateTime,
    arc_id           String,
    cycle_slip       Bool,
    loss_of_lock     Bool,
    geom_free        Float64,
    code_phase_diff  Float64,
    elevation        Float64,
    azimuth          Float64,
    ipp_lat          Float64,
    ipp_lon          Float64,
    mapping          Float64,
    levelled         Nullable(Float64),
    bias             Nullable(Float64),
    slant_tec        Nullable(Float64),
    vert_tec         Nullable(Float64),
    vert_equivalent  Nullable(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (station, sv, timestamp)
`

// nullable maps the in-memory NaN sentinel to a SQL NULL.
func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func appendResult(batch driver.Batch, station string, r *gnss.Result) error {
	return batch.Append(
		station,
		r.SV,
		r.Epoch.UTC(),
		r.ArcID,
		r.CycleSlip,
		r.LossOfLock,
		r.GeomFree,
		r.CodePhaseDiff,
		r.Elevation,
		r.Azimuth,
		r.IPPLat,
		r.IPPLon,
		r.Mapping,
		nullable(r.Levelled),
		nullable(r.Bias),
		nullable(r.SlantTEC),
		nullable(r.VertTEC),
		nullable(r.VertEquivalent),
	)
}

// truncatePartitions drops every monthly partition the result set touches,
// making a re-run idempotent for the same campaign.
func truncatePartitions(ctx context.Context, conn driver.Conn, tableFQN string, results []gnss.Result) error {
	months := make(map[string]struct{})
	for i := range results {
		months[results[i].Epoch.UTC().Format("200601")] = struct{}{}
	}
	for partition := range months {
		query := fmt.Sprintf("ALTER TABLE %s DROP PARTITION '%s'", tableFQN, partition)
		log.Printf("Truncating partition %s", partition)
		if err := conn.Exec(ctx, query); err != nil {
			if !strings.Contains(err.Error(), "not found") && !strings.Contains(err.Error(), "NO_SUCH_DATA_PART") {
				return err
			}
		}
	}
	return nil
}

func ingest(ctx context.Context, conn driver.Conn, tableFQN string, results []gnss.Result, stats *common.Stats) error {
	for start := 0; start < len(results); start += InsertBatchSize {
		end := start + InsertBatchSize
		if end > len(results) {
			end = len(results)
		}

		batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", tableFQN))
		if err != nil {
			return err
		}
		batchStart := time.Now()
		for i := start; i < end; i++ {
			if err := appendResult(batch, *station, &results[i]); err != nil {
				return fmt.Errorf("append row %d: %w", i, err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send batch: %w", err)
		}
		stats.AddSamples(uint64(end - start))
		stats.SetSolveLatency(time.Since(batchStart))
	}
	return nil
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tec-ingest v%s - ClickHouse TEC loader\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <results.csv[.gz]>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 || *station == "" {
		fmt.Fprintf(os.Stderr, "Error: missing input path or -station\n")
		flag.Usage()
		os.Exit(1)
	}
	inputPath := flag.Arg(0)

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

	log.Printf("Connecting to ClickHouse at %s...", *chHost)
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{*chHost},
		Auth: clickhouse.Auth{
			Database: db,
			Username: env.ClickHouseUser,
			Password: env.ClickHousePassword,
		},
		Settings: clickhouse.Settings{
			"max_execution_time":    60,
			"max_insert_block_size": 1048576,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		log.Fatalf("ClickHouse connection failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		log.Fatalf("ClickHouse ping failed: %v", err)
	}

	tableFQN := fmt.Sprintf("%s.%s", db, *chTable)
	if *createTable {
		if err := conn.Exec(ctx, fmt.Sprintf(tableDDL, tableFQN)); err != nil {
			log.Fatalf("Create table: %v", err)
		}
	}

	startTime := time.Now()
	results, err := tecio.ReadResults(inputPath)
	if err != nil {
		log.Fatalf("Read results: %v", err)
	}
	if info, err := os.Stat(inputPath); err == nil {
		log.Printf("Input: %s (%.1f MiB, %d rows)", inputPath, float64(info.Size())/(1024*1024), len(results))
	}

	if *replace {
		if err := truncatePartitions(ctx, conn, tableFQN, results); err != nil {
			log.Fatalf("Truncate partitions: %v", err)
		}
	}

	stats := common.NewStats()
	stats.SetSilent(*silent)
	stats.StartReporter()
	defer stats.StopReporter()

	if err := ingest(ctx, conn, tableFQN, results, stats); err != nil {
		log.Fatalf("Ingest: %v", err)
	}

	log.Printf("Ingested %d rows into %s in %v",
		stats.GetTotalSamples(), tableFQN, time.Since(startTime).Round(time.Millisecond))
}
