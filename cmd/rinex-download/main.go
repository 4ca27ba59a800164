// rinex-download - Parallel downloader for daily RINEX observation archives
//
// Fetches gzipped daily observation files for a set of receivers over a date
// range. Supports resume (existing files are skipped) and parallel workers.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/rinex-download ./cmd/rinex-download

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/judeallred/gotecgg/internal/common"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const BaseURL = "https://igs.bkg.bund.de/root_ftp/IGS/obs"

type DownloadStats struct {
	Completed atomic.Uint64
	Failed    atomic.Uint64
	Skipped   atomic.Uint64
	Bytes     atomic.Uint64
}

func downloadFile(url, destPath string, timeout time.Duration, stats *DownloadStats) error {
	// Resume support: keep files that already landed
	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		stats.Skipped.Add(1)
		return nil
	}

	client := &http.Client{
		Timeout: timeout,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP GET failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found (404)")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file failed: %w", err)
	}

	n, err := io.Copy(f, resp.Body)
	f.Close()

	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("download failed: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename failed: %w", err)
	}

	stats.Bytes.Add(uint64(n))
	stats.Completed.Add(1)
	return nil
}

// rinexName builds the daily RINEX v2 short file name: ssssddd0.yyo.gz
func rinexName(station string, day time.Time) string {
	doy := day.YearDay()
	yy := day.Year() % 100
	return fmt.Sprintf("%s%03d0.%02do.gz", strings.ToLower(station), doy, yy)
}

// generateFileList enumerates (url, filename) pairs for each station and day
// in the inclusive range.
func generateFileList(stations []string, start, end time.Time) (urls, names []string) {
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for _, st := range stations {
			name := rinexName(st, day)
			url := fmt.Sprintf("%s/%d/%03d/%s", BaseURL, day.Year(), day.YearDay(), name)
			urls = append(urls, url)
			names = append(names, name)
		}
	}
	return urls, names
}

func main() {
	destDir := flag.String("dest", common.DefaultConfig().RINEXDataDir(), "Destination directory")
	workers := flag.Int("workers", 4, "Parallel download workers")
	timeout := flag.Duration("timeout", 300*time.Second, "HTTP timeout per download")
	stations := flag.String("stations", "", "Comma-separated receiver acronyms (required)")
	startDate := flag.String("start", "", "Start date (YYYY-MM-DD, required)")
	endDate := flag.String("end", "", "End date (YYYY-MM-DD, default: start date)")
	listOnly := flag.Bool("list", false, "List files without downloading")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "rinex-download v%s - RINEX Observation Downloader\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Downloads daily gzipped RINEX observation files.\n\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -stations ebre,mall -start 2024-06-01 -end 2024-06-30\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -stations ebre -start 2024-06-01 -list\n", os.Args[0])
	}

	flag.Parse()

	if *stations == "" || *startDate == "" {
		fmt.Fprintf(os.Stderr, "Error: -stations and -start are required\n")
		flag.Usage()
		os.Exit(1)
	}

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid start date: %v\n", err)
		os.Exit(1)
	}
	end := start
	if *endDate != "" {
		end, err = time.Parse("2006-01-02", *endDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid end date: %v\n", err)
			os.Exit(1)
		}
	}
	if end.Before(start) {
		fmt.Fprintf(os.Stderr, "Error: end date before start date\n")
		os.Exit(1)
	}

	stationList := strings.Split(*stations, ",")
	urls, names := generateFileList(stationList, start, end)

	if *listOnly {
		fmt.Printf("RINEX files (%d):\n\n", len(urls))
		for _, u := range urls {
			fmt.Printf("  %s\n", u)
		}
		return
	}

	fmt.Println("=========================================================")
	fmt.Printf("RINEX Download v%s\n", Version)
	fmt.Println("=========================================================")
	fmt.Printf("Source:      %s\n", BaseURL)
	fmt.Printf("Destination: %s\n", *destDir)
	fmt.Printf("Stations:    %s\n", *stations)
	fmt.Printf("Date Range:  %s to %s\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
	fmt.Printf("Files:       %d\n", len(urls))
	fmt.Printf("Workers:     %d parallel\n", *workers)
	fmt.Println()

	if err := os.MkdirAll(*destDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Cannot create directory: %v\n", err)
		os.Exit(1)
	}

	startTime := time.Now()
	stats := &DownloadStats{}

	// Worker pool
	sem := make(chan struct{}, *workers)
	var wg sync.WaitGroup

	for i := range urls {
		sem <- struct{}{}
		wg.Add(1)

		go func(url, fname string) {
			defer func() { <-sem }()
			defer wg.Done()

			destPath := filepath.Join(*destDir, fname)
			before := stats.Skipped.Load()
			if err := downloadFile(url, destPath, *timeout, stats); err != nil {
				fmt.Printf("[%s] ERROR: %v\n", fname, err)
				stats.Failed.Add(1)
			} else if stats.Skipped.Load() == before {
				fmt.Printf("[%s] Downloaded\n", fname)
			}
		}(urls[i], names[i])
	}

	wg.Wait()

	elapsed := time.Since(startTime)
	completed := stats.Completed.Load()
	failed := stats.Failed.Load()
	skipped := stats.Skipped.Load()
	bytes := stats.Bytes.Load()

	fmt.Println()
	fmt.Println("=========================================================")
	fmt.Println("Download Summary")
	fmt.Println("=========================================================")
	fmt.Printf("Downloaded: %d files (%.2f MB)\n", completed, float64(bytes)/1024/1024)
	fmt.Printf("Skipped:    %d files (already exist)\n", skipped)
	fmt.Printf("Failed:     %d files\n", failed)
	fmt.Printf("Elapsed:    %v\n", elapsed.Round(time.Second))
	fmt.Println("=========================================================")

	if failed > 0 {
		os.Exit(1)
	}
}
