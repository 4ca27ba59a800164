package tecio

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/judeallred/gotecgg/internal/gnss"
)

// TECRecord is the Parquet schema of the calibrated result table. Optional
// fields are null for samples from discarded arcs or skipped batches.
type TECRecord struct {
	SV             string   `parquet:"sv"`
	Timestamp      int64    `parquet:"timestamp"`
	ArcID          string   `parquet:"arc_id"`
	CycleSlip      bool     `parquet:"cycle_slip"`
	LossOfLock     bool     `parquet:"loss_of_lock"`
	GeomFree       float64  `parquet:"geom_free"`
	CodePhaseDiff  float64  `parquet:"code_phase_diff"`
	Elevation      float64  `parquet:"elevation"`
	Azimuth        float64  `parquet:"azimuth"`
	IPPLat         float64  `parquet:"ipp_lat"`
	IPPLon         float64  `parquet:"ipp_lon"`
	Mapping        float64  `parquet:"mapping"`
	Levelled       *float64 `parquet:"levelled,optional"`
	Bias           *float64 `parquet:"bias,optional"`
	SlantTEC       *float64 `parquet:"slant_tec,optional"`
	VertTEC        *float64 `parquet:"vert_tec,optional"`
	VertEquivalent *float64 `parquet:"vert_equivalent,optional"`
}

// nullable maps the in-memory NaN sentinel to a Parquet null.
func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func fromNullable(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// ToRecord converts a calibrated result row to its Parquet representation.
func ToRecord(r *gnss.Result) TECRecord {
	return TECRecord{
		SV:             r.SV,
		Timestamp:      r.Epoch.UTC().Unix(),
		ArcID:          r.ArcID,
		CycleSlip:      r.CycleSlip,
		LossOfLock:     r.LossOfLock,
		GeomFree:       r.GeomFree,
		CodePhaseDiff:  r.CodePhaseDiff,
		Elevation:      r.Elevation,
		Azimuth:        r.Azimuth,
		IPPLat:         r.IPPLat,
		IPPLon:         r.IPPLon,
		Mapping:        r.Mapping,
		Levelled:       nullable(r.Levelled),
		Bias:           nullable(r.Bias),
		SlantTEC:       nullable(r.SlantTEC),
		VertTEC:        nullable(r.VertTEC),
		VertEquivalent: nullable(r.VertEquivalent),
	}
}

// FromRecord converts a Parquet row back to the in-memory result form.
func FromRecord(rec *TECRecord) gnss.Result {
	var r gnss.Result
	r.SV = rec.SV
	r.Epoch = time.Unix(rec.Timestamp, 0).UTC()
	r.ArcID = rec.ArcID
	r.CycleSlip = rec.CycleSlip
	r.LossOfLock = rec.LossOfLock
	r.GeomFree = rec.GeomFree
	r.CodePhaseDiff = rec.CodePhaseDiff
	r.Elevation = rec.Elevation
	r.Azimuth = rec.Azimuth
	r.IPPLat = rec.IPPLat
	r.IPPLon = rec.IPPLon
	r.Mapping = rec.Mapping
	r.Levelled = fromNullable(rec.Levelled)
	r.Bias = fromNullable(rec.Bias)
	r.SlantTEC = fromNullable(rec.SlantTEC)
	r.VertTEC = fromNullable(rec.VertTEC)
	r.VertEquivalent = fromNullable(rec.VertEquivalent)
	return r
}

// WriteParquet writes the result table to a Parquet file with snappy
// compression.
func WriteParquet(path string, results []gnss.Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := parquet.NewGenericWriter[TECRecord](f, parquet.Compression(&parquet.Snappy))
	buf := make([]TECRecord, 0, 10_000)
	for i := range results {
		buf = append(buf, ToRecord(&results[i]))
		if len(buf) == cap(buf) {
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("parquet write: %w", err)
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	return w.Close()
}

// ReadParquet loads a result table written by WriteParquet.
func ReadParquet(path string) ([]gnss.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parquet open %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[TECRecord](pf)
	defer reader.Close()

	results := make([]gnss.Result, 0, reader.NumRows())
	buf := make([]TECRecord, 10_000)
	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			results = append(results, FromRecord(&buf[i]))
		}
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parquet read %s: %w", path, err)
		}
	}
	return results, nil
}
