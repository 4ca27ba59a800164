// Package tecio reads and writes the on-disk formats of the calibration
// pipeline: the observation sample CSV consumed by tec-calibrate and the
// calibrated result CSV/Parquet it emits. Gzipped files are handled
// transparently by extension.
package tecio

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	"github.com/judeallred/gotecgg/internal/gnss"
)

// Sample CSV column indices.
const (
	colSV = iota
	colEpoch
	colGeomFree
	colCodePhaseDiff
	colElevation
	colAzimuth
	colIPPLat
	colIPPLon
	colMapping
	sampleColumns
)

// SampleHeader is the expected header row for sample CSV files.
var SampleHeader = []string{
	"sv", "epoch", "geom_free", "code_phase_diff",
	"elevation", "azimuth", "ipp_lat", "ipp_lon", "mapping",
}

// ResultHeader is the header row for calibrated result CSV files. Null
// outputs are written as empty fields.
var ResultHeader = []string{
	"sv", "epoch", "arc_id", "cycle_slip", "loss_of_lock",
	"geom_free", "code_phase_diff",
	"elevation", "azimuth", "ipp_lat", "ipp_lon", "mapping",
	"levelled", "bias", "slant_tec", "vert_tec", "vert_equivalent",
}

// openReader opens path for reading, decompressing .gz input on all cores.
func openReader(path string) (io.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReaderN(f, 256*1024, runtime.NumCPU())
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("gzip open %s: %w", path, err)
		}
		return gz, multiCloser{gz, f}, nil
	}
	return bufio.NewReaderSize(f, 64*1024), f, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReadSamples loads an observation sample CSV, gzipped or plain. A header
// row is detected and skipped. Rows are returned in file order; the engine
// enforces per-satellite epoch monotonicity itself.
func ReadSamples(path string) ([]gnss.Sample, error) {
	r, closer, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var samples []gnss.Sample
	var rowNum int
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		rowNum++
		if rowNum == 1 && len(record) > 0 && record[colSV] == SampleHeader[colSV] {
			continue
		}
		s, err := parseSampleRow(record, rowNum)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func parseSampleRow(fields []string, rowNum int) (gnss.Sample, error) {
	var s gnss.Sample
	if len(fields) < sampleColumns {
		return s, fmt.Errorf("row %d: %d columns, want %d", rowNum, len(fields), sampleColumns)
	}
	s.SV = strings.ToUpper(strings.TrimSpace(fields[colSV]))
	if s.SV == "" {
		return s, fmt.Errorf("row %d: empty satellite id", rowNum)
	}
	epoch, err := parseEpoch(fields[colEpoch])
	if err != nil {
		return s, fmt.Errorf("row %d: invalid epoch: %w", rowNum, err)
	}
	s.Epoch = epoch

	vals := [7]*float64{
		&s.GeomFree, &s.CodePhaseDiff, &s.Elevation, &s.Azimuth,
		&s.IPPLat, &s.IPPLon, &s.Mapping,
	}
	for i, dst := range vals {
		v, err := strconv.ParseFloat(fields[colGeomFree+i], 64)
		if err != nil {
			return s, fmt.Errorf("row %d: invalid %s: %w", rowNum, SampleHeader[colGeomFree+i], err)
		}
		*dst = v
	}
	return s, nil
}

// parseEpoch accepts RFC3339 timestamps or Unix seconds.
func parseEpoch(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if t, err := time.Parse(time.RFC3339, field); err == nil {
		return t.UTC(), nil
	}
	sec, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor unix seconds", field)
	}
	ns := int64(math.Round(sec * 1e9))
	return time.Unix(0, ns).UTC(), nil
}

// WriteResults writes the calibrated result table as CSV, gzip-compressed
// when path ends in .gz. Null calibration outputs become empty fields.
func WriteResults(path string, results []gnss.Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriterSize(f, 64*1024)
	var w io.Writer = bw
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(bw)
		w = gz
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ResultHeader); err != nil {
		return err
	}
	row := make([]string, len(ResultHeader))
	for i := range results {
		formatResultRow(&results[i], row)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatResultRow(r *gnss.Result, row []string) {
	row[0] = r.SV
	row[1] = r.Epoch.UTC().Format(time.RFC3339)
	row[2] = r.ArcID
	row[3] = strconv.FormatBool(r.CycleSlip)
	row[4] = strconv.FormatBool(r.LossOfLock)
	row[5] = formatFloat(r.GeomFree)
	row[6] = formatFloat(r.CodePhaseDiff)
	row[7] = formatFloat(r.Elevation)
	row[8] = formatFloat(r.Azimuth)
	row[9] = formatFloat(r.IPPLat)
	row[10] = formatFloat(r.IPPLon)
	row[11] = formatFloat(r.Mapping)
	row[12] = formatFloat(r.Levelled)
	row[13] = formatFloat(r.Bias)
	row[14] = formatFloat(r.SlantTEC)
	row[15] = formatFloat(r.VertTEC)
	row[16] = formatFloat(r.VertEquivalent)
}

// formatFloat renders NaN as the empty field, the CSV null convention of the
// result table.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadResults loads a calibrated result CSV written by WriteResults. Empty
// numeric fields come back as NaN.
func ReadResults(path string) ([]gnss.Result, error) {
	r, closer, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(ResultHeader)
	cr.ReuseRecord = true

	var results []gnss.Result
	var rowNum int
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		rowNum++
		if rowNum == 1 && record[0] == ResultHeader[0] {
			continue
		}
		res, err := parseResultRow(record, rowNum)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func parseResultRow(fields []string, rowNum int) (gnss.Result, error) {
	var r gnss.Result
	r.SV = fields[0]
	epoch, err := parseEpoch(fields[1])
	if err != nil {
		return r, fmt.Errorf("row %d: invalid epoch: %w", rowNum, err)
	}
	r.Epoch = epoch
	r.ArcID = fields[2]
	r.CycleSlip = fields[3] == "true"
	r.LossOfLock = fields[4] == "true"

	vals := [12]*float64{
		&r.GeomFree, &r.CodePhaseDiff,
		&r.Elevation, &r.Azimuth, &r.IPPLat, &r.IPPLon, &r.Mapping,
		&r.Levelled, &r.Bias, &r.SlantTEC, &r.VertTEC, &r.VertEquivalent,
	}
	for i, dst := range vals {
		*dst, err = parseNullableFloat(fields[5+i])
		if err != nil {
			return r, fmt.Errorf("row %d: invalid %s: %w", rowNum, ResultHeader[5+i], err)
		}
	}
	return r, nil
}

func parseNullableFloat(field string) (float64, error) {
	if field == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(field, 64)
}
