// Package spectra implements the engine over plain-text spectra files.
//
// A file holds one or more records. A record starts with an optional header line
//
//	> name=zenith sza=45.2 time=2024-03-01T10:00:00Z
//
// followed by one "wavelength intensity" pair per line. Blank lines end a record and lines
// starting with '#' are comments.
package spectra

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Record is one spectrum.
type Record struct {
	// Number is 1-based.
	Number int
	Name   string
	SZA    float64
	HasSZA bool
	Time   time.Time
	Meta   map[string]string
	Lambda []float64
	Signal []float64
}

// ReadFile parses the spectra file at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spectra file: %w", err)
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Parse reads every record from r.
func Parse(r io.Reader) ([]Record, error) {
	var (
		records []Record
		cur     *Record
		lineNo  int
	)
	flush := func() {
		if cur != nil && (len(cur.Lambda) > 0 || cur.Meta != nil) {
			cur.Number = len(records) + 1
			records = append(records, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, ">"):
			flush()
			rec, err := parseHeader(strings.TrimSpace(line[1:]))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur = rec
		default:
			x, y, err := parsePoint(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if cur == nil {
				cur = &Record{}
			}
			if n := len(cur.Lambda); n > 0 && x <= cur.Lambda[n-1] {
				return nil, fmt.Errorf("line %d: wavelength %g is not increasing", lineNo, x)
			}
			cur.Lambda = append(cur.Lambda, x)
			cur.Signal = append(cur.Signal, y)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read spectra: %w", err)
	}
	flush()
	return records, nil
}

func parseHeader(s string) (*Record, error) {
	rec := &Record{Meta: make(map[string]string)}
	for _, field := range strings.Fields(s) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("malformed header field %q", field)
		}
		switch key {
		case "name":
			rec.Name = value
		case "sza":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil || math.IsNaN(v) {
				return nil, fmt.Errorf("invalid sza %q", value)
			}
			rec.SZA, rec.HasSZA = v, true
		case "time", "date":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("invalid time %q: %w", value, err)
			}
			rec.Time = t
		default:
			rec.Meta[key] = value
		}
	}
	return rec, nil
}

func parsePoint(line string) (float64, float64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected 2 columns, got %d", len(fields))
	}
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid wavelength %q", fields[0])
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid intensity %q", fields[1])
	}
	return x, y, nil
}
