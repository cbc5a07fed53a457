package eval

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CurveHeader is the column order of a persisted curve.
var CurveHeader = []string{"tau", "coverage", "hallucination_rate"}

// WriteCurve writes points as a delimited table with a header row. Values are
// rounded to three decimals; delim is usually '\t' or ','.
func WriteCurve(w io.Writer, points []CoveragePoint, delim rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim
	if err := cw.Write(CurveHeader); err != nil {
		return fmt.Errorf("write curve header: %w", err)
	}
	for _, p := range points {
		rec := []string{
			formatValue(p.Threshold),
			formatValue(round(p.Coverage, 3)),
			formatValue(round(p.HallucinationRate, 3)),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write curve row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCurve parses a table written by WriteCurve. The legacy "halluc_rate"
// column name is accepted for the third column.
func ReadCurve(r io.Reader, delim rune) ([]CoveragePoint, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = len(CurveHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty input", ErrMalformedCurve)
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedCurve, err)
	}
	if !headerMatches(header) {
		return nil, fmt.Errorf("%w: header %v", ErrMalformedCurve, header)
	}

	var points []CoveragePoint
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedCurve, err)
		}
		var vals [3]float64
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %s: %w", ErrMalformedCurve, line, CurveHeader[i], err)
			}
			vals[i] = v
		}
		points = append(points, CoveragePoint{Threshold: vals[0], Coverage: vals[1], HallucinationRate: vals[2]})
	}
	return points, nil
}

func headerMatches(h []string) bool {
	if len(h) != len(CurveHeader) {
		return false
	}
	for i := range h {
		name := strings.ToLower(strings.TrimSpace(h[i]))
		if name == CurveHeader[i] || (i == 2 && name == "halluc_rate") {
			continue
		}
		return false
	}
	return true
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
