package glm

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var ErrEmptyDesign = errors.New("design matrix has no rows")

// LoadDesign reads a design matrix from a CSV file with one row per frame.
// A first row that does not parse as numbers is treated as a header.
func LoadDesign(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open design %s", path)
	}
	defer f.Close()

	x, err := ReadDesign(f)
	return x, errors.Wrapf(err, "design %s", path)
}

// ReadDesign parses a CSV design matrix.
func ReadDesign(r io.Reader) (*mat.Dense, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse CSV")
	}

	var data []float64
	rows, cols := 0, 0
	for i, rec := range records {
		vals, err := parseRow(rec)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, errors.Wrapf(err, "row %d", i+1)
		}
		cols = len(vals)
		data = append(data, vals...)
		rows++
	}
	if rows == 0 {
		return nil, ErrEmptyDesign
	}
	return mat.NewDense(rows, cols, data), nil
}

func parseRow(rec []string) ([]float64, error) {
	vals := make([]float64, len(rec))
	for j, field := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, err
		}
		vals[j] = v
	}
	return vals, nil
}
