// Package contrast holds named linear combinations of regression
// coefficients and the sidecar files they are persisted to.
package contrast

import (
	"encoding/binary"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// CSVFile and BinaryFile are the sidecar names written next to the images.
	CSVFile    = "matrix.csv"
	BinaryFile = "matrix.bin"

	// Decimals is the fixed precision of the CSV sidecar.
	Decimals = 4
)

var (
	ErrEmptyMatrix  = errors.New("contrast matrix is empty")
	ErrRagged       = errors.New("contrast matrix rows have different lengths")
	ErrNotFinite    = errors.New("contrast matrix has a non-finite value")
	ErrInvalidName  = errors.New("invalid contrast name")
	ErrColumns      = errors.New("contrast columns do not match the design")
	ErrNotRowVector = errors.New("t contrast must have exactly one row")
	ErrUnknownKind  = errors.New("unknown contrast kind")
)

// Kind selects the test performed with a contrast.
type Kind int

const (
	T Kind = iota
	F
)

func (k Kind) String() string {
	if k == F {
		return "f"
	}
	return "t"
}

// ParseKind accepts "t" or "f", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t":
		return T, nil
	case "f":
		return F, nil
	}
	return 0, errors.Wrapf(ErrUnknownKind, "%q", s)
}

// Contrast is a named, validated contrast matrix.
type Contrast struct {
	Name   string
	matrix *mat.Dense
}

// New validates rows and builds a contrast. A single-row matrix is a t
// contrast candidate; more rows require an F test.
func New(name string, rows [][]float64) (*Contrast, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.Wrapf(ErrEmptyMatrix, "contrast %q", name)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.Wrapf(ErrRagged, "contrast %q row %d has %d values, want %d", name, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return FromMatrix(name, mat.NewDense(len(rows), cols, data))
}

// FromMatrix copies m into a new contrast.
func FromMatrix(name string, m mat.Matrix) (*Contrast, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, errors.Wrapf(ErrEmptyMatrix, "contrast %q", name)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Wrapf(ErrNotFinite, "contrast %q at (%d, %d)", name, i, j)
			}
		}
	}
	return &Contrast{Name: name, matrix: mat.DenseCopyOf(m)}, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

// Matrix returns the contrast matrix. Callers must not modify it.
func (c *Contrast) Matrix() *mat.Dense { return c.matrix }

// Dims returns the matrix shape.
func (c *Contrast) Dims() (rows, cols int) { return c.matrix.Dims() }

// Check verifies the contrast can be applied to a design with ncoef
// columns using a test of the given kind.
func (c *Contrast) Check(kind Kind, ncoef int) error {
	rows, cols := c.matrix.Dims()
	if ncoef > 0 && cols != ncoef {
		return errors.Wrapf(ErrColumns, "contrast %q has %d columns, design has %d", c.Name, cols, ncoef)
	}
	if kind == T && rows != 1 {
		return errors.Wrapf(ErrNotRowVector, "contrast %q has %d rows", c.Name, rows)
	}
	return nil
}

// Values returns the matrix in row-major order.
func (c *Contrast) Values() []float64 {
	r, cols := c.matrix.Dims()
	out := make([]float64, 0, r*cols)
	for i := 0; i < r; i++ {
		out = append(out, c.matrix.RawRowView(i)...)
	}
	return out
}

// FormatFixed renders v with the sidecar precision.
func FormatFixed(v float64) string {
	return strconv.FormatFloat(v, 'f', Decimals, 64)
}

// WriteCSVLine writes every value on a single comma-joined line.
func (c *Contrast) WriteCSVLine(w io.Writer) error {
	vals := c.Values()
	fields := make([]string, len(vals))
	for i, v := range vals {
		fields[i] = FormatFixed(v)
	}
	_, err := io.WriteString(w, strings.Join(fields, ",")+"\n")
	return err
}

// WriteCSVRows writes one CSV record per matrix row.
func (c *Contrast) WriteCSVRows(w io.Writer) error {
	cw := csv.NewWriter(w)
	r, cols := c.matrix.Dims()
	record := make([]string, cols)
	for i := 0; i < r; i++ {
		for j, v := range c.matrix.RawRowView(i) {
			record[j] = FormatFixed(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBinary writes the matrix as raw little-endian float64, row-major,
// with no header.
func (c *Contrast) WriteBinary(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, c.Values())
}

// ReadBinary reads a matrix written by WriteBinary.
func ReadBinary(r io.Reader, rows, cols int) (*mat.Dense, error) {
	data := make([]float64, rows*cols)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, errors.Wrap(err, "unable to read contrast matrix")
	}
	return mat.NewDense(rows, cols, data), nil
}

// CSVLayout selects how the CSV sidecar is laid out.
type CSVLayout int

const (
	// SingleLine joins all values on one line (t contrasts).
	SingleLine CSVLayout = iota
	// RowPerLine writes one line per matrix row (F contrasts).
	RowPerLine
)

// Save writes matrix.csv and matrix.bin into dir.
func (c *Contrast) Save(dir string, layout CSVLayout) error {
	write := c.WriteCSVLine
	if layout == RowPerLine {
		write = c.WriteCSVRows
	}
	if err := writeFile(filepath.Join(dir, CSVFile), write); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, BinaryFile), c.WriteBinary)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "unable to write %s", path)
	}
	return errors.Wrapf(f.Close(), "unable to close %s", path)
}
