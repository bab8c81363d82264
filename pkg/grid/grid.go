// Package grid describes the shape and iteration order of volumetric data.
//
// Shapes are row-major: the first axis varies slowest and the last axis
// fastest, so a 3-D volume has shape [depth, height, width] and a 4-D
// functional series has shape [frames, depth, height, width].
//
// Positions are plain values handed out by an Iterator. Consumers receive
// the position they should write at instead of sharing an iteration cursor.
package grid

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidShape  = errors.New("grid shape must have at least one axis and positive dimensions")
	ErrOutOfRange    = errors.New("position is outside the grid")
	ErrInvalidRepeat = errors.New("replication count must be positive")
)

// Grid is an immutable shape descriptor.
type Grid struct {
	shape   []int
	strides []int
	size    int
}

// Position identifies one element of a grid.
type Position struct {
	// Index is the row-major linear index of the element
	Index int

	// Coords holds one coordinate per axis
	Coords []int
}

// New creates a grid with the given shape.
func New(shape ...int) (*Grid, error) {
	if len(shape) == 0 {
		return nil, ErrInvalidShape
	}
	for _, d := range shape {
		if d <= 0 {
			return nil, errors.Wrapf(ErrInvalidShape, "shape %v", shape)
		}
	}

	g := &Grid{
		shape:   append([]int(nil), shape...),
		strides: make([]int, len(shape)),
	}
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		g.strides[i] = stride
		stride *= shape[i]
	}
	g.size = stride
	return g, nil
}

// Shape returns a copy of the grid shape.
func (g *Grid) Shape() []int {
	return append([]int(nil), g.shape...)
}

// Rank returns the number of axes.
func (g *Grid) Rank() int { return len(g.shape) }

// Size returns the number of elements.
func (g *Grid) Size() int { return g.size }

// Dim returns the length of axis i.
func (g *Grid) Dim(i int) int { return g.shape[i] }

// Replicate returns a grid with a new leading axis of length n.
func (g *Grid) Replicate(n int) (*Grid, error) {
	if n < 1 {
		return nil, errors.Wrapf(ErrInvalidRepeat, "got %d", n)
	}
	return New(append([]int{n}, g.shape...)...)
}

// Trailing returns the grid formed by the last n axes.
func (g *Grid) Trailing(n int) (*Grid, error) {
	if n < 1 || n > len(g.shape) {
		return nil, errors.Wrapf(ErrInvalidShape, "cannot take %d trailing axes of rank %d grid", n, len(g.shape))
	}
	return New(g.shape[len(g.shape)-n:]...)
}

// Equal reports whether both grids have the same shape.
func (g *Grid) Equal(o *Grid) bool {
	if g == nil || o == nil {
		return g == o
	}
	if len(g.shape) != len(o.shape) {
		return false
	}
	for i := range g.shape {
		if g.shape[i] != o.shape[i] {
			return false
		}
	}
	return true
}

// HasTrailing reports whether the last axes of g equal the shape of o.
func (g *Grid) HasTrailing(o *Grid) bool {
	if o.Rank() > g.Rank() {
		return false
	}
	off := g.Rank() - o.Rank()
	for i, d := range o.shape {
		if g.shape[off+i] != d {
			return false
		}
	}
	return true
}

// Index converts coordinates to a linear index.
func (g *Grid) Index(coords []int) (int, error) {
	if len(coords) != len(g.shape) {
		return 0, errors.Wrapf(ErrOutOfRange, "got %d coordinates for rank %d grid", len(coords), len(g.shape))
	}
	idx := 0
	for i, c := range coords {
		if c < 0 || c >= g.shape[i] {
			return 0, errors.Wrapf(ErrOutOfRange, "coordinate %d on axis %d (length %d)", c, i, g.shape[i])
		}
		idx += c * g.strides[i]
	}
	return idx, nil
}

// Position returns the position with the given linear index.
func (g *Grid) Position(index int) (Position, error) {
	if index < 0 || index >= g.size {
		return Position{}, errors.Wrapf(ErrOutOfRange, "index %d (size %d)", index, g.size)
	}
	coords := make([]int, len(g.shape))
	rem := index
	for i, s := range g.strides {
		coords[i] = rem / s
		rem %= s
	}
	return Position{Index: index, Coords: coords}, nil
}

// Contains reports whether pos is a valid position of g.
func (g *Grid) Contains(pos Position) bool {
	idx, err := g.Index(pos.Coords)
	return err == nil && idx == pos.Index
}

func (g *Grid) String() string {
	return fmt.Sprintf("grid%v", g.shape)
}

// Iterator walks a grid in row-major order.
type Iterator struct {
	g   *Grid
	pos Position
	// next is the index of the element returned by the following Next call
	next int
}

// Iter returns an iterator positioned before the first element.
func (g *Grid) Iter() *Iterator {
	return &Iterator{g: g}
}

// Next advances the iterator; it returns false once the grid is exhausted.
func (it *Iterator) Next() bool {
	if it.next >= it.g.size {
		return false
	}
	it.pos, _ = it.g.Position(it.next)
	it.next++
	return true
}

// Position returns the current position. Each call to Next produces a new
// Coords slice, so positions may be retained by callers.
func (it *Iterator) Position() Position {
	return it.pos
}

// Reset rewinds the iterator to the start of the grid.
func (it *Iterator) Reset() {
	it.pos = Position{}
	it.next = 0
}
