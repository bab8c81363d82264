// Package volume stores float64 volumes, in memory or as NIfTI-1 files.
//
// An image is written one position at a time. The position comes from a
// driving grid whose shape equals the trailing axes of the image grid; any
// leading axes (frames) are written together from a single data slice.
package volume

import (
	"fmt"

	"github.com/pkg/errors"

	"fmriglm/internal/models"
	"fmriglm/pkg/grid"
)

var (
	ErrExists            = errors.New("image file already exists")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidHeader     = errors.New("invalid NIfTI-1 header")
	ErrDataLength        = errors.New("data length does not match the image frames")
	ErrPosition          = errors.New("position does not fit the image grid")
	ErrClosed            = errors.New("image is closed")
)

// Image is a volume that accepts per-position writes.
type Image interface {
	// Grid returns the full shape of the image.
	Grid() *grid.Grid

	// Write stores data at pos. len(data) must equal the number of frames.
	Write(pos grid.Position, data []float64) error

	Close() error
}

// layout maps a driving-grid position onto linear offsets of an image grid.
type layout struct {
	g *grid.Grid
}

// offsets returns the offset of the first frame and the stride between
// frames for pos.
func (l layout) offsets(pos grid.Position, n int) (base, stride int, err error) {
	rank := len(pos.Coords)
	if rank == 0 || rank > l.g.Rank() {
		return 0, 0, errors.Wrapf(ErrPosition, "%d coordinates for %s", rank, l.g)
	}
	spatial, err := l.g.Trailing(rank)
	if err != nil {
		return 0, 0, err
	}
	base, err = spatial.Index(pos.Coords)
	if err != nil {
		return 0, 0, errors.Wrap(ErrPosition, err.Error())
	}
	frames := l.g.Size() / spatial.Size()
	if n != frames {
		return 0, 0, errors.Wrapf(ErrDataLength, "got %d values, image has %d frames", n, frames)
	}
	return base, spatial.Size(), nil
}

// Memory is an in-memory image.
type Memory struct {
	layout
	data []float64
	// voxelSize is x, y, z spacing in mm; zero means unknown
	voxelSize [3]float64
}

// NewMemory returns a zero-filled image with grid g.
func NewMemory(g *grid.Grid) *Memory {
	return &Memory{layout: layout{g: g}, data: make([]float64, g.Size())}
}

// FromData wraps data, which must hold exactly g.Size() values.
func FromData(g *grid.Grid, data []float64) (*Memory, error) {
	if len(data) != g.Size() {
		return nil, errors.Wrapf(ErrDataLength, "got %d values for %s", len(data), g)
	}
	return &Memory{layout: layout{g: g}, data: data}, nil
}

func (m *Memory) Grid() *grid.Grid { return m.g }

// Data returns the backing row-major slice.
func (m *Memory) Data() []float64 { return m.data }

func (m *Memory) Write(pos grid.Position, data []float64) error {
	base, stride, err := m.offsets(pos, len(data))
	if err != nil {
		return err
	}
	for f, v := range data {
		m.data[base+f*stride] = v
	}
	return nil
}

// Read returns the frames stored at pos.
func (m *Memory) Read(pos grid.Position) ([]float64, error) {
	rank := len(pos.Coords)
	if rank == 0 || rank > m.g.Rank() {
		return nil, errors.Wrapf(ErrPosition, "%d coordinates for %s", rank, m.g)
	}
	spatial, err := m.g.Trailing(rank)
	if err != nil {
		return nil, err
	}
	frames := m.g.Size() / spatial.Size()
	base, stride, err := m.offsets(pos, frames)
	if err != nil {
		return nil, err
	}
	out := make([]float64, frames)
	for f := range out {
		out[f] = m.data[base+f*stride]
	}
	return out, nil
}

// At returns the value at the given full-rank coordinates.
func (m *Memory) At(coords ...int) (float64, error) {
	idx, err := m.g.Index(coords)
	if err != nil {
		return 0, err
	}
	return m.data[idx], nil
}

func (m *Memory) Close() error { return nil }

// Frame returns one 3-D frame as a models.Volume. Rank 3 images have a
// single frame 0; rank 4 images are indexed along their leading axis.
func (m *Memory) Frame(t int) (*models.Volume, error) {
	shape := m.g.Shape()
	switch len(shape) {
	case 3:
		if t != 0 {
			return nil, fmt.Errorf("frame %d out of range for 3-D image", t)
		}
		shape = append([]int{1}, shape...)
	case 4:
		if t < 0 || t >= shape[0] {
			return nil, fmt.Errorf("frame %d out of range [0, %d)", t, shape[0])
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "cannot take a 3-D frame of %s", m.g)
	}

	size := shape[1] * shape[2] * shape[3]
	vol := &models.Volume{
		Data:   append([]float64(nil), m.data[t*size:(t+1)*size]...),
		Depth:  shape[1],
		Height: shape[2],
		Width:  shape[3],
	}
	vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = 1, 1, 1
	if m.voxelSize[0] > 0 {
		vol.VoxelSize.X = m.voxelSize[0]
	}
	if m.voxelSize[1] > 0 {
		vol.VoxelSize.Y = m.voxelSize[1]
	}
	if m.voxelSize[2] > 0 {
		vol.VoxelSize.Z = m.voxelSize[2]
	}
	return vol, nil
}
