package volume

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmriglm/pkg/grid"
)

func mustGrid(t *testing.T, shape ...int) *grid.Grid {
	t.Helper()
	g, err := grid.New(shape...)
	require.NoError(t, err)
	return g
}

func mustPos(t *testing.T, g *grid.Grid, index int) grid.Position {
	t.Helper()
	pos, err := g.Position(index)
	require.NoError(t, err)
	return pos
}

// TestMemoryWriteScalar verifies scalar writes into a same-rank image
func TestMemoryWriteScalar(t *testing.T) {
	g := mustGrid(t, 2, 3)
	m := NewMemory(g)

	require.NoError(t, m.Write(mustPos(t, g, 4), []float64{7.5}))
	v, err := m.At(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 7.5, v)

	err = m.Write(mustPos(t, g, 0), []float64{1, 2})
	assert.True(t, errors.Is(err, ErrDataLength))
}

// TestMemoryWriteFrames verifies that a spatial position writes every frame
func TestMemoryWriteFrames(t *testing.T) {
	full := mustGrid(t, 3, 2, 2)
	spatial := mustGrid(t, 2, 2)
	m := NewMemory(full)

	pos := mustPos(t, spatial, 3)
	require.NoError(t, m.Write(pos, []float64{1, 2, 3}))

	for f, want := range []float64{1, 2, 3} {
		v, err := m.At(f, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	got, err := m.Read(pos)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)

	err = m.Write(grid.Position{Index: 0, Coords: []int{2, 0}}, []float64{1, 2, 3})
	assert.True(t, errors.Is(err, ErrPosition))
}

func TestFromData(t *testing.T) {
	g := mustGrid(t, 2, 2)
	_, err := FromData(g, []float64{1, 2, 3})
	assert.True(t, errors.Is(err, ErrDataLength))

	m, err := FromData(g, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, m.Data())
}

func TestPaths(t *testing.T) {
	hdr, data, err := Paths("out/t.img")
	require.NoError(t, err)
	assert.Equal(t, "out/t.hdr", hdr)
	assert.Equal(t, "out/t.img", data)

	hdr, data, err = Paths("out/t.nii")
	require.NoError(t, err)
	assert.Equal(t, hdr, data)

	_, _, err = Paths("out/t.png")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

// TestFileRoundTrip verifies both layouts survive a write and read cycle
func TestFileRoundTrip(t *testing.T) {
	for _, ext := range []string{".nii", ".img"} {
		t.Run(ext, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "vol"+ext)
			full := mustGrid(t, 2, 2, 3, 4)
			spatial := mustGrid(t, 2, 3, 4)

			f, err := Create(path, full, WithDescription("round trip"))
			require.NoError(t, err)

			it := spatial.Iter()
			for it.Next() {
				pos := it.Position()
				require.NoError(t, f.Write(pos, []float64{float64(pos.Index), -float64(pos.Index)}))
			}
			require.NoError(t, f.Close())
			require.NoError(t, f.Close())

			m, err := Read(path)
			require.NoError(t, err)
			assert.True(t, m.Grid().Equal(full))
			for i := 0; i < spatial.Size(); i++ {
				assert.Equal(t, float64(i), m.Data()[i])
				assert.Equal(t, -float64(i), m.Data()[spatial.Size()+i])
			}

			h, err := ReadHeader(path)
			require.NoError(t, err)
			assert.Equal(t, "round trip", h.Description())
			assert.Equal(t, int16(4), h.Dim[1], "fastest axis is stored first")
			assert.Equal(t, int16(2), h.Dim[4])
			assert.Equal(t, ext == ".img", h.IsPair())
		})
	}
}

// TestHeaderSize verifies the encoded header matches the NIfTI-1 layout
func TestHeaderSize(t *testing.T) {
	assert.Equal(t, headerSize, binary.Size(Header{}))
}

// TestCreateClobber verifies the overwrite policy
func TestCreateClobber(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.img")
	g := mustGrid(t, 2, 2)

	f, err := Create(path, g)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Create(path, g)
	assert.True(t, errors.Is(err, ErrExists))

	f, err = Create(path, g, WithClobber(true))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestWriteAfterClose(t *testing.T) {
	g := mustGrid(t, 2)
	f, err := Create(filepath.Join(t.TempDir(), "x.nii"), g)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.True(t, errors.Is(f.Write(mustPos(t, g, 0), []float64{1}), ErrClosed))
}

// TestReadScaledInt16 verifies decoding of integer data with scaling
func TestReadScaledInt16(t *testing.T) {
	g := mustGrid(t, 1, 1, 3)
	h, err := newHeader(g, false, "")
	require.NoError(t, err)
	h.Datatype = DTInt16
	h.Bitpix = 16
	h.SclSlope = 2
	h.SclInter = 1

	path := filepath.Join(t.TempDir(), "int.nii")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, h.write(f))
	_, err = f.Write([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, binary.Write(f, binary.LittleEndian, []int16{-1, 0, 5}))
	require.NoError(t, f.Close())

	m, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 1, 11}, m.Data())
}

func TestReadBadMagic(t *testing.T) {
	g := mustGrid(t, 2)
	h, err := newHeader(g, false, "")
	require.NoError(t, err)
	h.Magic = [4]byte{'x', 'x', 'x', 0}

	path := filepath.Join(t.TempDir(), "bad.nii")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, h.write(f))
	require.NoError(t, f.Close())

	_, err = Read(path)
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

// TestFrame verifies extraction of 3-D frames
func TestFrame(t *testing.T) {
	g := mustGrid(t, 2, 1, 2, 3)
	data := make([]float64, g.Size())
	for i := range data {
		data[i] = float64(i)
	}
	m, err := FromData(g, data)
	require.NoError(t, err)

	vol, err := m.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, 3, vol.Width)
	assert.Equal(t, 2, vol.Height)
	assert.Equal(t, 1, vol.Depth)
	assert.Equal(t, 6.0, vol.Data[0])
	assert.Equal(t, 11.0, vol.Data[vol.Index(2, 1, 0)])

	_, err = m.Frame(2)
	assert.Error(t, err)
}
