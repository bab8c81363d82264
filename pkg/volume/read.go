package volume

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ReadHeader reads the header of the image at path.
func ReadHeader(path string) (*Header, error) {
	hdrPath, _, err := Paths(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(hdrPath)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", hdrPath)
	}
	defer f.Close()

	h, _, err := readHeader(f)
	return h, errors.Wrapf(err, "%s", hdrPath)
}

// Read loads a whole image into memory as float64, applying the header's
// scaling when scl_slope is set.
func Read(path string) (m *Memory, err error) {
	hdrPath, dataPath, err := Paths(path)
	if err != nil {
		return nil, err
	}

	hf, err := os.Open(hdrPath)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", hdrPath)
	}
	defer func() {
		err = multierr.Combine(err, hf.Close())
	}()

	h, order, err := readHeader(hf)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", hdrPath)
	}
	if h.IsPair() != (hdrPath != dataPath) {
		return nil, errors.Wrapf(ErrInvalidHeader, "magic does not match file layout of %s", path)
	}
	g, err := h.Grid()
	if err != nil {
		return nil, err
	}

	var r io.Reader
	if h.IsPair() {
		var df *os.File
		df, err = os.Open(dataPath)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to open %s", dataPath)
		}
		defer func() {
			err = multierr.Combine(err, df.Close())
		}()
		if _, err := df.Seek(int64(h.VoxOffset), io.SeekStart); err != nil {
			return nil, err
		}
		r = df
	} else {
		if _, err := hf.Seek(int64(h.VoxOffset), io.SeekStart); err != nil {
			return nil, err
		}
		r = hf
	}

	data, err := decode(bufio.NewReader(r), h, order, g.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read data of %s", dataPath)
	}

	m, err = FromData(g, data)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		if px := float64(h.Pixdim[i+1]); px > 0 {
			m.voxelSize[i] = px
		}
	}
	return m, nil
}

func decode(r io.Reader, h *Header, order binary.ByteOrder, n int) ([]float64, error) {
	size, err := h.bytesPerVoxel()
	if err != nil {
		return nil, err
	}
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}

	out := make([]float64, n)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch h.Datatype {
		case DTUint8:
			out[i] = float64(b[0])
		case DTInt16:
			out[i] = float64(int16(order.Uint16(b)))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(b)))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}

	if slope := float64(h.SclSlope); slope != 0 && !(slope == 1 && h.SclInter == 0) {
		inter := float64(h.SclInter)
		for i := range out {
			out[i] = out[i]*slope + inter
		}
	}
	return out, nil
}
