package volume

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"

	"fmriglm/pkg/grid"
)

// NIfTI-1 constants, see nifti1.h.
const (
	headerSize    = 348
	singleOffset  = 352 // header plus the 4 byte extension flag
	maxDims       = 7
	unitsMMSecond = 2 | 8
)

// Datatype codes understood by this package.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
)

var (
	magicSingle = [4]byte{'n', '+', '1', 0}
	magicPair   = [4]byte{'n', 'i', '1', 0}
)

// Header is the on-disk NIfTI-1 header.
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// newHeader builds a float64 header for g. NIfTI stores the fastest axis
// first, so the grid shape is written reversed.
func newHeader(g *grid.Grid, pair bool, description string) (*Header, error) {
	shape := g.Shape()
	if len(shape) > maxDims {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "rank %d exceeds %d dimensions", len(shape), maxDims)
	}

	h := &Header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  DTFloat64,
		Bitpix:    64,
		SclSlope:  1,
		XyztUnits: unitsMMSecond,
	}
	h.Dim[0] = int16(len(shape))
	h.Pixdim[0] = 1
	for i := 1; i < len(h.Dim); i++ {
		h.Dim[i] = 1
		h.Pixdim[i] = 1
	}
	for i, d := range shape {
		if d > 1<<15-1 {
			return nil, errors.Wrapf(ErrUnsupportedFormat, "axis length %d does not fit a NIfTI-1 header", d)
		}
		h.Dim[len(shape)-i] = int16(d)
	}
	if pair {
		h.Magic = magicPair
	} else {
		h.Magic = magicSingle
		h.VoxOffset = singleOffset
	}
	copy(h.Descrip[:len(h.Descrip)-1], description)
	return h, nil
}

// Grid returns the row-major grid described by the header.
func (h *Header) Grid() (*grid.Grid, error) {
	rank := int(h.Dim[0])
	if rank < 1 || rank > maxDims {
		return nil, errors.Wrapf(ErrInvalidHeader, "dim[0] = %d", rank)
	}
	shape := make([]int, rank)
	for i := 0; i < rank; i++ {
		shape[rank-1-i] = int(h.Dim[i+1])
	}
	return grid.New(shape...)
}

// Description returns the descrip field without trailing NULs.
func (h *Header) Description() string {
	return strings.TrimRight(string(h.Descrip[:]), "\x00")
}

// IsPair reports whether the image data lives in a separate .img file.
func (h *Header) IsPair() bool {
	return h.Magic == magicPair
}

func (h *Header) bytesPerVoxel() (int, error) {
	switch h.Datatype {
	case DTUint8:
		return 1, nil
	case DTInt16:
		return 2, nil
	case DTInt32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedFormat, "datatype %d", h.Datatype)
}

func (h *Header) write(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, h)
}

// readHeader decodes a header, detecting the byte order from dim[0].
func readHeader(r io.ReadSeeker) (*Header, binary.ByteOrder, error) {
	var order binary.ByteOrder = binary.LittleEndian
	h := &Header{}
	if err := binary.Read(r, order, h); err != nil {
		return nil, nil, errors.Wrap(err, "unable to read header")
	}
	if h.Dim[0] < 1 || h.Dim[0] > maxDims {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, nil, err
		}
		order = binary.BigEndian
		h = &Header{}
		if err := binary.Read(r, order, h); err != nil {
			return nil, nil, errors.Wrap(err, "unable to read header")
		}
		if h.Dim[0] < 1 || h.Dim[0] > maxDims {
			return nil, nil, errors.Wrapf(ErrInvalidHeader, "dim[0] = %d is not in [1, 7]", h.Dim[0])
		}
	}
	if h.SizeofHdr != headerSize {
		return nil, nil, errors.Wrapf(ErrInvalidHeader, "sizeof_hdr = %d", h.SizeofHdr)
	}
	if h.Magic != magicSingle && h.Magic != magicPair {
		return nil, nil, errors.Wrap(ErrInvalidHeader, "bad magic")
	}
	return h, order, nil
}
