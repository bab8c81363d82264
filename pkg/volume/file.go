package volume

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"fmriglm/pkg/grid"
)

// Option configures Create.
type Option func(*createOptions)

type createOptions struct {
	clobber     bool
	description string
}

// WithClobber allows Create to overwrite existing files.
func WithClobber(clobber bool) Option {
	return func(o *createOptions) { o.clobber = clobber }
}

// WithDescription sets the header descrip field (at most 79 bytes are kept).
func WithDescription(s string) Option {
	return func(o *createOptions) { o.description = s }
}

// File is a NIfTI-1 image open for writing. Every Write goes straight to
// disk at the voxel's offset; nothing is buffered.
type File struct {
	layout
	path   string
	f      *os.File
	offset int64
	buf    [8]byte
}

// Paths returns the header and data file names for an image path. For
// ".nii" both are the same file; ".img" and ".hdr" name a pair.
func Paths(path string) (header, data string, err error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	switch strings.ToLower(ext) {
	case ".nii":
		return path, path, nil
	case ".img", ".hdr":
		return base + ".hdr", base + ".img", nil
	}
	return "", "", errors.Wrapf(ErrUnsupportedFormat, "extension %q", ext)
}

// Create creates a zero-filled float64 image at path with grid g.
func Create(path string, g *grid.Grid, opts ...Option) (*File, error) {
	o := createOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	hdrPath, dataPath, err := Paths(path)
	if err != nil {
		return nil, err
	}
	pair := hdrPath != dataPath

	if !o.clobber {
		for _, p := range []string{hdrPath, dataPath} {
			if _, err := os.Stat(p); err == nil {
				return nil, errors.Wrapf(ErrExists, "%s", p)
			}
		}
	}

	h, err := newHeader(g, pair, o.description)
	if err != nil {
		return nil, err
	}

	if pair {
		if err := writeHeaderFile(hdrPath, h); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create %s", dataPath)
	}

	offset := int64(h.VoxOffset)
	if !pair {
		if err := h.write(f); err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "unable to write header to %s", dataPath), f.Close())
		}
		// Extension flag: no extensions follow.
		if _, err := f.Write([]byte{0, 0, 0, 0}); err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "unable to write header to %s", dataPath), f.Close())
		}
	}
	if err := f.Truncate(offset + int64(g.Size())*8); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "unable to size %s", dataPath), f.Close())
	}

	return &File{layout: layout{g: g}, path: path, f: f, offset: offset}, nil
}

func writeHeaderFile(path string, h *Header) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s", path)
	}
	if err := h.write(f); err != nil {
		return multierr.Combine(errors.Wrapf(err, "unable to write header to %s", path), f.Close())
	}
	return f.Close()
}

func (fi *File) Grid() *grid.Grid { return fi.g }

// Path returns the path the image was created with.
func (fi *File) Path() string { return fi.path }

func (fi *File) Write(pos grid.Position, data []float64) error {
	if fi.f == nil {
		return ErrClosed
	}
	base, stride, err := fi.offsets(pos, len(data))
	if err != nil {
		return err
	}
	for i, v := range data {
		binary.LittleEndian.PutUint64(fi.buf[:], math.Float64bits(v))
		at := fi.offset + int64(base+i*stride)*8
		if _, err := fi.f.WriteAt(fi.buf[:], at); err != nil {
			return errors.Wrapf(err, "unable to write %s", fi.path)
		}
	}
	return nil
}

// Close closes the data file. Closing twice is a no-op.
func (fi *File) Close() error {
	if fi.f == nil {
		return nil
	}
	err := fi.f.Close()
	fi.f = nil
	return errors.Wrapf(err, "unable to close %s", fi.path)
}
