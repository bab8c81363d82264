// Package regression writes the products of a GLM pass (t and F contrasts,
// residuals) into images, one voxel at a time.
//
// Each writer implements Output for its value type: Extract pulls the
// value out of a per-voxel Result and Next writes it at a position supplied
// by the driving loop. Bind erases the value type so a driver can hold a
// heterogeneous list of writers.
package regression

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"fmriglm/pkg/grid"
	"fmriglm/pkg/volume"
)

const (
	DefaultPath    = "."
	DefaultSubpath = "contrasts"
	DefaultExt     = ".img"
)

var (
	ErrNotImplemented = errors.New("extract is not implemented for this output")
	ErrGridMismatch   = errors.New("image grid does not match the driving grid")
	ErrNoImage        = errors.New("output has no image")
)

// Result is the per-voxel product of a regression fit.
type Result interface {
	TContrast(c mat.Matrix, opts TOptions) (TStat, error)
	FContrast(c mat.Matrix) (FStat, error)
	Resid() []float64
}

// TOptions selects which parts of a t contrast are computed. The effect is
// always computed.
type TOptions struct {
	SD bool
	T  bool
}

// TStat holds a t contrast evaluated at one voxel.
type TStat struct {
	Effect float64
	SD     float64
	T      float64
	DF     float64
	// P is the two-sided p-value; zero when T was not requested
	P float64
}

// FStat holds an F contrast evaluated at one voxel.
type FStat struct {
	F      float64
	DFNum  float64
	DFDen  float64
	P      float64
	Effect []float64
}

// Output writes values of type V extracted from regression results.
type Output[V any] interface {
	Extract(r Result) (V, error)
	Next(pos grid.Position, data V) error
	Close() error
}

// Writer is a type-erased Output.
type Writer interface {
	Write(pos grid.Position, r Result) error
	Close() error
}

type binding[V any] struct {
	out     Output[V]
	observe func(grid.Position, V)
}

// Bind adapts o into a Writer that extracts and writes in one call.
func Bind[V any](o Output[V]) Writer {
	return &binding[V]{out: o}
}

// BindObserved is Bind with a callback invoked after every successful write.
func BindObserved[V any](o Output[V], observe func(grid.Position, V)) Writer {
	return &binding[V]{out: o, observe: observe}
}

func (b *binding[V]) Write(pos grid.Position, r Result) error {
	v, err := b.out.Extract(r)
	if err != nil {
		return err
	}
	if err := b.out.Next(pos, v); err != nil {
		return err
	}
	if b.observe != nil {
		b.observe(pos, v)
	}
	return nil
}

func (b *binding[V]) Close() error { return b.out.Close() }

// Options configures ImageOutput and the writers built on it.
type Options struct {
	// OutGrid is the spatial grid positions are drawn from; defaults to the
	// driving grid
	OutGrid *grid.Grid

	// NOut replicates the driving grid when greater than one
	NOut int

	// ArrayGrid, when set, gives the output an in-memory image
	ArrayGrid *grid.Grid

	Clobber bool

	// Ext is the image extension, ".img" (NIfTI pair) or ".nii"
	Ext string

	Logger *zap.SugaredLogger
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.NOut < 1 {
		out.NOut = 1
	}
	if out.Ext == "" {
		out.Ext = DefaultExt
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop().Sugar()
	}
	return out
}

// ImageOutput is the shared plumbing of every image writer. It binds images
// to the driving grid and forwards per-position writes to its default image.
type ImageOutput struct {
	grid    *grid.Grid
	outgrid *grid.Grid
	nout    int
	clobber bool
	ext     string
	logger  *zap.SugaredLogger
	img     volume.Image
}

// NewImageOutput creates the base output for driving grid g.
func NewImageOutput(g *grid.Grid, opts *Options) (*ImageOutput, error) {
	o := opts.withDefaults()
	out := &ImageOutput{
		grid:    g,
		outgrid: g,
		nout:    o.NOut,
		clobber: o.Clobber,
		ext:     o.Ext,
		logger:  o.Logger,
	}
	if o.OutGrid != nil {
		out.outgrid = o.OutGrid
	}
	if out.nout > 1 {
		rep, err := g.Replicate(out.nout)
		if err != nil {
			return nil, err
		}
		out.grid = rep
	}
	if o.ArrayGrid != nil {
		out.img = volume.NewMemory(o.ArrayGrid)
		if err := out.SyncGrid(nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Grid returns the driving grid.
func (o *ImageOutput) Grid() *grid.Grid { return o.grid }

// OutGrid returns the spatial grid positions are drawn from.
func (o *ImageOutput) OutGrid() *grid.Grid { return o.outgrid }

// NOut returns the number of values written per position.
func (o *ImageOutput) NOut() int { return o.nout }

// Image returns the default image, or nil.
func (o *ImageOutput) Image() volume.Image { return o.img }

// SyncGrid binds img, or the default image when img is nil, to the driving
// grid. The image's trailing axes must equal the output grid so that every
// position of the driving loop addresses the same voxel in every image.
func (o *ImageOutput) SyncGrid(img volume.Image) error {
	if img == nil {
		img = o.img
	}
	if img == nil {
		return ErrNoImage
	}
	if !img.Grid().HasTrailing(o.outgrid) {
		return errors.Wrapf(ErrGridMismatch, "image %s, output grid %s", img.Grid(), o.outgrid)
	}
	return nil
}

func (o *ImageOutput) checkPosition(pos grid.Position) error {
	if !o.outgrid.Contains(pos) {
		return errors.Wrapf(ErrGridMismatch, "position %v is not on %s", pos.Coords, o.outgrid)
	}
	return nil
}

// Next writes data into the default image at pos.
func (o *ImageOutput) Next(pos grid.Position, data []float64) error {
	if o.img == nil {
		return ErrNoImage
	}
	if err := o.checkPosition(pos); err != nil {
		return err
	}
	return o.img.Write(pos, data)
}

// Extract must be provided by concrete outputs.
func (o *ImageOutput) Extract(Result) ([]float64, error) {
	return nil, ErrNotImplemented
}

// Close closes the default image.
func (o *ImageOutput) Close() error {
	if o.img == nil {
		return nil
	}
	return o.img.Close()
}

// openImage creates an output image file and binds it to the driving grid.
func (o *ImageOutput) openImage(path string, g *grid.Grid, description string) (volume.Image, error) {
	img, err := volume.Create(path, g, volume.WithClobber(o.clobber), volume.WithDescription(description))
	if err != nil {
		return nil, err
	}
	if err := o.SyncGrid(img); err != nil {
		img.Close()
		return nil, err
	}
	o.logger.Debugw("opened output image", "path", path, "grid", g.String())
	return img, nil
}

// makeDir creates dir and its parents if needed.
func makeDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "unable to create output directory %s", dir)
		}
	}
	return nil
}

// contrastDir returns <path>/<subpath>/<name>, creating it if needed.
func contrastDir(path, subpath, name string) (string, error) {
	if path == "" {
		path = DefaultPath
	}
	dir := filepath.Join(path, subpath, name)
	return dir, makeDir(dir)
}
