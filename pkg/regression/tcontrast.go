package regression

import (
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"

	"fmriglm/internal/models"
	"fmriglm/pkg/contrast"
	"fmriglm/pkg/grid"
	"fmriglm/pkg/volume"
)

// ContrastOptions locates the output of a contrast writer.
type ContrastOptions struct {
	Options

	// Path is the output root; defaults to "."
	Path string

	// Subpath is inserted between Path and the contrast name; defaults to
	// "contrasts"
	Subpath string

	// NCoef is the number of design columns the contrast must match; zero
	// skips the check
	NCoef int
}

func (o *ContrastOptions) withDefaults() ContrastOptions {
	out := ContrastOptions{}
	if o != nil {
		out = *o
	}
	if out.Path == "" {
		out.Path = DefaultPath
	}
	if out.Subpath == "" {
		out.Subpath = DefaultSubpath
	}
	return out
}

// TContrastOptions configures a TContrastOutput.
type TContrastOptions struct {
	ContrastOptions

	// Effect and SD enable the effect and standard deviation images
	Effect bool
	SD     bool

	// T requests the t statistic from the result; the t image is always
	// written
	T bool
}

// DefaultTContrastOptions enables every product.
func DefaultTContrastOptions() *TContrastOptions {
	return &TContrastOptions{Effect: true, SD: true, T: true}
}

// TContrastOutput writes t, effect and standard deviation images for one
// contrast.
type TContrastOutput struct {
	base     *ImageOutput
	contrast *contrast.Contrast
	dir      string

	effect bool
	sd     bool
	t      bool

	timg      volume.Image
	effectimg volume.Image
	sdimg     volume.Image
}

// NewTContrastOutput validates c, creates <path>/<subpath>/<name>/ and
// opens the images and matrix sidecars.
func NewTContrastOutput(g *grid.Grid, c *contrast.Contrast, opts *TContrastOptions) (*TContrastOutput, error) {
	if opts == nil {
		opts = DefaultTContrastOptions()
	}
	co := opts.ContrastOptions.withDefaults()

	if err := c.Check(contrast.T, co.NCoef); err != nil {
		return nil, err
	}

	base, err := NewImageOutput(g, &co.Options)
	if err != nil {
		return nil, err
	}

	out := &TContrastOutput{
		base:     base,
		contrast: c,
		effect:   opts.Effect,
		sd:       opts.SD,
		t:        opts.T,
	}
	if err := out.setupOutput(co.Path, co.Subpath); err != nil {
		return nil, multierr.Combine(err, out.Close())
	}
	return out, nil
}

func (o *TContrastOutput) setupOutput(path, subpath string) error {
	dir, err := contrastDir(path, subpath, o.contrast.Name)
	if err != nil {
		return err
	}
	o.dir = dir

	open := func(kind models.StatisticKind) (volume.Image, error) {
		name := filepath.Join(dir, kind.String()+o.base.ext)
		return o.base.openImage(name, o.base.outgrid, fmt.Sprintf("%s %s", kind, o.contrast.Name))
	}

	if o.timg, err = open(models.TStatistic); err != nil {
		return err
	}
	if o.effect {
		if o.effectimg, err = open(models.EffectSize); err != nil {
			return err
		}
	}
	if o.sd {
		if o.sdimg, err = open(models.StandardDeviation); err != nil {
			return err
		}
	}

	return o.contrast.Save(dir, contrast.SingleLine)
}

// Dir returns the contrast output directory.
func (o *TContrastOutput) Dir() string { return o.dir }

// Contrast returns the contrast being written.
func (o *TContrastOutput) Contrast() *contrast.Contrast { return o.contrast }

// Images returns the open images in t, effect, sd order.
func (o *TContrastOutput) Images() []volume.Image {
	var imgs []volume.Image
	for _, img := range []volume.Image{o.timg, o.effectimg, o.sdimg} {
		if img != nil {
			imgs = append(imgs, img)
		}
	}
	return imgs
}

func (o *TContrastOutput) Extract(r Result) (TStat, error) {
	return r.TContrast(o.contrast.Matrix(), TOptions{SD: o.sd, T: o.t})
}

func (o *TContrastOutput) Next(pos grid.Position, data TStat) error {
	if err := o.base.checkPosition(pos); err != nil {
		return err
	}
	if err := o.timg.Write(pos, []float64{data.T}); err != nil {
		return err
	}
	if o.effect {
		if err := o.effectimg.Write(pos, []float64{data.Effect}); err != nil {
			return err
		}
	}
	if o.sd {
		if err := o.sdimg.Write(pos, []float64{data.SD}); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every image, combining errors.
func (o *TContrastOutput) Close() error {
	var err error
	for _, img := range o.Images() {
		err = multierr.Combine(err, img.Close())
	}
	return err
}
