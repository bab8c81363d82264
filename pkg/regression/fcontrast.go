package regression

import (
	"path/filepath"

	"go.uber.org/multierr"

	"fmriglm/internal/models"
	"fmriglm/pkg/contrast"
	"fmriglm/pkg/grid"
)

// FContrastOutput writes the F statistic image for one contrast.
type FContrastOutput struct {
	*ImageOutput
	contrast *contrast.Contrast
	dir      string
}

// NewFContrastOutput validates c, creates <path>/<subpath>/<name>/ and
// opens F<ext> plus the matrix sidecars.
func NewFContrastOutput(g *grid.Grid, c *contrast.Contrast, opts *ContrastOptions) (*FContrastOutput, error) {
	co := opts.withDefaults()
	if err := c.Check(contrast.F, co.NCoef); err != nil {
		return nil, err
	}

	base, err := NewImageOutput(g, &co.Options)
	if err != nil {
		return nil, err
	}
	out := &FContrastOutput{ImageOutput: base, contrast: c}
	if err := out.setupOutput(co.Path, co.Subpath); err != nil {
		return nil, multierr.Combine(err, out.Close())
	}
	return out, nil
}

func (o *FContrastOutput) setupOutput(path, subpath string) error {
	dir, err := contrastDir(path, subpath, o.contrast.Name)
	if err != nil {
		return err
	}
	o.dir = dir

	name := filepath.Join(dir, models.FStatistic.String()+o.ext)
	if o.img, err = o.openImage(name, o.outgrid, "F "+o.contrast.Name); err != nil {
		return err
	}
	if err := o.SyncGrid(nil); err != nil {
		return err
	}

	return o.contrast.Save(dir, contrast.RowPerLine)
}

// Dir returns the contrast output directory.
func (o *FContrastOutput) Dir() string { return o.dir }

// Contrast returns the contrast being written.
func (o *FContrastOutput) Contrast() *contrast.Contrast { return o.contrast }

// Extract returns the F statistic of the contrast.
func (o *FContrastOutput) Extract(r Result) (float64, error) {
	f, err := r.FContrast(o.contrast.Matrix())
	if err != nil {
		return 0, err
	}
	return f.F, nil
}

func (o *FContrastOutput) Next(pos grid.Position, data float64) error {
	return o.ImageOutput.Next(pos, []float64{data})
}
