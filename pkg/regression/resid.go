package regression

import (
	"path/filepath"

	"go.uber.org/multierr"

	"fmriglm/pkg/grid"
)

// DefaultResidBasename names the residual image.
const DefaultResidBasename = "resid"

// ResidOptions configures a ResidOutput.
type ResidOptions struct {
	Options

	// Path is the output directory; defaults to "."
	Path string

	// Basename is the image name without extension; defaults to "resid"
	Basename string
}

// ResidOutput writes the residual time series of every voxel into one image
// sized to the full driving grid.
type ResidOutput struct {
	*ImageOutput
	path string
}

// NewResidOutput creates <path>/<basename><ext> with grid g, whose leading
// axis holds one frame per residual. When opts.OutGrid is nil the output
// grid is g without its leading axis.
func NewResidOutput(g *grid.Grid, opts *ResidOptions) (*ResidOutput, error) {
	ro := ResidOptions{}
	if opts != nil {
		ro = *opts
	}
	if ro.Path == "" {
		ro.Path = DefaultPath
	}
	if ro.Basename == "" {
		ro.Basename = DefaultResidBasename
	}
	if ro.OutGrid == nil && g.Rank() > 1 {
		spatial, err := g.Trailing(g.Rank() - 1)
		if err != nil {
			return nil, err
		}
		ro.OutGrid = spatial
	}
	// The residual count comes from the grid, not from the caller.
	ro.NOut = 1

	base, err := NewImageOutput(g, &ro.Options)
	if err != nil {
		return nil, err
	}
	out := &ResidOutput{ImageOutput: base, path: ro.Path}

	if err := makeDir(ro.Path); err != nil {
		return nil, err
	}
	name := filepath.Join(ro.Path, ro.Basename+base.ext)
	img, err := base.openImage(name, base.grid, "residuals")
	if err != nil {
		return nil, err
	}
	base.img = img
	if err := base.SyncGrid(nil); err != nil {
		return nil, multierr.Combine(err, img.Close())
	}

	base.nout = g.Dim(0)
	return out, nil
}

// Path returns the output directory.
func (o *ResidOutput) Path() string { return o.path }

// Extract returns the residuals of the fit.
func (o *ResidOutput) Extract(r Result) ([]float64, error) {
	return r.Resid(), nil
}
