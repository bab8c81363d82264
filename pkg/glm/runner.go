// Package glm drives a voxel-wise GLM pass: it fits an OLS model to every
// voxel time series of a functional image and feeds each result to the
// configured regression outputs.
package glm

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fmriglm/pkg/config"
	"fmriglm/pkg/contrast"
	"fmriglm/pkg/grid"
	"fmriglm/pkg/regression"
	"fmriglm/pkg/volume"
)

var (
	ErrDataRank   = errors.New("functional image must have a leading frame axis")
	ErrDesignRows = errors.New("design rows do not match the image frames")
	ErrMaskGrid   = errors.New("mask grid does not match the image")
)

// ContrastSpec pairs a contrast with the test to run.
type ContrastSpec struct {
	Contrast *contrast.Contrast
	Kind     contrast.Kind
}

// OutputParams selects what is written and where.
type OutputParams struct {
	Path    string
	Subpath string
	Ext     string
	Clobber bool

	Effect bool
	SD     bool
	T      bool

	Resid         bool
	ResidBasename string
}

// Params holds everything a GLM pass needs.
type Params struct {
	// Data is the functional image with shape [frames, ...spatial]
	Data *volume.Memory

	// Design has one row per frame
	Design mat.Matrix

	// Mask, when set, has the spatial shape of Data; zero voxels are skipped
	Mask *volume.Memory

	Contrasts []ContrastSpec
	Output    OutputParams

	Logger *zap.SugaredLogger
}

// ContrastSummary describes the statistic values written for a contrast.
type ContrastSummary struct {
	Kind contrast.Kind
	Mean float64
	Max  float64
	Min  float64
}

// Summary reports what a pass did.
type Summary struct {
	Voxels    int
	Fitted    int
	Masked    int
	Elapsed   time.Duration
	Contrasts map[string]ContrastSummary
}

// Runner performs a single GLM pass.
type Runner struct {
	params  *Params
	logger  *zap.SugaredLogger
	spatial *grid.Grid
	model   *regression.OLSModel
	writers []regression.Writer

	// stats collects the statistic written at each fitted voxel, per contrast
	stats   map[string][]float64
	summary Summary
}

// NewRunner creates a runner for params.
func NewRunner(params *Params) *Runner {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{
		params: params,
		logger: logger,
		stats:  make(map[string][]float64),
	}
}

// ParamsFromConfig loads the inputs named by cfg.
func ParamsFromConfig(cfg *config.Config, logger *zap.SugaredLogger) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	data, err := volume.Read(cfg.Input.Image)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load functional image")
	}
	design, err := LoadDesign(cfg.Input.Design)
	if err != nil {
		return nil, err
	}

	params := &Params{
		Data:   data,
		Design: design,
		Logger: logger,
		Output: OutputParams{
			Path:          cfg.Output.Path,
			Subpath:       cfg.Output.Subpath,
			Ext:           cfg.Output.Ext,
			Clobber:       cfg.Output.Clobber,
			Effect:        cfg.Output.Effect,
			SD:            cfg.Output.SD,
			T:             cfg.Output.T,
			Resid:         cfg.Output.Resid,
			ResidBasename: cfg.Output.ResidBasename,
		},
	}
	if cfg.Input.Mask != "" {
		if params.Mask, err = volume.Read(cfg.Input.Mask); err != nil {
			return nil, errors.Wrap(err, "unable to load mask")
		}
	}
	for _, cc := range cfg.Contrasts {
		c, kind, err := cc.Build()
		if err != nil {
			return nil, err
		}
		params.Contrasts = append(params.Contrasts, ContrastSpec{Contrast: c, Kind: kind})
	}
	return params, nil
}

// Process runs the complete pass. Writers are closed even when a step fails;
// files created before a failure are left on disk.
func (r *Runner) Process() (err error) {
	start := time.Now()

	r.logger.Info("Step 1: Checking inputs...")
	if err := r.checkInputs(); err != nil {
		return err
	}

	r.logger.Info("Step 2: Preparing OLS model...")
	if r.model, err = regression.NewOLSModel(r.params.Design); err != nil {
		return err
	}

	r.logger.Info("Step 3: Creating outputs...")
	defer func() {
		err = multierr.Combine(err, r.closeWriters())
	}()
	if err := r.setupWriters(); err != nil {
		return err
	}

	r.logger.Info("Step 4: Fitting voxels...")
	if err := r.fitVoxels(); err != nil {
		return err
	}

	r.summarize()
	r.summary.Elapsed = time.Since(start)
	r.logger.Infow("GLM pass complete",
		"voxels", r.summary.Voxels,
		"fitted", r.summary.Fitted,
		"masked", r.summary.Masked,
		"elapsed", r.summary.Elapsed,
	)
	return nil
}

// Summary returns the result of the last Process call.
func (r *Runner) Summary() Summary { return r.summary }

func (r *Runner) checkInputs() error {
	g := r.params.Data.Grid()
	if g.Rank() < 2 {
		return errors.Wrapf(ErrDataRank, "got %s", g)
	}
	spatial, err := g.Trailing(g.Rank() - 1)
	if err != nil {
		return err
	}
	r.spatial = spatial

	frames := g.Dim(0)
	if rows, _ := r.params.Design.Dims(); rows != frames {
		return errors.Wrapf(ErrDesignRows, "design has %d rows, image has %d frames", rows, frames)
	}
	if m := r.params.Mask; m != nil && !m.Grid().Equal(spatial) {
		return errors.Wrapf(ErrMaskGrid, "mask %s, image spatial %s", m.Grid(), spatial)
	}

	r.logger.Infow("Loaded inputs", "grid", g.String(), "frames", frames, "contrasts", len(r.params.Contrasts))
	return nil
}

func (r *Runner) setupWriters() error {
	out := r.params.Output
	g := r.params.Data.Grid()
	_, ncoef := r.params.Design.Dims()

	base := regression.Options{
		OutGrid: r.spatial,
		Clobber: out.Clobber,
		Ext:     out.Ext,
		Logger:  r.logger,
	}
	copts := regression.ContrastOptions{
		Options: base,
		Path:    out.Path,
		Subpath: out.Subpath,
		NCoef:   ncoef,
	}

	for _, spec := range r.params.Contrasts {
		name := spec.Contrast.Name
		switch spec.Kind {
		case contrast.T:
			w, err := regression.NewTContrastOutput(g, spec.Contrast, &regression.TContrastOptions{
				ContrastOptions: copts,
				Effect:          out.Effect,
				SD:              out.SD,
				T:               out.T,
			})
			if err != nil {
				return errors.Wrapf(err, "contrast %s", name)
			}
			r.writers = append(r.writers, regression.BindObserved[regression.TStat](w, func(_ grid.Position, v regression.TStat) {
				r.stats[name] = append(r.stats[name], v.T)
			}))
		case contrast.F:
			w, err := regression.NewFContrastOutput(g, spec.Contrast, &copts)
			if err != nil {
				return errors.Wrapf(err, "contrast %s", name)
			}
			r.writers = append(r.writers, regression.BindObserved[float64](w, func(_ grid.Position, v float64) {
				r.stats[name] = append(r.stats[name], v)
			}))
		default:
			return errors.Wrapf(contrast.ErrUnknownKind, "contrast %s", name)
		}
		r.logger.Debugw("Created contrast output", "name", name, "kind", spec.Kind.String())
	}

	if out.Resid {
		w, err := regression.NewResidOutput(g, &regression.ResidOptions{
			Options:  base,
			Path:     out.Path,
			Basename: out.ResidBasename,
		})
		if err != nil {
			return errors.Wrap(err, "residuals")
		}
		r.writers = append(r.writers, regression.Bind[[]float64](w))
	}
	return nil
}

func (r *Runner) fitVoxels() error {
	data := r.params.Data
	mask := r.params.Mask
	r.summary.Voxels = r.spatial.Size()

	it := r.spatial.Iter()
	for it.Next() {
		pos := it.Position()
		if mask != nil && mask.Data()[pos.Index] == 0 {
			r.summary.Masked++
			continue
		}

		y, err := data.Read(pos)
		if err != nil {
			return err
		}
		res, err := r.model.Fit(y)
		if err != nil {
			return errors.Wrapf(err, "voxel %v", pos.Coords)
		}
		for _, w := range r.writers {
			if err := w.Write(pos, res); err != nil {
				return errors.Wrapf(err, "voxel %v", pos.Coords)
			}
		}
		r.summary.Fitted++
	}
	return nil
}

func (r *Runner) summarize() {
	r.summary.Contrasts = make(map[string]ContrastSummary, len(r.params.Contrasts))
	for _, spec := range r.params.Contrasts {
		name := spec.Contrast.Name
		vals := r.stats[name]
		cs := ContrastSummary{Kind: spec.Kind}
		if len(vals) > 0 {
			cs.Mean = stat.Mean(vals, nil)
			cs.Max = floats.Max(vals)
			cs.Min = floats.Min(vals)
		}
		r.summary.Contrasts[name] = cs
		r.logger.Infow("Contrast summary", "name", name, "kind", spec.Kind.String(), "mean", cs.Mean, "min", cs.Min, "max", cs.Max)
	}
}

func (r *Runner) closeWriters() error {
	var err error
	for _, w := range r.writers {
		err = multierr.Combine(err, w.Close())
	}
	r.writers = nil
	return err
}
