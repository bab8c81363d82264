package regression

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrSingularDesign = errors.New("design matrix is rank deficient")
	ErrDesignShape    = errors.New("design needs more rows than columns")
	ErrObservations   = errors.New("observation count does not match the design")
	ErrContrastShape  = errors.New("contrast does not match the model")
	ErrSingularF      = errors.New("F contrast covariance is singular")
)

// OLSModel is an ordinary least squares model with a fixed design. The
// pseudo-inverse is computed once and reused for every voxel.
type OLSModel struct {
	x       *mat.Dense
	pinv    *mat.Dense // p x n
	normCov *mat.Dense // (X'X)^-1
	n, p    int
}

// NewOLSModel prepares a model for the n x p design x.
func NewOLSModel(x mat.Matrix) (*OLSModel, error) {
	n, p := x.Dims()
	if n <= p {
		return nil, errors.Wrapf(ErrDesignShape, "design is %d x %d", n, p)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return nil, errors.Wrap(ErrSingularDesign, err.Error())
	}

	var pinv mat.Dense
	pinv.Mul(&inv, x.T())

	return &OLSModel{
		x:       mat.DenseCopyOf(x),
		pinv:    &pinv,
		normCov: &inv,
		n:       n,
		p:       p,
	}, nil
}

// Dims returns the number of observations and coefficients.
func (m *OLSModel) Dims() (n, p int) { return m.n, m.p }

// DFResid returns the residual degrees of freedom.
func (m *OLSModel) DFResid() float64 { return float64(m.n - m.p) }

// Fit estimates the coefficients for one voxel's observations.
func (m *OLSModel) Fit(y []float64) (*OLSResult, error) {
	if len(y) != m.n {
		return nil, errors.Wrapf(ErrObservations, "got %d, want %d", len(y), m.n)
	}
	yv := mat.NewVecDense(m.n, y)

	beta := mat.NewVecDense(m.p, nil)
	beta.MulVec(m.pinv, yv)

	fitted := mat.NewVecDense(m.n, nil)
	fitted.MulVec(m.x, beta)

	resid := make([]float64, m.n)
	floats.SubTo(resid, y, fitted.RawVector().Data)

	df := m.DFResid()
	return &OLSResult{
		Beta:    append([]float64(nil), beta.RawVector().Data...),
		Scale:   floats.Dot(resid, resid) / df,
		DF:      df,
		resid:   resid,
		normCov: m.normCov,
	}, nil
}

// OLSResult is the fit of one voxel. It implements Result.
type OLSResult struct {
	Beta  []float64
	Scale float64 // residual variance estimate
	DF    float64

	resid   []float64
	normCov *mat.Dense
}

func (r *OLSResult) Resid() []float64 { return r.resid }

// TContrast evaluates a single-row contrast. A zero standard deviation
// yields t = 0 and p = 1.
func (r *OLSResult) TContrast(c mat.Matrix, opts TOptions) (TStat, error) {
	rows, cols := c.Dims()
	if rows != 1 || cols != len(r.Beta) {
		return TStat{}, errors.Wrapf(ErrContrastShape, "t contrast is %d x %d, model has %d coefficients", rows, cols, len(r.Beta))
	}

	cv := mat.NewVecDense(cols, nil)
	for j := 0; j < cols; j++ {
		cv.SetVec(j, c.At(0, j))
	}
	out := TStat{
		Effect: mat.Dot(cv, mat.NewVecDense(len(r.Beta), r.Beta)),
		DF:     r.DF,
	}
	if !opts.SD && !opts.T {
		return out, nil
	}

	variance := r.Scale * mat.Inner(cv, r.normCov, cv)
	out.SD = math.Sqrt(math.Max(variance, 0))
	if !opts.T {
		return out, nil
	}

	if out.SD == 0 {
		out.P = 1
		return out, nil
	}
	out.T = out.Effect / out.SD
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: r.DF}
	out.P = 2 * dist.Survival(math.Abs(out.T))
	return out, nil
}

// FContrast evaluates a q x p contrast. A zero residual variance yields
// F = 0 and p = 1.
func (r *OLSResult) FContrast(c mat.Matrix) (FStat, error) {
	q, cols := c.Dims()
	if cols != len(r.Beta) {
		return FStat{}, errors.Wrapf(ErrContrastShape, "F contrast is %d x %d, model has %d coefficients", q, cols, len(r.Beta))
	}

	effect := mat.NewVecDense(q, nil)
	effect.MulVec(c, mat.NewVecDense(len(r.Beta), r.Beta))

	out := FStat{
		DFNum:  float64(q),
		DFDen:  r.DF,
		Effect: append([]float64(nil), effect.RawVector().Data...),
		P:      1,
	}
	if r.Scale == 0 {
		return out, nil
	}

	var tmp, cov mat.Dense
	tmp.Mul(c, r.normCov)
	cov.Mul(&tmp, c.T())
	var inv mat.Dense
	if err := inv.Inverse(&cov); err != nil {
		return FStat{}, errors.Wrap(ErrSingularF, err.Error())
	}

	out.F = mat.Inner(effect, &inv, effect) / (float64(q) * r.Scale)
	dist := distuv.F{D1: out.DFNum, D2: out.DFDen}
	out.P = dist.Survival(out.F)
	return out, nil
}
