package glm

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/mat"

	"fmriglm/pkg/config"
	"fmriglm/pkg/contrast"
	"fmriglm/pkg/grid"
	"fmriglm/pkg/regression"
	"fmriglm/pkg/volume"
)

const frames = 6

// testData builds a [frames, 1, 1, 3] series: voxel 0 follows a noisy trend,
// voxel 1 is flat noise and voxel 2 is a noisy negative trend.
func testData(t *testing.T) *volume.Memory {
	t.Helper()
	g, err := grid.New(frames, 1, 1, 3)
	require.NoError(t, err)
	noise := []float64{0.3, -0.2, 0.1, -0.4, 0.25, -0.05}
	data := make([]float64, g.Size())
	for f := 0; f < frames; f++ {
		data[f*3+0] = 1 + 2*float64(f) + noise[f]
		data[f*3+1] = 4 + noise[(f+2)%frames]
		data[f*3+2] = 5 - float64(f) + noise[frames-1-f]
	}
	m, err := volume.FromData(g, data)
	require.NoError(t, err)
	return m
}

func testDesign() *mat.Dense {
	x := mat.NewDense(frames, 2, nil)
	for f := 0; f < frames; f++ {
		x.Set(f, 0, 1)
		x.Set(f, 1, float64(f))
	}
	return x
}

func testParams(t *testing.T, root string) *Params {
	t.Helper()
	slope, err := contrast.New("slope", [][]float64{{0, 1}})
	require.NoError(t, err)
	omni, err := contrast.New("omnibus", [][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)

	return &Params{
		Data:   testData(t),
		Design: testDesign(),
		Contrasts: []ContrastSpec{
			{Contrast: slope, Kind: contrast.T},
			{Contrast: omni, Kind: contrast.F},
		},
		Output: OutputParams{
			Path:          root,
			Subpath:       "contrasts",
			Ext:           ".nii",
			Effect:        true,
			SD:            true,
			T:             true,
			Resid:         true,
			ResidBasename: "resid",
		},
		Logger: zaptest.NewLogger(t).Sugar(),
	}
}

func readImage(t *testing.T, path string) []float64 {
	t.Helper()
	m, err := volume.Read(path)
	require.NoError(t, err)
	return m.Data()
}

// TestProcess verifies every image holds the OLS fit of its voxel
func TestProcess(t *testing.T) {
	root := t.TempDir()
	params := testParams(t, root)
	runner := NewRunner(params)
	require.NoError(t, runner.Process())

	model, err := regression.NewOLSModel(testDesign())
	require.NoError(t, err)

	dir := filepath.Join(root, "contrasts")
	tvals := readImage(t, filepath.Join(dir, "slope", "t.nii"))
	effects := readImage(t, filepath.Join(dir, "slope", "effect.nii"))
	sds := readImage(t, filepath.Join(dir, "slope", "sd.nii"))
	fvals := readImage(t, filepath.Join(dir, "omnibus", "F.nii"))
	resid := readImage(t, filepath.Join(root, "resid.nii"))

	c := params.Contrasts[0].Contrast.Matrix()
	f := params.Contrasts[1].Contrast.Matrix()
	it := runner.spatial.Iter()
	for it.Next() {
		pos := it.Position()
		y, err := params.Data.Read(pos)
		require.NoError(t, err)
		res, err := model.Fit(y)
		require.NoError(t, err)

		ts, err := res.TContrast(c, regression.TOptions{SD: true, T: true})
		require.NoError(t, err)
		fs, err := res.FContrast(f)
		require.NoError(t, err)

		assert.InDelta(t, ts.T, tvals[pos.Index], 1e-12)
		assert.InDelta(t, ts.Effect, effects[pos.Index], 1e-12)
		assert.InDelta(t, ts.SD, sds[pos.Index], 1e-12)
		assert.InDelta(t, fs.F, fvals[pos.Index], 1e-9)
		for fr, r := range res.Resid() {
			assert.InDelta(t, r, resid[fr*3+pos.Index], 1e-12)
		}
	}

	assert.Greater(t, tvals[0], 5.0)
	assert.Less(t, tvals[2], -2.0)
	assert.InDelta(t, 2, effects[0], 0.2)

	summary := runner.Summary()
	assert.Equal(t, 3, summary.Voxels)
	assert.Equal(t, 3, summary.Fitted)
	assert.Equal(t, 0, summary.Masked)
	require.Contains(t, summary.Contrasts, "slope")
	assert.InDelta(t, tvals[0], summary.Contrasts["slope"].Max, 1e-12)
	assert.InDelta(t, tvals[2], summary.Contrasts["slope"].Min, 1e-12)
	assert.Equal(t, contrast.F, summary.Contrasts["omnibus"].Kind)

	bin, err := os.Stat(filepath.Join(dir, "slope", contrast.BinaryFile))
	require.NoError(t, err)
	assert.EqualValues(t, 2*8, bin.Size())
}

// TestProcessMask verifies masked voxels are skipped and stay zero
func TestProcessMask(t *testing.T) {
	root := t.TempDir()
	params := testParams(t, root)
	mg, err := grid.New(1, 1, 3)
	require.NoError(t, err)
	params.Mask, err = volume.FromData(mg, []float64{1, 0, 1})
	require.NoError(t, err)

	runner := NewRunner(params)
	require.NoError(t, runner.Process())
	assert.Equal(t, 1, runner.Summary().Masked)
	assert.Equal(t, 2, runner.Summary().Fitted)

	effects := readImage(t, filepath.Join(root, "contrasts", "slope", "effect.nii"))
	assert.Equal(t, 0.0, effects[1])
	assert.NotEqual(t, 0.0, effects[0])
}

func TestProcessInputErrors(t *testing.T) {
	t.Run("design rows", func(t *testing.T) {
		params := testParams(t, t.TempDir())
		params.Design = mat.NewDense(frames-1, 2, nil)
		err := NewRunner(params).Process()
		assert.True(t, errors.Is(err, ErrDesignRows))
	})
	t.Run("mask grid", func(t *testing.T) {
		params := testParams(t, t.TempDir())
		mg, err := grid.New(3)
		require.NoError(t, err)
		params.Mask = volume.NewMemory(mg)
		assert.True(t, errors.Is(NewRunner(params).Process(), ErrMaskGrid))
	})
	t.Run("contrast columns", func(t *testing.T) {
		params := testParams(t, t.TempDir())
		bad, err := contrast.New("wide", [][]float64{{1, 0, 0}})
		require.NoError(t, err)
		params.Contrasts = []ContrastSpec{{Contrast: bad, Kind: contrast.T}}
		assert.True(t, errors.Is(NewRunner(params).Process(), contrast.ErrColumns))
	})
	t.Run("existing outputs", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, NewRunner(testParams(t, root)).Process())
		err := NewRunner(testParams(t, root)).Process()
		assert.True(t, errors.Is(err, volume.ErrExists))

		params := testParams(t, root)
		params.Output.Clobber = true
		assert.NoError(t, NewRunner(params).Process())
	})
}

// TestParamsFromConfig verifies the file-based entry point end to end
func TestParamsFromConfig(t *testing.T) {
	root := t.TempDir()

	data := testData(t)
	img, err := volume.Create(filepath.Join(root, "bold.nii"), data.Grid())
	require.NoError(t, err)
	sp, err := data.Grid().Trailing(3)
	require.NoError(t, err)
	it := sp.Iter()
	for it.Next() {
		y, err := data.Read(it.Position())
		require.NoError(t, err)
		require.NoError(t, img.Write(it.Position(), y))
	}
	require.NoError(t, img.Close())

	var design strings.Builder
	design.WriteString("intercept,trend\n")
	for f := 0; f < frames; f++ {
		design.WriteString("1," + strconv.Itoa(f) + "\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "design.csv"), []byte(design.String()), 0644))

	cfg := config.DefaultConfig()
	cfg.Input.Image = filepath.Join(root, "bold.nii")
	cfg.Input.Design = filepath.Join(root, "design.csv")
	cfg.Output.Path = filepath.Join(root, "out")
	cfg.Contrasts = []config.ContrastConfig{{Name: "slope", Kind: "t", Matrix: [][]float64{{0, 1}}}}

	params, err := ParamsFromConfig(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	r, c := params.Design.Dims()
	assert.Equal(t, frames, r)
	assert.Equal(t, 2, c)
	require.NoError(t, NewRunner(params).Process())

	for _, name := range []string{"t.img", "t.hdr", "effect.img", "sd.img", "matrix.csv", "matrix.bin"} {
		_, err := os.Stat(filepath.Join(root, "out", "contrasts", "slope", name))
		assert.NoError(t, err, name)
	}
}
