package glm

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestReadDesign(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *mat.Dense
	}{
		{"plain", "1,0\n1,1\n1,2\n", mat.NewDense(3, 2, []float64{1, 0, 1, 1, 1, 2})},
		{"header", "const, trend\n1, 0.5\n1, -1\n", mat.NewDense(2, 2, []float64{1, 0.5, 1, -1})},
		{"comments", "# generated\n1\n2\n", mat.NewDense(2, 1, []float64{1, 2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadDesign(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.True(t, mat.Equal(tt.want, got))
		})
	}
}

func TestReadDesignErrors(t *testing.T) {
	_, err := ReadDesign(strings.NewReader("a,b\n"))
	assert.True(t, errors.Is(err, ErrEmptyDesign))

	_, err = ReadDesign(strings.NewReader("1,2\n3,x\n"))
	assert.Error(t, err)

	_, err = ReadDesign(strings.NewReader("1,2\n3\n"))
	assert.Error(t, err)

	_, err = LoadDesign(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
