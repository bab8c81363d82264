// Package visualization renders statistic volumes as grayscale slice previews.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"fmriglm/internal/models"
)

var (
	ErrInvalidAxis = errors.New("invalid axis (must be x, y or z)")
	ErrOutOfBounds = errors.New("position outside volume")
)

// Viewer extracts 2-D slices from a single 3-D frame. Voxel values are mapped
// linearly from the display window [lo, hi] to the full gray range.
type Viewer struct {
	vol *models.Volume

	// display window
	lo, hi float64
}

// NewViewer creates a viewer windowed to the finite range of vol
func NewViewer(vol *models.Volume) *Viewer {
	lo, hi := vol.Range()
	return &Viewer{vol: vol, lo: lo, hi: hi}
}

// SetWindow overrides the display window. Statistic maps are often viewed
// with a symmetric window such as [-5, 5].
func (v *Viewer) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

// Window returns the display window
func (v *Viewer) Window() (lo, hi float64) { return v.lo, v.hi }

// gray maps a voxel value to a 16-bit intensity. NaN and an empty window map to black.
func (v *Viewer) gray(val float64) color.Gray16 {
	if math.IsNaN(val) || v.hi <= v.lo {
		return color.Gray16{}
	}
	norm := (val - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, norm*65535)))}
}

// axis normalizes an axis name. Anatomical names follow the usual
// RAS convention where x runs left to right and z runs foot to head.
func axis(name string) (string, error) {
	switch name {
	case "x", "X", "sagittal":
		return "x", nil
	case "y", "Y", "coronal":
		return "y", nil
	case "z", "Z", "axial":
		return "z", nil
	}
	return "", errors.Wrapf(ErrInvalidAxis, "got %q", name)
}

// extent returns the number of slices along a normalized axis
func (v *Viewer) extent(ax string) int {
	switch ax {
	case "x":
		return v.vol.Width
	case "y":
		return v.vol.Height
	}
	return v.vol.Depth
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axisName string, position int) (image.Image, error) {
	ax, err := axis(axisName)
	if err != nil {
		return nil, err
	}
	if n := v.extent(ax); position < 0 || position >= n {
		return nil, errors.Wrapf(ErrOutOfBounds, "%s slice %d of %d", ax, position, n)
	}

	vol := v.vol
	var img *image.Gray16
	switch ax {
	case "x":
		// YZ plane
		img = image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, v.gray(vol.Data[vol.Index(position, y, z)]))
			}
		}
	case "y":
		// XZ plane
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, v.gray(vol.Data[vol.Index(x, position, z)]))
			}
		}
	default:
		// XY plane
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, v.gray(vol.Data[vol.Index(x, y, position)]))
			}
		}
	}
	return img, nil
}

// ExtractRegion extracts a 3D subregion of raw values from the volume
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) ([]float64, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, errors.Wrap(ErrOutOfBounds, "start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, errors.New("size dimensions must be positive")
	}
	vol := v.vol
	if startX+sizeX > vol.Width || startY+sizeY > vol.Height || startZ+sizeZ > vol.Depth {
		return nil, errors.Wrap(ErrOutOfBounds, "region extends beyond volume boundaries")
	}

	region := make([]float64, 0, sizeX*sizeY*sizeZ)
	for z := startZ; z < startZ+sizeZ; z++ {
		for y := startY; y < startY+sizeY; y++ {
			row := vol.Index(startX, y, z)
			region = append(region, vol.Data[row:row+sizeX]...)
		}
	}
	return region, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "unable to create slice file")
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
// It returns the written file names in slice order.
func (v *Viewer) SaveSliceSequence(axisName string, outputDir string) ([]string, error) {
	ax, err := axis(axisName)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create slice directory")
	}

	n := v.extent(ax)
	files := make([]string, 0, n)
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(ax, pos)
		if err != nil {
			return files, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", ax, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return files, err
		}
		files = append(files, filename)
	}
	return files, nil
}
