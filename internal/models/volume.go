package models

import "math"

// Volume is one 3-D frame of an image, used for previews and summaries
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	Data []float64

	// Width is the width of the volume in voxels (fastest axis)
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels (slowest axis)
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// Index returns the offset of voxel (x, y, z) in Data
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Range returns the minimum and maximum finite values in the volume.
// An empty or all-NaN volume yields (0, 0).
func (v *Volume) Range() (lo, hi float64) {
	first := true
	for _, val := range v.Data {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			continue
		}
		if first {
			lo, hi = val, val
			first = false
			continue
		}
		if val < lo {
			lo = val
		}
		if val > hi {
			hi = val
		}
	}
	return lo, hi
}

// StatisticKind names the statistical product stored in an output image
type StatisticKind int

const (
	TStatistic StatisticKind = iota
	EffectSize
	StandardDeviation
	FStatistic
	Residual
)

func (k StatisticKind) String() string {
	switch k {
	case TStatistic:
		return "t"
	case EffectSize:
		return "effect"
	case StandardDeviation:
		return "sd"
	case FStatistic:
		return "F"
	case Residual:
		return "resid"
	}
	return "unknown"
}
