// Package pointcloud holds the flat 3D point arrays fed to the grasp network
// and the small amount of geometry done on them before inference.
package pointcloud

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

type PointCloud []r3.Vec

// Mean returns the centroid of the cloud. The mean of an empty cloud is the
// origin.
func (pc PointCloud) Mean() r3.Vec {
	var sum r3.Vec
	if len(pc) == 0 {
		return sum
	}
	for _, p := range pc {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(pc)), sum)
}

// Translate returns a copy of the cloud shifted by offset.
func (pc PointCloud) Translate(offset r3.Vec) PointCloud {
	res := make(PointCloud, len(pc))
	for i, p := range pc {
		res[i] = r3.Add(p, offset)
	}
	return res
}

// FlipXY returns a copy of the cloud with the x and y axes negated.
func (pc PointCloud) FlipXY() PointCloud {
	res := make(PointCloud, len(pc))
	for i, p := range pc {
		res[i] = r3.Vec{X: -p.X, Y: -p.Y, Z: p.Z}
	}
	return res
}

// Bounds returns the axis aligned bounding box of the cloud.
func (pc PointCloud) Bounds() (lo, hi r3.Vec) {
	if len(pc) == 0 {
		return
	}
	lo, hi = pc[0], pc[0]
	for _, p := range pc[1:] {
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return
}

// CropZ keeps the points with zMin < z < zMax.
func (pc PointCloud) CropZ(zMin, zMax float64) PointCloud {
	res := make(PointCloud, 0, len(pc))
	for _, p := range pc {
		if p.Z > zMin && p.Z < zMax {
			res = append(res, p)
		}
	}
	return res
}

// CropBox keeps the points strictly inside the box (lo, hi).
func (pc PointCloud) CropBox(lo, hi r3.Vec) PointCloud {
	res := make(PointCloud, 0)
	for _, p := range pc {
		if p.X > lo.X && p.Y > lo.Y && p.Z > lo.Z &&
			p.X < hi.X && p.Y < hi.Y && p.Z < hi.Z {
			res = append(res, p)
		}
	}
	return res
}

// Regularize returns a cloud with exactly n points. Larger clouds are
// subsampled without replacement, smaller ones are padded with randomly
// chosen duplicates.
func (pc PointCloud) Regularize(n int, rng *rand.Rand) (PointCloud, error) {
	if n <= 0 {
		return nil, errors.Errorf("invalid point count %d", n)
	}
	if len(pc) == 0 {
		return nil, errors.New("cannot regularize an empty point cloud")
	}
	if len(pc) == n {
		return append(PointCloud(nil), pc...), nil
	}
	if len(pc) > n {
		perm := rng.Perm(len(pc))[:n]
		res := make(PointCloud, n)
		for i, idx := range perm {
			res[i] = pc[idx]
		}
		return res, nil
	}
	res := make(PointCloud, 0, n)
	res = append(res, pc...)
	for len(res) < n {
		res = append(res, pc[rng.Intn(len(pc))])
	}
	return res, nil
}

// RejectMedianOutliers drops the points whose summed absolute deviation from
// the per-axis median is at least m.
func (pc PointCloud) RejectMedianOutliers(m float64) PointCloud {
	if len(pc) == 0 {
		return pc
	}
	med := pc.median()
	res := make(PointCloud, 0, len(pc))
	for _, p := range pc {
		d := math.Abs(p.X-med.X) + math.Abs(p.Y-med.Y) + math.Abs(p.Z-med.Z)
		if d < m {
			res = append(res, p)
		}
	}
	return res
}

func (pc PointCloud) median() r3.Vec {
	xs := make([]float64, len(pc))
	ys := make([]float64, len(pc))
	zs := make([]float64, len(pc))
	for i, p := range pc {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return r3.Vec{X: medianOf(xs), Y: medianOf(ys), Z: medianOf(zs)}
}

func medianOf(vals []float64) float64 {
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// Float32 converts the cloud into the row layout the network consumes.
func (pc PointCloud) Float32() [][3]float32 {
	res := make([][3]float32, len(pc))
	for i, p := range pc {
		res[i] = [3]float32{float32(p.X), float32(p.Y), float32(p.Z)}
	}
	return res
}

// FromRows builds a cloud from rows of at least three coordinates.
func FromRows(data []float64, cols int) (PointCloud, error) {
	if cols < 3 {
		return nil, errors.Errorf("point rows need at least 3 columns, got %d", cols)
	}
	if len(data)%cols != 0 {
		return nil, errors.Errorf("%d values do not form rows of %d", len(data), cols)
	}
	res := make(PointCloud, 0, len(data)/cols)
	for i := 0; i < len(data); i += cols {
		res = append(res, r3.Vec{X: data[i], Y: data[i+1], Z: data[i+2]})
	}
	return res, nil
}
