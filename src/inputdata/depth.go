package inputdata

import (
	"sort"

	"github.com/Yating05/contact-graspnet/src/pointcloud"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

const borderMarginPx = 5

// Intrinsics are the pinhole camera parameters of a depth image.
type Intrinsics struct {
	Fx, Fy, Cx, Cy float64
}

// IntrinsicsFromMatrix reads fx, fy, cx, cy from a row major 3x3 camera
// matrix.
func IntrinsicsFromMatrix(k []float64) (*Intrinsics, error) {
	if len(k) != 9 {
		return nil, errors.Errorf("camera matrix needs 9 values, got %d", len(k))
	}
	if k[0] == 0 || k[4] == 0 {
		return nil, errors.New("camera matrix has a zero focal length")
	}
	return &Intrinsics{Fx: k[0], Cx: k[2], Fy: k[4], Cy: k[5]}, nil
}

// ParseIntrinsics parses a flat camera matrix such as
// "[fx, 0, cx, 0, fy, cy, 0, 0, 1]".
func ParseIntrinsics(s string) (*Intrinsics, error) {
	var k []float64
	if err := yaml.Unmarshal([]byte(s), &k); err != nil {
		return nil, errors.Wrapf(err, "parse camera matrix %q", s)
	}
	return IntrinsicsFromMatrix(k)
}

// ParseRange parses a two element list such as "[0.2, 1.8]".
func ParseRange(s string) ([2]float64, error) {
	var vals []float64
	if err := yaml.Unmarshal([]byte(s), &vals); err != nil {
		return [2]float64{}, errors.Wrapf(err, "parse range %q", s)
	}
	if len(vals) != 2 || vals[0] >= vals[1] {
		return [2]float64{}, errors.Errorf("range %q must be [min, max] with min < max", s)
	}
	return [2]float64{vals[0], vals[1]}, nil
}

// DepthMap holds depth in metres, row major.
type DepthMap struct {
	Width, Height int
	Data          []float64
}

func (d *DepthMap) At(x, y int) float64 {
	return d.Data[y*d.Width+x]
}

// Segmap holds a segment id per pixel, 0 being background.
type Segmap struct {
	Width, Height int
	Data          []int
}

func (s *Segmap) At(x, y int) int {
	return s.Data[y*s.Width+x]
}

// IDs returns the distinct non-zero segment ids in ascending order.
func (s *Segmap) IDs() []int {
	seen := map[int]bool{}
	for _, id := range s.Data {
		if id != 0 {
			seen[id] = true
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Segmap) touchesBorder(id, margin int) bool {
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			if s.At(x, y) != id {
				continue
			}
			if x < margin || x > s.Width-margin || y < margin || y > s.Height-margin {
				return true
			}
		}
	}
	return false
}

// DepthToPointCloud back-projects every pixel with positive depth (and, when
// keep is non-nil, for which keep returns true).
func DepthToPointCloud(depth *DepthMap, k *Intrinsics, keep func(x, y int) bool) pointcloud.PointCloud {
	var res pointcloud.PointCloud
	for y := 0; y < depth.Height; y++ {
		for x := 0; x < depth.Width; x++ {
			z := depth.At(x, y)
			if z <= 0 {
				continue
			}
			if keep != nil && !keep(x, y) {
				continue
			}
			res = append(res, r3.Vec{
				X: (float64(x) - k.Cx) * z / k.Fx,
				Y: (float64(y) - k.Cy) * z / k.Fy,
				Z: z,
			})
		}
	}
	return res
}

type ExtractOptions struct {
	ZRange            [2]float64
	SegmapID          int
	SkipBorderObjects bool
}

// ExtractPointClouds converts the input into the full scene cloud and one
// cloud per segment. Inputs that already carry a point cloud are used as is.
func ExtractPointClouds(in *Input, opts ExtractOptions) (pointcloud.PointCloud, map[int]pointcloud.PointCloud, error) {
	segments := map[int]pointcloud.PointCloud{}
	if in.PointCloud != nil {
		return in.PointCloud, segments, nil
	}
	if in.Depth == nil {
		return nil, nil, errors.Errorf("%s has neither a point cloud nor a depth map", in.Path)
	}
	if in.K == nil {
		return nil, nil, errors.Errorf("%s: camera intrinsics are needed to convert depth to a point cloud", in.Path)
	}

	log.Info("[Input] Converting depth to point cloud(s)...")
	full := DepthToPointCloud(in.Depth, in.K, nil).CropZ(opts.ZRange[0], opts.ZRange[1])
	if in.Segmap == nil {
		return full, segments, nil
	}
	if in.Segmap.Width != in.Depth.Width || in.Segmap.Height != in.Depth.Height {
		return nil, nil, errors.Errorf("segmap is %dx%d but depth is %dx%d",
			in.Segmap.Width, in.Segmap.Height, in.Depth.Width, in.Depth.Height)
	}

	ids := in.Segmap.IDs()
	if opts.SegmapID != 0 {
		ids = []int{opts.SegmapID}
	}
	for _, id := range ids {
		if opts.SkipBorderObjects && in.Segmap.touchesBorder(id, borderMarginPx) {
			log.Info("[Input] Object ", id, " not entirely in image bounds, skipping")
			continue
		}
		segmentID := id
		segment := DepthToPointCloud(in.Depth, in.K, func(x, y int) bool {
			return in.Segmap.At(x, y) == segmentID
		})
		segments[id] = segment.CropZ(opts.ZRange[0], opts.ZRange[1])
	}
	return full, segments, nil
}
