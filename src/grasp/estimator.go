package grasp

import (
	"context"
	"math"
	"math/rand"
	"sort"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/Yating05/contact-graspnet/src/pointcloud"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// FullSceneKey is the key of grasps predicted on the whole point cloud.
const FullSceneKey = -1

const (
	outlierDeviation = 0.4
	minRegionSize    = 0.3
	maxRegionSize    = 0.6
)

// SceneGrasps are the selected grasp candidates of one point cloud, index
// aligned.
type SceneGrasps struct {
	Poses    []datastructures.Pose
	Scores   []float32
	Contacts [][3]float64
	Openings []float64
}

func (sg *SceneGrasps) Len() int {
	return len(sg.Scores)
}

func (sg *SceneGrasps) Grasp(i int) datastructures.Grasp {
	return datastructures.Grasp{
		Pose:    sg.Poses[i],
		Score:   sg.Scores[i],
		Contact: sg.Contacts[i],
		Opening: sg.Openings[i],
	}
}

func (sg *SceneGrasps) subset(idcs []int) *SceneGrasps {
	res := &SceneGrasps{
		Poses:    make([]datastructures.Pose, 0, len(idcs)),
		Scores:   make([]float32, 0, len(idcs)),
		Contacts: make([][3]float64, 0, len(idcs)),
		Openings: make([]float64, 0, len(idcs)),
	}
	for _, i := range idcs {
		res.Poses = append(res.Poses, sg.Poses[i])
		res.Scores = append(res.Scores, sg.Scores[i])
		res.Contacts = append(res.Contacts, sg.Contacts[i])
		res.Openings = append(res.Openings, sg.Openings[i])
	}
	return res
}

type SceneOptions struct {
	LocalRegions  bool
	FilterGrasps  bool
	ForwardPasses int
}

// Estimator wraps a grasp network with the point cloud pre- and
// post-processing of contact based grasp generation.
type Estimator struct {
	cfg  *Config
	net  Network
	rng  *rand.Rand
	Info datastructures.ModelInfo
}

func NewEstimator(cfg *Config, net Network, rng *rand.Rand) *Estimator {
	return &Estimator{cfg: cfg, net: net, rng: rng}
}

// Load restores the TensorFlow model from the checkpoint directory.
func Load(checkpointDir string, cfg *Config, seed int64) (*Estimator, error) {
	info, err := LoadModelInfo(checkpointDir)
	if err != nil {
		return nil, err
	}
	network := NewTensorflowNetwork()
	if err := network.Load(checkpointDir, info); err != nil {
		return nil, errors.Wrapf(err, "load checkpoint %s", checkpointDir)
	}
	e := NewEstimator(cfg, network, rand.New(rand.NewSource(seed)))
	e.Info = info
	return e, nil
}

func (e *Estimator) Config() *Config {
	return e.cfg
}

func (e *Estimator) Close() error {
	return e.net.Close()
}

// PredictGrasps runs the network on a single point cloud given in camera
// coordinates and returns the selected grasps in camera coordinates.
func (e *Estimator) PredictGrasps(ctx context.Context, pc pointcloud.PointCloud, forwardPasses int) (*SceneGrasps, error) {
	if forwardPasses <= 0 {
		forwardPasses = 1
	}
	regular, err := pc.Regularize(e.cfg.Data.NumPoint, e.rng)
	if err != nil {
		return nil, err
	}
	internal := regular.FlipXY()
	mean := internal.Mean()
	centered := internal.Translate(r3.Scale(-1, mean)).Float32()

	batch := make([][][3]float32, forwardPasses)
	for i := range batch {
		batch[i] = centered
	}
	raw, err := e.net.Run(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := raw.validate(); err != nil {
		return nil, err
	}

	all := &SceneGrasps{
		Poses:    make([]datastructures.Pose, raw.Len()),
		Scores:   raw.Scores,
		Contacts: make([][3]float64, raw.Len()),
		Openings: make([]float64, raw.Len()),
	}
	offset := [3]float64{mean.X, mean.Y, mean.Z}
	for i := range raw.Poses {
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				all.Poses[i][r][c] = float64(raw.Poses[i][r][c])
			}
		}
		for k := 0; k < 3; k++ {
			all.Poses[i][k][3] += offset[k]
			all.Contacts[i][k] = float64(raw.Contacts[i][k]) + offset[k]
		}
		all.Openings[i] = math.Min(float64(raw.Openings[i])+e.cfg.Test.ExtraOpening, e.cfg.Data.GripperWidth)
	}

	selection := selectGrasps(all.Contacts, all.Scores, e.cfg.Test)
	selected := all.subset(selection)

	for i := range selected.Poses {
		p := &selected.Poses[i]
		if e.cfg.Test.CenterToTip != 0 {
			for k := 0; k < 3; k++ {
				p[k][3] -= p[k][2] * e.cfg.Test.CenterToTip / 2
			}
		}
		for c := 0; c < 4; c++ {
			p[0][c] *= -1
			p[1][c] *= -1
		}
		selected.Contacts[i][0] *= -1
		selected.Contacts[i][1] *= -1
	}
	return selected, nil
}

// PredictSceneGrasps predicts grasps on the full cloud (key FullSceneKey) or,
// with local regions, on a cube cropped around every segment. With filtering
// only grasps whose contact lies on the segment are kept.
func (e *Estimator) PredictSceneGrasps(ctx context.Context, full pointcloud.PointCloud, segments map[int]pointcloud.PointCloud, opts SceneOptions) (map[int]*SceneGrasps, error) {
	res := map[int]*SceneGrasps{}

	if opts.LocalRegions {
		regions, err := e.extractRegions(full, segments)
		if err != nil {
			return nil, err
		}
		for _, k := range sortedKeys(regions) {
			sg, err := e.PredictGrasps(ctx, regions[k], opts.ForwardPasses)
			if err != nil {
				return nil, errors.Wrapf(err, "predict grasps for segment %d", k)
			}
			res[k] = sg
		}
	} else {
		regular, err := full.Regularize(e.cfg.Data.RawNumPoints, e.rng)
		if err != nil {
			return nil, err
		}
		sg, err := e.PredictGrasps(ctx, regular, opts.ForwardPasses)
		if err != nil {
			return nil, err
		}
		res[FullSceneKey] = sg
		log.Info("[Estimator] Generated ", sg.Len(), " grasps")
	}

	if !opts.FilterGrasps {
		return res, nil
	}
	keys := sortedKeys(segments)
	if opts.LocalRegions {
		keys = sortedKeys(res)
	}
	for _, k := range keys {
		src := FullSceneKey
		if opts.LocalRegions {
			src = k
		}
		segment := segments[k]
		sg := res[src]
		switch {
		case len(segment) == 0:
			log.Info("[Estimator] Skipping empty segment ", k)
		case sg == nil || sg.Len() == 0:
			log.Info("[Estimator] No grasp contacts found for segment ", k)
		default:
			res[k] = sg.subset(filterSegment(sg.Contacts, segment, e.cfg.Test.FilterThres))
		}
	}
	return res, nil
}

func (e *Estimator) extractRegions(full pointcloud.PointCloud, segments map[int]pointcloud.PointCloud) (map[int]pointcloud.PointCloud, error) {
	regions := map[int]pointcloud.PointCloud{}
	for _, k := range sortedKeys(segments) {
		segment := segments[k].RejectMedianOutliers(outlierDeviation)
		if len(segment) == 0 {
			continue
		}
		lo, hi := segment.Bounds()
		extent := r3.Sub(hi, lo)
		center := r3.Add(lo, r3.Scale(0.5, extent))
		size := math.Max(extent.X, math.Max(extent.Y, extent.Z)) * 2
		size = math.Min(math.Max(size, minRegionSize), maxRegionSize)
		half := r3.Vec{X: size / 2, Y: size / 2, Z: size / 2}

		partial := full.CropBox(r3.Sub(center, half), r3.Add(center, half))
		if len(partial) == 0 {
			continue
		}
		regular, err := partial.Regularize(e.cfg.Data.RawNumPoints, e.rng)
		if err != nil {
			return nil, err
		}
		regions[k] = regular
	}
	return regions, nil
}

// filterSegment returns the indices of contacts closer than thres to a point
// of the segment.
func filterSegment(contacts [][3]float64, segment pointcloud.PointCloud, thres float64) []int {
	var res []int
	for i, c := range contacts {
		cv := r3.Vec{X: c[0], Y: c[1], Z: c[2]}
		for _, p := range segment {
			if r3.Norm(r3.Sub(cv, p)) < thres {
				res = append(res, i)
				break
			}
		}
	}
	return res
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
