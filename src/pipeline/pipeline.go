// Package pipeline runs grasp inference over every input matched by a glob.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Yating05/contact-graspnet/src/assets"
	"github.com/Yating05/contact-graspnet/src/commons"
	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/Yating05/contact-graspnet/src/grasp"
	"github.com/Yating05/contact-graspnet/src/inputdata"
	"github.com/Yating05/contact-graspnet/src/pointcloud"
	"github.com/Yating05/contact-graspnet/src/results"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultNumPoints is the number of points sampled from each object mesh.
const DefaultNumPoints = 10000

// Visualizer draws a cloud with its grasp candidates. best is nil when no
// grasp was found.
type Visualizer interface {
	Render(name string, pc pointcloud.PointCloud, candidates []datastructures.Grasp, best *datastructures.Grasp) (string, error)
}

type Options struct {
	// Scene switches from per-object mesh sampling to predicting on the
	// input file itself.
	Scene     bool
	NumPoints int
	Seed      int64
	Grasps    grasp.SceneOptions
	Extract   inputdata.ExtractOptions
	K         *inputdata.Intrinsics
}

type Pipeline struct {
	estimator  *grasp.Estimator
	library    *assets.Library
	sink       results.Sink
	visualizer Visualizer
	opts       Options
	rng        *rand.Rand
}

// New creates a pipeline. library is only needed outside of scene mode, sink
// and visualizer may be nil.
func New(estimator *grasp.Estimator, library *assets.Library, sink results.Sink, visualizer Visualizer, opts Options) (*Pipeline, error) {
	if !opts.Scene && library == nil {
		return nil, errors.New("an asset library is needed unless running on scenes")
	}
	if opts.NumPoints <= 0 {
		opts.NumPoints = DefaultNumPoints
	}
	return &Pipeline{
		estimator:  estimator,
		library:    library,
		sink:       sink,
		visualizer: visualizer,
		opts:       opts,
		rng:        rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Run processes every file matched by inputGlob and stores the best grasp per
// object under runID. A glob without matches is not an error.
func (p *Pipeline) Run(ctx context.Context, runID string, inputGlob string) ([]datastructures.ObjectGrasp, error) {
	paths, err := commons.Glob(inputGlob)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		log.Info("No files found: ", inputGlob)
		return nil, nil
	}

	var grasps []datastructures.ObjectGrasp
	for _, path := range paths {
		log.Info("[Pipeline] Loading ", path)
		var res []datastructures.ObjectGrasp
		if p.opts.Scene {
			res, err = p.runScene(ctx, path)
		} else {
			res, err = p.runAssets(ctx, path)
		}
		grasps = append(grasps, res...)
		if err != nil {
			return grasps, err
		}
	}

	logSummary(grasps)
	if p.sink != nil {
		if err := p.sink.Store(ctx, runID, grasps); err != nil {
			return grasps, errors.Wrap(err, "store grasps")
		}
	}
	return grasps, nil
}

func (p *Pipeline) runAssets(ctx context.Context, path string) ([]datastructures.ObjectGrasp, error) {
	// Sampled meshes carry no segments, so local regions have nothing to
	// crop around.
	opts := p.opts.Grasps
	opts.LocalRegions = false

	var res []datastructures.ObjectGrasp
	for _, entry := range p.library.Entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log.Info("[Pipeline] Asset object name: ", entry.Name)
		mesh, err := assets.LoadMesh(entry.MeshPath)
		if err != nil {
			return res, err
		}
		pc, err := assets.SampleUniform(mesh, p.opts.NumPoints, p.rng)
		if err != nil {
			return res, errors.Wrapf(err, "sample %s", entry.Name)
		}

		log.Info("[Pipeline] Generating Grasps...")
		predictions, err := p.estimator.PredictSceneGrasps(ctx, pc, nil, opts)
		if err != nil {
			return res, errors.Wrapf(err, "predict grasps for %s", entry.Name)
		}
		og, err := p.record(entry.Name, path, pc, predictions[grasp.FullSceneKey])
		if err != nil {
			return res, err
		}
		res = append(res, og)
	}
	return res, nil
}

func (p *Pipeline) runScene(ctx context.Context, path string) ([]datastructures.ObjectGrasp, error) {
	in, err := inputdata.Load(path, p.opts.K)
	if err != nil {
		return nil, err
	}
	if in.Segmap == nil && (p.opts.Grasps.LocalRegions || p.opts.Grasps.FilterGrasps) {
		return nil, errors.Errorf("%s: need a segmentation map to extract local regions or filter grasps", path)
	}
	full, segments, err := inputdata.ExtractPointClouds(in, p.opts.Extract)
	if err != nil {
		return nil, err
	}

	log.Info("[Pipeline] Generating Grasps...")
	predictions, err := p.estimator.PredictSceneGrasps(ctx, full, segments, p.opts.Grasps)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var res []datastructures.ObjectGrasp
	for _, k := range sortedKeys(predictions) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := "scene"
		if k != grasp.FullSceneKey {
			name = fmt.Sprintf("segment_%d", k)
		}
		og, err := p.record(name, path, full, predictions[k])
		if err != nil {
			return res, errors.Wrapf(err, "%s/%s", stem, name)
		}
		res = append(res, og)
	}
	return res, nil
}

// record selects the best grasp of sg and visualizes it.
func (p *Pipeline) record(name, path string, pc pointcloud.PointCloud, sg *grasp.SceneGrasps) (datastructures.ObjectGrasp, error) {
	og := datastructures.ObjectGrasp{Object: name, Input: path}
	best, found, err := grasp.BestGrasp(sg)
	if err != nil {
		return og, err
	}
	if sg != nil {
		og.NumCandidates = sg.Len()
	}
	if !found {
		log.Info("No grasps found")
		return og, nil
	}
	og.Found = true
	og.Grasp = best
	log.Info("Max score grasp: ", best.Pose, " score ", best.Score)

	if p.visualizer != nil {
		candidates := make([]datastructures.Grasp, sg.Len())
		for i := range candidates {
			candidates[i] = sg.Grasp(i)
		}
		if _, err := p.visualizer.Render(results.Key(og), pc, candidates, &best); err != nil {
			log.Warn("[Pipeline] Couldn't visualize ", name, ": ", err.Error())
		}
	}
	log.Info("Done")
	return og, nil
}

func logSummary(grasps []datastructures.ObjectGrasp) {
	var scores stats.Float64Data
	for _, g := range grasps {
		if g.Found {
			scores = append(scores, float64(g.Grasp.Score))
		}
	}
	if len(scores) == 0 {
		log.Info("[Pipeline] No grasps found for any of ", len(grasps), " objects")
		return
	}
	mean, _ := scores.Mean()
	median, _ := scores.Median()
	lo, _ := scores.Min()
	hi, _ := scores.Max()
	log.WithFields(log.Fields{
		"objects": len(grasps),
		"found":   len(scores),
		"mean":    mean,
		"median":  median,
		"min":     lo,
		"max":     hi,
	}).Info("[Pipeline] Best grasp scores")
}

func sortedKeys(m map[int]*grasp.SceneGrasps) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
