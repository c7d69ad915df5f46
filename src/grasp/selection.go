package grasp

import (
	"math"
	"sort"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/pkg/errors"
)

// SelectBest returns the index of the highest score, ties going to the lowest
// index. found is false when there are no scores.
func SelectBest(poses []datastructures.Pose, scores []float32) (best int, found bool, err error) {
	if len(poses) != len(scores) {
		return 0, false, errors.Errorf("%d poses but %d scores", len(poses), len(scores))
	}
	if len(scores) == 0 {
		return 0, false, nil
	}
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best, true, nil
}

// BestGrasp picks the arg-max grasp of the scene grasps under key. The zero
// sentinel is returned when the model produced no candidates.
func BestGrasp(sg *SceneGrasps) (datastructures.Grasp, bool, error) {
	if sg == nil {
		return datastructures.Grasp{}, false, nil
	}
	idx, found, err := SelectBest(sg.Poses, sg.Scores)
	if err != nil || !found {
		return datastructures.Grasp{}, false, err
	}
	return sg.Grasp(idx), true, nil
}

// selectGrasps picks the candidate indices to keep. Confident contacts
// (score > firstThres) are spread out with farthest point sampling, the rest
// of the budget is filled with the remaining contacts in descending score
// order. Without replacement the indices are returned in ascending order.
func selectGrasps(contacts [][3]float64, scores []float32, cfg TestConfig) []int {
	var confident []int
	for i, s := range scores {
		if float64(s) > cfg.FirstThres {
			confident = append(confident, i)
		}
	}
	confidentPts := make([][3]float64, len(confident))
	for i, idx := range confident {
		confidentPts[i] = contacts[idx]
	}
	centers := farthestPoints(confidentPts, cfg.MaxFarthestPoints)

	selection := make([]int, 0, cfg.NumSamples)
	chosen := map[int]bool{}
	for _, c := range centers {
		selection = append(selection, confident[c])
		chosen[confident[c]] = true
	}

	sorted := make([]int, len(scores))
	for i := range sorted {
		sorted[i] = i
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		return scores[sorted[a]] > scores[sorted[b]]
	})
	remaining := make([]int, 0, len(sorted))
	for _, idx := range sorted {
		if !chosen[idx] {
			remaining = append(remaining, idx)
		}
	}

	if cfg.WithReplacement {
		for j := len(selection); j < cfg.NumSamples && len(remaining) > 0; j++ {
			selection = append(selection, remaining[j%len(remaining)])
		}
		return selection
	}

	for _, idx := range remaining {
		if len(selection) >= cfg.NumSamples {
			break
		}
		if float64(scores[idx]) > cfg.SecondThres {
			selection = append(selection, idx)
		}
	}
	// Keep network order so ties in SelectBest go to the lowest raw index.
	sort.Ints(selection)
	return selection
}

// farthestPoints returns the indices of up to n points chosen greedily so
// that each new point is the one farthest from all points already chosen.
// The first point is always index 0.
func farthestPoints(points [][3]float64, n int) []int {
	if n <= 0 || len(points) == 0 {
		return nil
	}
	if n >= len(points) {
		res := make([]int, len(points))
		for i := range res {
			res[i] = i
		}
		return res
	}

	distances := make([]float64, len(points))
	for i := range distances {
		distances[i] = math.Inf(1)
	}
	centers := make([]int, 0, n)
	next := 0
	for len(centers) < n {
		centers = append(centers, next)
		center := points[next]
		next = 0
		for i, p := range points {
			dx, dy, dz := p[0]-center[0], p[1]-center[1], p[2]-center[2]
			d := math.Sqrt(dx*dx + dy*dy + dz*dz)
			if d < distances[i] {
				distances[i] = d
			}
			if distances[i] > distances[next] {
				next = i
			}
		}
	}
	return centers
}
