package assets

import (
	"bufio"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Yating05/contact-graspnet/src/pointcloud"
	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
	"gonum.org/v1/gonum/spatial/r3"
)

// LoadMesh reads an OBJ, STL or OFF triangle mesh.
func LoadMesh(path string) (*model3d.Mesh, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var triangles []*model3d.Triangle
	switch strings.ToLower(filepath.Ext(path)) {
	case ".obj":
		triangles, err = ReadOBJ(r)
	case ".stl":
		triangles, err = model3d.ReadSTL(r)
	case ".off":
		triangles, err = model3d.ReadOFF(r)
	default:
		return nil, errors.Errorf("unsupported mesh format: %s", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read mesh %s", path)
	}
	if len(triangles) == 0 {
		return nil, errors.Errorf("mesh %s has no faces", path)
	}
	return model3d.NewMeshTriangles(triangles), nil
}

// ReadOBJ reads the faces of a Wavefront OBJ file. Polygons are split into
// triangle fans; texture and normal indices are ignored.
func ReadOBJ(r io.Reader) ([]*model3d.Triangle, error) {
	var vertices []model3d.Coord3D
	var triangles []*model3d.Triangle

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, errors.Errorf("read obj: line %d: vertex needs 3 coordinates", lineNum)
			}
			var c [3]float64
			for i := range c {
				v, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, errors.Wrapf(err, "read obj: line %d", lineNum)
				}
				c[i] = v
			}
			vertices = append(vertices, model3d.XYZ(c[0], c[1], c[2]))
		case "f":
			if len(fields) < 4 {
				return nil, errors.Errorf("read obj: line %d: face needs 3 vertices", lineNum)
			}
			idcs := make([]int, 0, len(fields)-1)
			for _, f := range fields[1:] {
				idx, err := strconv.Atoi(strings.SplitN(f, "/", 2)[0])
				if err != nil {
					return nil, errors.Wrapf(err, "read obj: line %d", lineNum)
				}
				if idx < 0 {
					idx = len(vertices) + idx
				} else {
					idx--
				}
				if idx < 0 || idx >= len(vertices) {
					return nil, errors.Errorf("read obj: line %d: vertex index out of range", lineNum)
				}
				idcs = append(idcs, idx)
			}
			for i := 1; i+1 < len(idcs); i++ {
				triangles = append(triangles, &model3d.Triangle{
					vertices[idcs[0]], vertices[idcs[i]], vertices[idcs[i+1]],
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read obj")
	}
	return triangles, nil
}

// SampleUniform draws n points uniformly from the mesh surface. Triangles
// are picked proportionally to their area.
func SampleUniform(mesh *model3d.Mesh, n int, rng *rand.Rand) (pointcloud.PointCloud, error) {
	if n <= 0 {
		return nil, errors.Errorf("invalid sample count %d", n)
	}
	triangles := mesh.TriangleSlice()
	cumulative := make([]float64, len(triangles))
	total := 0.0
	for i, t := range triangles {
		total += t.Area()
		cumulative[i] = total
	}
	if total <= 0 || math.IsNaN(total) {
		return nil, errors.New("mesh has no surface area")
	}

	res := make(pointcloud.PointCloud, n)
	for i := range res {
		idx := sort.SearchFloat64s(cumulative, rng.Float64()*total)
		if idx >= len(triangles) {
			idx = len(triangles) - 1
		}
		t := triangles[idx]

		// Square root warping keeps the barycentric samples uniform.
		s := math.Sqrt(rng.Float64())
		u := rng.Float64()
		p := t[0].Scale(1 - s).Add(t[1].Scale(s * (1 - u))).Add(t[2].Scale(s * u))
		res[i] = r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
	}
	return res, nil
}
