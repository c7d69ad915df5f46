package inputdata

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/Yating05/contact-graspnet/src/pointcloud"
	"github.com/disintegration/imaging"
	"github.com/sbinet/npyio"
	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

func writeNpy(t *testing.T, path string, m *mat.Dense) {
	f, err := os.Create(path)
	ok(t, err)
	defer f.Close()
	ok(t, npyio.Write(f, m))
}

func TestLoadNpyPointCloud(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0.npy")
	writeNpy(t, path, mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}))

	in, err := Load(path, nil)
	ok(t, err)
	equals(t, pointcloud.PointCloud{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, in.PointCloud)
	equals(t, (*DepthMap)(nil), in.Depth)
}

func TestLoadNpyDepth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depth.npy")
	writeNpy(t, path, mat.NewDense(2, 4, []float64{1, 1, 1, 1, 2, 2, 2, 2}))

	k := &Intrinsics{Fx: 1, Fy: 1}
	in, err := Load(path, k)
	ok(t, err)
	equals(t, &DepthMap{Width: 4, Height: 2, Data: []float64{1, 1, 1, 1, 2, 2, 2, 2}}, in.Depth)
	equals(t, k, in.K)
}

func TestLoadNpzDepthWithIntrinsicsAndSegmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.npz")
	w, err := npz.Create(path)
	ok(t, err)
	ok(t, w.Write("depth", mat.NewDense(2, 2, []float64{1, 1, 1, 1})))
	ok(t, w.Write("K", []float64{500, 0, 1, 0, 500, 1, 0, 0, 1}))
	ok(t, w.Write("segmap", mat.NewDense(2, 2, []float64{0, 1, 1, 0})))
	ok(t, w.Close())

	in, err := Load(path, nil)
	ok(t, err)
	equals(t, &Intrinsics{Fx: 500, Fy: 500, Cx: 1, Cy: 1}, in.K)
	equals(t, &Segmap{Width: 2, Height: 2, Data: []int{0, 1, 1, 0}}, in.Segmap)
	equals(t, 4, len(in.Depth.Data))
}

func TestLoadNpzPointCloud(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.npz")
	w, err := npz.Create(path)
	ok(t, err)
	ok(t, w.Write("xyz", []float64{1, 2, 3, 4, 5, 6}))
	ok(t, w.Close())

	in, err := Load(path, nil)
	ok(t, err)
	equals(t, 2, len(in.PointCloud))
}

func TestLoadPngDepthWithLabel(t *testing.T) {
	dir := t.TempDir()
	depth := image.NewGray16(image.Rect(0, 0, 2, 1))
	depth.SetGray16(0, 0, color.Gray16{Y: 1500})
	depth.SetGray16(1, 0, color.Gray16{Y: 250})
	ok(t, imaging.Save(depth, filepath.Join(dir, "0_depth.png")))

	label := image.NewGray(image.Rect(0, 0, 2, 1))
	label.SetGray(1, 0, color.Gray{Y: 3})
	ok(t, imaging.Save(label, filepath.Join(dir, "0_label.png")))

	in, err := Load(filepath.Join(dir, "0_depth.png"), nil)
	ok(t, err)
	equals(t, []float64{1.5, 0.25}, in.Depth.Data)
	equals(t, []int{0, 3}, in.Segmap.Data)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	if _, err := Load("scene.ply", nil); err == nil {
		t.Fatal("expected an error for an unknown extension")
	}
}
