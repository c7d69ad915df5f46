// Package inputdata loads the scenes grasps are predicted on: point clouds
// and depth maps stored as .npy, .npz or .png files.
package inputdata

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/Yating05/contact-graspnet/src/pointcloud"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"github.com/sbinet/npyio/npz"
	log "github.com/sirupsen/logrus"
)

// Input is one loaded scene. Either PointCloud or Depth is set.
type Input struct {
	Path       string
	PointCloud pointcloud.PointCloud
	Depth      *DepthMap
	Segmap     *Segmap
	K          *Intrinsics
}

// Load reads the scene at path. k overrides intrinsics stored in the file.
func Load(path string, k *Intrinsics) (*Input, error) {
	in := &Input{Path: path, K: k}
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		err = in.loadNpy()
	case ".npz":
		err = in.loadNpz()
	case ".png":
		err = in.loadPng()
	default:
		return nil, errors.Errorf("%s is neither png nor npz/npy file", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return in, nil
}

func (in *Input) loadNpy() error {
	f, err := os.Open(in.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return err
	}
	shape := r.Header.Descr.Shape
	data, err := readFloat64(r.Header.Descr.Type, r.Read)
	if err != nil {
		return err
	}
	return in.assignArray(shape, data)
}

// assignArray treats (N,3+) arrays as point clouds and other 2-D arrays as
// depth maps.
func (in *Input) assignArray(shape []int, data []float64) error {
	if len(shape) != 2 {
		return errors.Errorf("expected a 2-D array, got shape %v", shape)
	}
	if shape[1] == 3 {
		pc, err := pointcloud.FromRows(data, shape[1])
		if err != nil {
			return err
		}
		in.PointCloud = pc
		return nil
	}
	in.Depth = &DepthMap{Width: shape[1], Height: shape[0], Data: data}
	return nil
}

func (in *Input) loadNpz() error {
	r, err := npz.Open(in.Path)
	if err != nil {
		return err
	}
	defer r.Close()

	keys := map[string]string{}
	for _, k := range r.Keys() {
		keys[strings.TrimSuffix(k, ".npy")] = k
	}
	read := func(name string) ([]int, []float64, error) {
		key := keys[name]
		hdr := r.Header(key)
		if hdr == nil {
			return nil, nil, errors.Errorf("no array %q", name)
		}
		data, err := readFloat64(hdr.Descr.Type, func(ptr interface{}) error {
			return r.Read(key, ptr)
		})
		return hdr.Descr.Shape, data, errors.Wrapf(err, "read %q", name)
	}

	if _, ok := keys["depth"]; ok {
		shape, data, err := read("depth")
		if err != nil {
			return err
		}
		if len(shape) != 2 {
			return errors.Errorf("depth must be 2-D, got shape %v", shape)
		}
		in.Depth = &DepthMap{Width: shape[1], Height: shape[0], Data: data}

		if _, ok := keys["K"]; ok && in.K == nil {
			_, k, err := read("K")
			if err != nil {
				return err
			}
			if in.K, err = IntrinsicsFromMatrix(k); err != nil {
				return err
			}
		}
		for _, name := range []string{"segmap", "seg"} {
			if _, ok := keys[name]; !ok {
				continue
			}
			shape, data, err := read(name)
			if err != nil {
				return err
			}
			in.Segmap = segmapFromFloats(shape, data)
		}
		return nil
	}

	if _, ok := keys["xyz"]; ok {
		_, data, err := read("xyz")
		if err != nil {
			return err
		}
		in.PointCloud, err = pointcloud.FromRows(data, 3)
		return err
	}
	return errors.New("npz file has neither a 'depth' nor an 'xyz' array")
}

func segmapFromFloats(shape []int, data []float64) *Segmap {
	s := &Segmap{Height: shape[0], Width: shape[len(shape)-1], Data: make([]int, len(data))}
	for i, v := range data {
		s.Data[i] = int(v)
	}
	return s
}

// loadPng reads a 16-bit depth image in millimetres. A label image next to
// it (same path with "depth" replaced by "label") is used as segmap.
func (in *Input) loadPng() error {
	img, err := imaging.Open(in.Path)
	if err != nil {
		return err
	}
	b := img.Bounds()
	depth := &DepthMap{Width: b.Dx(), Height: b.Dy(), Data: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < depth.Height; y++ {
		for x := 0; x < depth.Width; x++ {
			v := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y
			depth.Data[y*depth.Width+x] = float64(v) / 1000
		}
	}
	in.Depth = depth

	labelPath := strings.Replace(in.Path, "depth", "label", -1)
	if labelPath == in.Path {
		return nil
	}
	if _, err := os.Stat(labelPath); err != nil {
		return nil
	}
	log.Debug("[Input] Using segmentation ", labelPath)
	label, err := imaging.Open(labelPath)
	if err != nil {
		return errors.Wrap(err, "open label image")
	}
	in.Segmap = segmapFromImage(label)
	return nil
}

func segmapFromImage(img image.Image) *Segmap {
	b := img.Bounds()
	s := &Segmap{Width: b.Dx(), Height: b.Dy(), Data: make([]int, b.Dx()*b.Dy())}
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			var id int
			switch c := img.At(b.Min.X+x, b.Min.Y+y).(type) {
			case color.Gray:
				id = int(c.Y)
			case color.Gray16:
				id = int(c.Y)
			default:
				id = int(color.GrayModel.Convert(c).(color.Gray).Y)
			}
			s.Data[y*s.Width+x] = id
		}
	}
	return s
}

// readFloat64 reads an array of the given numpy dtype and converts it to
// float64.
func readFloat64(dtype string, read func(ptr interface{}) error) ([]float64, error) {
	switch strings.TrimLeft(dtype, "<>|=") {
	case "f8":
		var v []float64
		err := read(&v)
		return v, err
	case "f4":
		var v []float32
		if err := read(&v); err != nil {
			return nil, err
		}
		return convert(v), nil
	case "i8":
		var v []int64
		if err := read(&v); err != nil {
			return nil, err
		}
		return convert(v), nil
	case "i4":
		var v []int32
		if err := read(&v); err != nil {
			return nil, err
		}
		return convert(v), nil
	case "i2":
		var v []int16
		if err := read(&v); err != nil {
			return nil, err
		}
		return convert(v), nil
	case "u1":
		var v []uint8
		if err := read(&v); err != nil {
			return nil, err
		}
		return convert(v), nil
	case "u2":
		var v []uint16
		if err := read(&v); err != nil {
			return nil, err
		}
		return convert(v), nil
	case "u4":
		var v []uint32
		if err := read(&v); err != nil {
			return nil, err
		}
		return convert(v), nil
	default:
		return nil, errors.Errorf("unsupported dtype %q", dtype)
	}
}

type number interface {
	~float32 | ~float64 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32
}

func convert[T number](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
