// Package visualize renders point clouds and grasp poses to PNG files.
package visualize

import (
	"image/color"
	"os"
	"path/filepath"
	"strings"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/Yating05/contact-graspnet/src/pointcloud"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Gripper geometry in the gripper frame, metres. The approach axis is z.
const (
	gripperBaseDepth   = 0.066
	gripperFingerDepth = 0.1034
	cameraAxisLength   = 0.1
)

var (
	cloudColor = color.Gray{Y: 160}
	bestColor  = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	axisColors = [3]color.Color{
		color.RGBA{R: 220, A: 255},
		color.RGBA{G: 180, A: 255},
		color.RGBA{B: 220, A: 255},
	}
)

type Options struct {
	Dir        string
	PlotCamera bool
	// MaxPoints caps the number of cloud points drawn, 0 draws all of them.
	MaxPoints int
	Width     vg.Length
	Height    vg.Length
}

type Renderer struct {
	opts Options
}

func NewRenderer(opts Options) *Renderer {
	if opts.Width == 0 {
		opts.Width = 12 * vg.Inch
	}
	if opts.Height == 0 {
		opts.Height = 6 * vg.Inch
	}
	return &Renderer{opts: opts}
}

// projection picks the two coordinates shown in a panel.
type projection struct {
	title, xLabel, yLabel string
	coords                func(v [3]float64) (float64, float64)
}

var projections = []projection{
	{"top (xy)", "x [m]", "y [m]", func(v [3]float64) (float64, float64) { return v[0], v[1] }},
	{"side (xz)", "x [m]", "z [m]", func(v [3]float64) (float64, float64) { return v[0], v[2] }},
}

// Render draws the cloud, every candidate grasp coloured by score and the
// best grasp (if any) into <Dir>/<name>.png and returns the file path.
func (r *Renderer) Render(name string, pc pointcloud.PointCloud, candidates []datastructures.Grasp, best *datastructures.Grasp) (string, error) {
	if err := os.MkdirAll(r.opts.Dir, 0755); err != nil {
		return "", errors.Wrap(err, "create visualization dir")
	}

	row := make([]*plot.Plot, len(projections))
	for i, proj := range projections {
		p, err := r.panel(proj, pc, candidates, best)
		if err != nil {
			return "", errors.Wrapf(err, "draw %s", proj.title)
		}
		row[i] = p
	}

	img := vgimg.New(r.opts.Width, r.opts.Height)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: len(row), PadX: vg.Millimeter, PadY: vg.Millimeter}
	canvases := plot.Align([][]*plot.Plot{row}, tiles, dc)
	for i, p := range row {
		p.Draw(canvases[0][i])
	}

	path := filepath.Join(r.opts.Dir, fileName(name))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	log.Debug("[Visualize] Wrote ", path)
	return path, nil
}

func fileName(name string) string {
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_", " ", "_").Replace(name) + ".png"
}

func (r *Renderer) panel(proj projection, pc pointcloud.PointCloud, candidates []datastructures.Grasp, best *datastructures.Grasp) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = proj.title
	p.X.Label.Text = proj.xLabel
	p.Y.Label.Text = proj.yLabel

	if pts := r.cloudXYs(proj, pc); len(pts) > 0 {
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = cloudColor
		s.GlyphStyle.Radius = vg.Points(0.6)
		p.Add(s)
	}

	if r.opts.PlotCamera {
		for axis := 0; axis < 3; axis++ {
			var tip [3]float64
			tip[axis] = cameraAxisLength
			if err := addPolyline(p, proj, [][3]float64{{0, 0, 0}, tip}, axisColors[axis], 1.5); err != nil {
				return nil, err
			}
		}
	}

	if len(candidates) > 0 {
		cmap := moreland.SmoothBlueRed()
		lo, hi := scoreRange(candidates)
		cmap.SetMin(lo)
		cmap.SetMax(hi)
		for _, g := range candidates {
			c, err := cmap.At(float64(g.Score))
			if err != nil {
				c = cmap.Palette(1).Colors()[0]
			}
			for _, line := range GripperLines(g) {
				if err := addPolyline(p, proj, line, c, 0.8); err != nil {
					return nil, err
				}
			}
		}
	}

	if best != nil {
		for _, line := range GripperLines(*best) {
			if err := addPolyline(p, proj, line, bestColor, 2.5); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (r *Renderer) cloudXYs(proj projection, pc pointcloud.PointCloud) plotter.XYs {
	stride := 1
	if r.opts.MaxPoints > 0 && len(pc) > r.opts.MaxPoints {
		stride = (len(pc) + r.opts.MaxPoints - 1) / r.opts.MaxPoints
	}
	pts := make(plotter.XYs, 0, len(pc)/stride+1)
	for i := 0; i < len(pc); i += stride {
		x, y := proj.coords([3]float64{pc[i].X, pc[i].Y, pc[i].Z})
		pts = append(pts, plotter.XY{X: x, Y: y})
	}
	return pts
}

func scoreRange(grasps []datastructures.Grasp) (float64, float64) {
	lo, hi := float64(grasps[0].Score), float64(grasps[0].Score)
	for _, g := range grasps[1:] {
		s := float64(g.Score)
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	if hi <= lo {
		hi = lo + 1e-6
	}
	return lo, hi
}

func addPolyline(p *plot.Plot, proj projection, pts [][3]float64, c color.Color, width float64) error {
	xys := make(plotter.XYs, len(pts))
	for i, v := range pts {
		xys[i].X, xys[i].Y = proj.coords(v)
	}
	l, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	l.Color = c
	l.Width = vg.Points(width)
	p.Add(l)
	return nil
}

// GripperLines returns the gripper outline (stem and both fingers) opened to
// the grasp width and transformed by the grasp pose.
func GripperLines(g datastructures.Grasp) [][][3]float64 {
	half := g.Opening / 2
	local := [][][3]float64{
		{{0, 0, 0}, {0, 0, gripperBaseDepth}},
		{{-half, 0, gripperFingerDepth}, {-half, 0, gripperBaseDepth}, {half, 0, gripperBaseDepth}, {half, 0, gripperFingerDepth}},
	}
	pose := mat.NewDense(4, 4, g.Pose.Flat())
	res := make([][][3]float64, len(local))
	for i, line := range local {
		res[i] = make([][3]float64, len(line))
		for j, pt := range line {
			var out mat.VecDense
			out.MulVec(pose, mat.NewVecDense(4, []float64{pt[0], pt[1], pt[2], 1}))
			res[i][j] = [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
		}
	}
	return res
}
