package results

import (
	"context"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio/npz"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// NpzSink writes one array per object to a .npz archive: the 4x4 pose, or a
// single 0 when no grasp was found.
type NpzSink struct {
	Path string
}

func NewNpzSink(path string) *NpzSink {
	return &NpzSink{Path: path}
}

func (s *NpzSink) Store(ctx context.Context, runID string, grasps []datastructures.ObjectGrasp) error {
	// Keys only carry the input stem, 0.npy from two directories would
	// overwrite each other in the archive.
	seen := make(map[string]string, len(grasps))
	for _, g := range grasps {
		key := Key(g)
		if prev, ok := seen[key]; ok {
			return errors.Errorf("duplicate key %s for inputs %s and %s", key, prev, g.Input)
		}
		seen[key] = g.Input
	}

	w, err := npz.Create(s.Path)
	if err != nil {
		return errors.Wrapf(err, "create %s", s.Path)
	}
	for _, g := range grasps {
		if err := ctx.Err(); err != nil {
			w.Close()
			return err
		}
		var val interface{} = []float64{0}
		if g.Found {
			val = mat.NewDense(4, 4, g.Grasp.Pose.Flat())
		}
		if err := w.Write(Key(g), val); err != nil {
			w.Close()
			return errors.Wrapf(err, "write %s", Key(g))
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "close %s", s.Path)
	}
	log.Info("[Results] Stored ", len(grasps), " grasps in ", s.Path)
	return nil
}

func (s *NpzSink) Close() error {
	return nil
}
