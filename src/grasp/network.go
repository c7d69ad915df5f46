package grasp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const modelInfoFile = "model_info.json"

// Network runs a batch of point clouds through the grasp generator.
type Network interface {
	Run(ctx context.Context, batch [][][3]float32) (*RawPrediction, error)
	Close() error
}

// RawPrediction is the flattened network output. Entry i of every slice
// belongs to the same predicted contact.
type RawPrediction struct {
	Poses    [][4][4]float32
	Scores   []float32
	Contacts [][3]float32
	Openings []float32
}

func (r *RawPrediction) Len() int {
	return len(r.Scores)
}

func (r *RawPrediction) validate() error {
	n := len(r.Scores)
	if len(r.Poses) != n || len(r.Contacts) != n || len(r.Openings) != n {
		return errors.Errorf("misaligned network output: %d poses, %d scores, %d contacts, %d openings",
			len(r.Poses), n, len(r.Contacts), len(r.Openings))
	}
	return nil
}

func DefaultTensorNames() datastructures.TensorNames {
	return datastructures.TensorNames{
		PointClouds: "pointclouds_pl",
		IsTraining:  "is_training_pl",
		GraspsCam:   "pred_grasps_cam",
		Scores:      "pred_scores",
		Points:      "pred_points",
		Offsets:     "offset_pred",
	}
}

// LoadModelInfo reads model_info.json from the checkpoint directory. The file
// is optional, tensor names that are not listed keep their defaults.
func LoadModelInfo(checkpointDir string) (datastructures.ModelInfo, error) {
	info := datastructures.ModelInfo{Tensors: DefaultTensorNames()}
	data, err := os.ReadFile(filepath.Join(checkpointDir, modelInfoFile))
	if os.IsNotExist(err) {
		log.Debug("[Model] No model info found, using default tensor names")
		return info, nil
	}
	if err != nil {
		return info, errors.Wrap(err, "read model info")
	}

	var parsed datastructures.ModelInfo
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Debug("[Model] Couldn't parse model info: ", err.Error())
		return info, errors.Wrap(err, "parse model info")
	}
	defaults := info.Tensors
	info = parsed
	fillTensorName(&info.Tensors.PointClouds, defaults.PointClouds)
	fillTensorName(&info.Tensors.IsTraining, defaults.IsTraining)
	fillTensorName(&info.Tensors.GraspsCam, defaults.GraspsCam)
	fillTensorName(&info.Tensors.Scores, defaults.Scores)
	fillTensorName(&info.Tensors.Points, defaults.Points)
	fillTensorName(&info.Tensors.Offsets, defaults.Offsets)
	return info, nil
}

func fillTensorName(name *string, def string) {
	if *name == "" {
		*name = def
	}
}
