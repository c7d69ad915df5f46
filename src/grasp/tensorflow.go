package grasp

import (
	"context"
	"os"
	"path/filepath"
	"reflect"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	tf "github.com/galeone/tensorflow/tensorflow/go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	frozenGraphFile = "graph.pb"
	savedModelFile  = "saved_model.pb"
	savedModelTag   = "serve"
)

type TensorflowNetwork struct {
	graph   *tf.Graph
	session *tf.Session
	names   datastructures.TensorNames
}

func NewTensorflowNetwork() *TensorflowNetwork {
	return &TensorflowNetwork{}
}

// Load restores the model found in the checkpoint directory. A frozen
// graph.pb is imported into a fresh graph, otherwise the directory is opened
// as a SavedModel.
func (n *TensorflowNetwork) Load(checkpointDir string, info datastructures.ModelInfo) error {
	n.names = info.Tensors

	frozen := filepath.Join(checkpointDir, frozenGraphFile)
	if model, err := os.ReadFile(frozen); err == nil {
		n.graph = tf.NewGraph()
		if err := n.graph.Import(model, ""); err != nil {
			log.Debug("[Model] Couldn't construct graph: ", err.Error())
			return errors.Wrap(err, "import graph")
		}
		n.session, err = tf.NewSession(n.graph, nil)
		if err != nil {
			log.Debug("[Model] Couldn't start session: ", err.Error())
			return errors.Wrap(err, "start session")
		}
		return n.checkOperations()
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "read %s", frozen)
	}

	if _, err := os.Stat(filepath.Join(checkpointDir, savedModelFile)); err != nil {
		return errors.Errorf("no %s or %s in checkpoint directory %s", frozenGraphFile, savedModelFile, checkpointDir)
	}
	saved, err := tf.LoadSavedModel(checkpointDir, []string{savedModelTag}, nil)
	if err != nil {
		log.Debug("[Model] Couldn't load saved model: ", err.Error())
		return errors.Wrap(err, "load saved model")
	}
	n.graph = saved.Graph
	n.session = saved.Session
	return n.checkOperations()
}

func (n *TensorflowNetwork) checkOperations() error {
	for _, name := range []string{n.names.PointClouds, n.names.GraspsCam, n.names.Scores, n.names.Points, n.names.Offsets} {
		if n.graph.Operation(name) == nil {
			return errors.Errorf("graph has no operation %q", name)
		}
	}
	return nil
}

func (n *TensorflowNetwork) Run(ctx context.Context, batch [][][3]float32) (*RawPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input, err := tf.NewTensor(batch)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	feeds := map[tf.Output]*tf.Tensor{
		n.graph.Operation(n.names.PointClouds).Output(0): input,
	}
	if op := n.graph.Operation(n.names.IsTraining); op != nil {
		training, err := tf.NewTensor(false)
		if err != nil {
			return nil, errors.Wrap(err, "create training flag tensor")
		}
		feeds[op.Output(0)] = training
	}

	output, err := n.session.Run(
		feeds,
		[]tf.Output{
			n.graph.Operation(n.names.GraspsCam).Output(0),
			n.graph.Operation(n.names.Scores).Output(0),
			n.graph.Operation(n.names.Points).Output(0),
			n.graph.Operation(n.names.Offsets).Output(0),
		},
		nil)
	if err != nil {
		log.Debug("[Model] Couldn't run grasp prediction: ", err.Error())
		return nil, errors.Wrap(err, "run session")
	}
	return decodeOutputs(output[0].Value(), output[1].Value(), output[2].Value(), output[3].Value())
}

func (n *TensorflowNetwork) Close() error {
	if n.session == nil {
		return nil
	}
	return n.session.Close()
}

// decodeOutputs flattens the batch and point axes of the four output tensors.
func decodeOutputs(poses, scores, points, offsets interface{}) (*RawPrediction, error) {
	flatPoses, err := flattenFloat32(poses)
	if err != nil {
		return nil, errors.Wrap(err, "decode poses")
	}
	flatScores, err := flattenFloat32(scores)
	if err != nil {
		return nil, errors.Wrap(err, "decode scores")
	}
	flatPoints, err := flattenFloat32(points)
	if err != nil {
		return nil, errors.Wrap(err, "decode contact points")
	}
	flatOffsets, err := flattenFloat32(offsets)
	if err != nil {
		return nil, errors.Wrap(err, "decode offsets")
	}
	if len(flatPoses)%16 != 0 || len(flatPoints)%3 != 0 {
		return nil, errors.Errorf("unexpected output sizes: %d pose values, %d point values", len(flatPoses), len(flatPoints))
	}

	res := &RawPrediction{
		Poses:    make([][4][4]float32, len(flatPoses)/16),
		Scores:   flatScores,
		Contacts: make([][3]float32, len(flatPoints)/3),
		Openings: flatOffsets,
	}
	for i := range res.Poses {
		for r := 0; r < 4; r++ {
			copy(res.Poses[i][r][:], flatPoses[i*16+r*4:i*16+r*4+4])
		}
	}
	for i := range res.Contacts {
		copy(res.Contacts[i][:], flatPoints[i*3:i*3+3])
	}
	return res, res.validate()
}

func flattenFloat32(value interface{}) ([]float32, error) {
	var res []float32
	var walk func(v reflect.Value) error
	walk = func(v reflect.Value) error {
		switch v.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < v.Len(); i++ {
				if err := walk(v.Index(i)); err != nil {
					return err
				}
			}
		case reflect.Float32, reflect.Float64:
			res = append(res, float32(v.Float()))
		default:
			return errors.Errorf("unsupported tensor element %s", v.Kind())
		}
		return nil
	}
	if err := walk(reflect.ValueOf(value)); err != nil {
		return nil, err
	}
	return res, nil
}
