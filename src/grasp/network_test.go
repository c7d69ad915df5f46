package grasp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeOutputsFlattensBatch(t *testing.T) {
	pose := [][]float32{{1, 0, 0, 0.1}, {0, 1, 0, 0.2}, {0, 0, 1, 0.3}, {0, 0, 0, 1}}
	res, err := decodeOutputs(
		[][][][]float32{{pose, pose}},
		[][]float32{{0.5, 0.7}},
		[][][]float32{{{1, 2, 3}, {4, 5, 6}}},
		[][]float32{{0.01, 0.02}},
	)
	ok(t, err)
	equals(t, 2, res.Len())
	equals(t, [4][4]float32{{1, 0, 0, 0.1}, {0, 1, 0, 0.2}, {0, 0, 1, 0.3}, {0, 0, 0, 1}}, res.Poses[1])
	equals(t, []float32{0.5, 0.7}, res.Scores)
	equals(t, [][3]float32{{1, 2, 3}, {4, 5, 6}}, res.Contacts)
	equals(t, []float32{0.01, 0.02}, res.Openings)
}

func TestDecodeOutputsRejectsMisalignedTensors(t *testing.T) {
	_, err := decodeOutputs(
		[][][][]float32{},
		[][]float32{{0.5}},
		[][][]float32{},
		[][]float32{{0.01}},
	)
	if err == nil {
		t.Fatal("expected an error for misaligned outputs")
	}

	if _, err := decodeOutputs([]string{"x"}, nil, nil, nil); err == nil {
		t.Fatal("expected an error for a non numeric tensor")
	}
}

func TestLoadModelInfoDefaults(t *testing.T) {
	info, err := LoadModelInfo(t.TempDir())
	ok(t, err)
	equals(t, DefaultTensorNames(), info.Tensors)
}

func TestLoadModelInfoMergesTensorNames(t *testing.T) {
	dir := t.TempDir()
	ok(t, os.WriteFile(filepath.Join(dir, "model_info.json"),
		[]byte(`{"build": 3, "based_on": "scene_test_2048_bs3_hor_sigma_001", "tensors": {"pred_scores": "scores"}}`), 0644))

	info, err := LoadModelInfo(dir)
	ok(t, err)
	equals(t, int32(3), info.Build)
	equals(t, "scene_test_2048_bs3_hor_sigma_001", info.BasedOn)
	equals(t, "scores", info.Tensors.Scores)
	equals(t, "pointclouds_pl", info.Tensors.PointClouds)
	equals(t, "offset_pred", info.Tensors.Offsets)
}

func TestLoadModelInfoInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	ok(t, os.WriteFile(filepath.Join(dir, "model_info.json"), []byte(`{`), 0644))
	if _, err := LoadModelInfo(dir); err == nil {
		t.Fatal("expected an error for invalid json")
	}
}
