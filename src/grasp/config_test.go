package grasp

import (
	"os"
	"path/filepath"
	"testing"
)

const testConfig = `
DATA:
  raw_num_points: 20000
  num_point: 2048
  labels: [a, b]
TEST:
  first_thres: 0.23
  second_thres: 0.19
  with_replacement: false
MODEL:
  model: contact_graspnet
OPTIMIZER:
  batch_size: 3
`

func TestParseConfigAppliesOverrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig), 2, []string{
		"DATA.num_point:1024",
		"TEST.first_thres:0.3",
		"TEST.with_replacement:True",
		"DATA.labels.1:c",
		"MODEL.new_key.nested:hello",
	})
	ok(t, err)

	equals(t, 1024, cfg.Data.NumPoint)
	equals(t, 20000, cfg.Data.RawNumPoints)
	equals(t, 0.3, cfg.Test.FirstThres)
	equals(t, 0.19, cfg.Test.SecondThres)
	equals(t, true, cfg.Test.WithReplacement)
	equals(t, 2, cfg.Optimizer.BatchSize)
	equals(t, 150, cfg.Test.MaxFarthestPoints)

	data := cfg.Raw["DATA"].(map[string]interface{})
	equals(t, []interface{}{"a", "c"}, data["labels"])
	model := cfg.Raw["MODEL"].(map[string]interface{})
	equals(t, "contact_graspnet", model["model"])
	equals(t, map[string]interface{}{"nested": "hello"}, model["new_key"])
}

func TestParseConfigWithoutBatchSizeKeepsFile(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig), 0, nil)
	ok(t, err)
	equals(t, 3, cfg.Optimizer.BatchSize)
}

func TestParseConfigRejectsBadOverrides(t *testing.T) {
	for _, arg := range []string{"no_separator", ":1", "DATA.labels.7:x", "DATA.num_point.deeper:1"} {
		if _, err := ParseConfig([]byte(testConfig), 1, []string{arg}); err == nil {
			t.Errorf("expected an error for override %q", arg)
		}
	}
}

func TestParseConfigRejectsInvalidValues(t *testing.T) {
	if _, err := ParseConfig([]byte(testConfig), 1, []string{"DATA.num_point:0"}); err == nil {
		t.Fatal("expected an error for num_point 0")
	}
}

func TestLoadConfigFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	ok(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testConfig), 0644))

	cfg, err := LoadConfig(dir, 1, nil)
	ok(t, err)
	equals(t, 2048, cfg.Data.NumPoint)

	if _, err := LoadConfig(t.TempDir(), 1, nil); err == nil {
		t.Fatal("expected an error for a checkpoint without config.yaml")
	}
}
