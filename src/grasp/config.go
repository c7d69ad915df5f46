package grasp

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const configFile = "config.yaml"

type DataConfig struct {
	RawNumPoints int     `mapstructure:"raw_num_points"`
	NumPoint     int     `mapstructure:"num_point"`
	GripperWidth float64 `mapstructure:"gripper_width"`
}

type TestConfig struct {
	FirstThres        float64 `mapstructure:"first_thres"`
	SecondThres       float64 `mapstructure:"second_thres"`
	MaxFarthestPoints int     `mapstructure:"max_farthest_points"`
	NumSamples        int     `mapstructure:"num_samples"`
	WithReplacement   bool    `mapstructure:"with_replacement"`
	FilterThres       float64 `mapstructure:"filter_thres"`
	ExtraOpening      float64 `mapstructure:"extra_opening"`
	CenterToTip       float64 `mapstructure:"center_to_tip"`
}

type OptimizerConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// Config is the checkpoint's config.yaml. Raw keeps every key of the file,
// the typed sections only the ones inference reads.
type Config struct {
	Raw       map[string]interface{} `mapstructure:"-"`
	Data      DataConfig             `mapstructure:"DATA"`
	Test      TestConfig             `mapstructure:"TEST"`
	Optimizer OptimizerConfig        `mapstructure:"OPTIMIZER"`
}

func DefaultConfig() *Config {
	return &Config{
		Raw: map[string]interface{}{},
		Data: DataConfig{
			RawNumPoints: 20000,
			NumPoint:     2048,
			GripperWidth: 0.08,
		},
		Test: TestConfig{
			FirstThres:        0.23,
			SecondThres:       0.19,
			MaxFarthestPoints: 150,
			NumSamples:        200,
			FilterThres:       0.0001,
			ExtraOpening:      0.005,
		},
		Optimizer: OptimizerConfig{BatchSize: 1},
	}
}

// LoadConfig reads config.yaml from the checkpoint directory, applies the
// "KEY.path:value" overrides and sets the batch size to the number of
// forward passes.
func LoadConfig(checkpointDir string, batchSize int, argConfigs []string) (*Config, error) {
	path := filepath.Join(checkpointDir, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug("[Config] Couldn't read config: ", err.Error())
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return ParseConfig(data, batchSize, argConfigs)
}

func ParseConfig(data []byte, batchSize int, argConfigs []string) (*Config, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	for _, arg := range argConfigs {
		if err := applyOverride(raw, arg); err != nil {
			return nil, err
		}
	}
	if batchSize > 0 {
		optimizer, _ := raw["OPTIMIZER"].(map[string]interface{})
		if optimizer == nil {
			optimizer = map[string]interface{}{}
			raw["OPTIMIZER"] = optimizer
		}
		optimizer["batch_size"] = batchSize
	}

	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "config decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.Raw = raw
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Data.NumPoint <= 0 {
		return errors.Errorf("DATA.num_point must be positive, got %d", c.Data.NumPoint)
	}
	if c.Data.RawNumPoints <= 0 {
		return errors.Errorf("DATA.raw_num_points must be positive, got %d", c.Data.RawNumPoints)
	}
	if c.Optimizer.BatchSize <= 0 {
		return errors.Errorf("OPTIMIZER.batch_size must be positive, got %d", c.Optimizer.BatchSize)
	}
	return nil
}

func (c *Config) String() string {
	out, err := yaml.Marshal(c.Raw)
	if err != nil {
		return err.Error()
	}
	return string(out)
}

// applyOverride assigns "A.b.0.c:value" into the raw config. Numeric path
// segments index lists. The value is parsed as YAML so numbers and lists keep
// their type.
func applyOverride(raw map[string]interface{}, arg string) error {
	idx := strings.Index(arg, ":")
	if idx <= 0 {
		return errors.Errorf("invalid config override %q, expected KEY.path:value", arg)
	}
	keyPath, valueStr := arg[:idx], arg[idx+1:]

	var value interface{}
	if err := yaml.Unmarshal([]byte(valueStr), &value); err != nil || value == nil {
		value = valueStr
	}

	keys := strings.Split(keyPath, ".")
	var cur interface{} = raw
	for i, key := range keys {
		last := i == len(keys)-1
		switch node := cur.(type) {
		case map[string]interface{}:
			if last {
				node[key] = value
				return nil
			}
			next, ok := node[key]
			if !ok || next == nil {
				next = map[string]interface{}{}
				node[key] = next
			}
			cur = next
		case []interface{}:
			n, err := strconv.Atoi(key)
			if err != nil || n < 0 || n >= len(node) {
				return errors.Errorf("invalid list index %q in config override %q", key, arg)
			}
			if last {
				node[n] = value
				return nil
			}
			cur = node[n]
		default:
			return errors.Errorf("config override %q walks into a scalar at %q", arg, key)
		}
	}
	return nil
}
