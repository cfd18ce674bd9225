package nnet

import (
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Name of the scratch model which is always built fresh and never saved.
const TestModel = "test"

// Number of output classes for each supported data set.
var DataSets = map[string]int{
	"cifar10":  10,
	"cifar100": 100,
}

// Run configuration settings
type Config struct {
	Model        string
	Arch         string
	Pretrained   bool
	DataSet      string
	SaveInterval int
	TrainBatch   int
	MaxEpoch     int
	Optimizer    string
	Eta          float64
	Decay        float64
	Momentum     float64
	Rescale      float64
	Center       bool
	StdNorm      bool
	HorizFlip    bool
	Shift        int
	RandSeed     int64
	UseGPU       bool
	LogEvery     int
	DebugLevel   int
	ModelsDir    string
	DataDir      string
	WeightsDir   string
	InputShape   []int
	Outputs      int
}

// Default settings, matching the command line defaults.
func DefaultConfig() Config {
	return Config{
		Model:        TestModel,
		Arch:         "vgg16",
		DataSet:      "cifar100",
		SaveInterval: 1,
		TrainBatch:   64,
		MaxEpoch:     1,
		Optimizer:    "adam",
		Eta:          0.0001,
		Decay:        1e-6,
		Momentum:     0.9,
		LogEvery:     1,
		ModelsDir:    "models",
		DataDir:      "data",
		WeightsDir:   "weights",
	}
}

// Validate the settings and fill in the input shape and number of outputs for the data set.
func (c Config) Validate() (Config, error) {
	nout, ok := DataSets[c.DataSet]
	if !ok {
		return c, errors.Errorf("unknown dataset %q: expecting cifar10 or cifar100", c.DataSet)
	}
	if c.Model == "" || strings.ContainsAny(c.Model, `/\`) {
		return c, errors.Errorf("invalid model name %q", c.Model)
	}
	if c.TrainBatch <= 0 {
		return c, errors.Errorf("batch size must be positive, got %d", c.TrainBatch)
	}
	if c.MaxEpoch < 0 {
		return c, errors.Errorf("epoch count must not be negative, got %d", c.MaxEpoch)
	}
	if c.SaveInterval <= 0 {
		return c, errors.Errorf("save interval must be positive, got %d", c.SaveInterval)
	}
	if _, ok := Optimizers[c.Optimizer]; !ok {
		return c, errors.Errorf("unknown optimizer %q: expecting one of %s", c.Optimizer, strings.Join(OptimizerNames(), ", "))
	}
	if c.Eta <= 0 {
		return c, errors.Errorf("learning rate must be positive, got %g", c.Eta)
	}
	if c.Shift < 0 {
		return c, errors.Errorf("shift must not be negative, got %d", c.Shift)
	}
	c.Outputs = nout
	c.InputShape = []int{32, 32, 3}
	return c, nil
}

// Directory holding the architecture and checkpoints for this model.
func (c Config) ModelPath() string {
	return path.Join(c.ModelsDir, c.Model)
}

// True if the run should save its architecture and weights.
func (c Config) Persist() bool {
	return c.Model != TestModel
}

func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField())
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) String() string {
	str := []string{"== Config =="}
	for _, key := range c.Fields() {
		str = append(str, fmt.Sprintf("%-14s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}
