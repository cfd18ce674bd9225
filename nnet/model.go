package nnet

import (
	"fmt"
	"os"
	"sort"
)

// Optimizers supported by the training backend, with a short description.
var Optimizers = map[string]string{
	"adam": "Adam, beta1=0.9 beta2=0.999",
	"sgd":  "stochastic gradient descent with momentum",
}

// Sorted list of optimizer names
func OptimizerNames() []string {
	names := make([]string, 0, len(Optimizers))
	for name := range Optimizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalizer is implemented by models which standardise their input channels as (x - mean) / std.
type Normalizer interface {
	SetNormalization(mean, std []float32)
}

// Batch of input images in channels, height, width order with their labels.
type Batch struct {
	Size    int
	Shape   []int
	Input   []float32
	Labels  []int32
	OneHot  []float32
	Classes int
}

// Model interface type is a network compiled for training with a loss function, optimizer and
// accuracy metric. TrainBatch updates the weights, TestBatch only evaluates the network.
// Both return the summed loss and the number of correct predictions for the batch.
type Model interface {
	TrainBatch(b *Batch) (loss float64, correct int, err error)
	TestBatch(b *Batch) (loss float64, correct int, err error)
	SaveWeights(file string) error
	LoadWeights(file string) error
	Release()
}

// Engine interface type compiles an architecture into a trainable model.
type Engine interface {
	Compile(arch Architecture, conf Config) (Model, error)
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
