// Package torchnet compiles network architectures into trainable models using libtorch.
package torchnet

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	torch "github.com/wangkuiyi/gotorch"
	F "github.com/wangkuiyi/gotorch/nn/functional"
	"github.com/wangkuiyi/gotorch/nn/initializer"
	"github.com/wangkuiyi/gotorch/vision/transforms"
	"github.com/wencoast/DeepLearning/nnet"
)

// Engine compiles architectures with the torch backend. It implements the nnet.Engine interface.
type Engine struct{}

// Compile the architecture into a network on the device selected by the config. If the
// architecture has a frozen backbone its pretrained weights are loaded from the weights directory.
func (Engine) Compile(arch nnet.Architecture, conf nnet.Config) (nnet.Model, error) {
	return New(arch, conf)
}

// Network is a compiled model with its optimizer. It implements the nnet.Model interface.
type Network struct {
	Arch       nnet.Architecture
	device     torch.Device
	deviceName string
	root       sequence
	units      []*unit
	opt        *optimizer
	norm       *transforms.NormalizeTransformer
}

// Create a new network from the architecture
func New(arch nnet.Architecture, conf nnet.Config) (n *Network, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("compile %s: %v", arch.Name, r)
		}
	}()
	if conf.RandSeed != 0 {
		initializer.ManualSeed(conf.RandSeed)
	}
	n = &Network{Arch: arch}
	n.device, n.deviceName = SelectDevice(conf.UseGPU)
	b := &builder{device: n.device}
	nodes, shape, err := b.compile(arch.Layers, arch.InputShape, scope{})
	if err != nil {
		return nil, errors.Wrap(err, "compile "+arch.Name)
	}
	if len(shape) != 1 || shape[0] != arch.Outputs {
		return nil, errors.Errorf("compile %s: output shape %v, expecting [%d]", arch.Name, shape, arch.Outputs)
	}
	n.root, n.units = nodes, b.units
	for _, u := range n.units {
		u.to(n.device)
	}
	if bb, ok := arch.Backbone(); ok && bb.Frozen {
		if err = n.loadBackbone(bb.Name, BackboneFile(conf.WeightsDir, bb.Name)); err != nil {
			return nil, err
		}
	}
	if n.opt, err = newOptimizer(conf, n.units); err != nil {
		return nil, err
	}
	if conf.DebugLevel >= 1 {
		log.Println(n)
	}
	return n, nil
}

// Standardise each input channel as (x - mean) / std before the first layer. The values are
// applied to the raw pixel values in the batch.
func (n *Network) SetNormalization(mean, std []float32) {
	n.norm = transforms.Normalize(mean, std)
}

// Train on one batch of data and update the weights. Returns the loss summed over the batch.
func (n *Network) TrainBatch(b *nnet.Batch) (loss float64, correct int, err error) {
	defer torch.GC()
	n.train(true)
	x, y := n.tensors(b)
	n.opt.ZeroGrad()
	pred := n.root.forward(x, true)
	l := F.NllLoss(pred, y, torch.Tensor{}, -100, "mean")
	l.Backward()
	n.opt.Step()
	return n.metrics(l, pred, y, b.Size)
}

// Evaluate one batch of data without updating the weights.
func (n *Network) TestBatch(b *nnet.Batch) (loss float64, correct int, err error) {
	defer torch.GC()
	n.train(false)
	x, y := n.tensors(b)
	pred := n.root.forward(x, false)
	l := F.NllLoss(pred, y, torch.Tensor{}, -100, "mean")
	return n.metrics(l, pred, y, b.Size)
}

func (n *Network) metrics(l, pred, y torch.Tensor, size int) (loss float64, correct int, err error) {
	loss = float64(l.Item().(float32)) * float64(size)
	hits := pred.Argmax(1).Eq(y).Sum(map[string]interface{}{"dim": 0, "keepDim": false})
	correct = int(hits.Item().(int64))
	return loss, correct, nil
}

// frozen modules are always in inference mode
func (n *Network) train(on bool) {
	for _, u := range n.units {
		u.module.Train(on && !u.frozen)
	}
}

// convert batch to input and label tensors on the device
func (n *Network) tensors(b *nnet.Batch) (x, y torch.Tensor) {
	shape := make([]int64, len(b.Shape))
	for i, d := range b.Shape {
		shape[i] = int64(d)
	}
	shape[0] = int64(b.Size)
	labels := make([]int64, b.Size)
	for i, l := range b.Labels {
		labels[i] = int64(l)
	}
	x = torch.NewTensor(b.Input).View(shape...)
	if n.norm != nil {
		x = n.norm.Run(x)
	}
	y = torch.NewTensor(labels)
	return x.To(n.device, x.Dtype()), y.To(n.device, y.Dtype())
}

// Save the weights to file in gob format.
func (n *Network) SaveWeights(file string) error {
	return saveState(file, n.state(""))
}

// Load weights previously saved with SaveWeights.
func (n *Network) LoadWeights(file string) error {
	states, err := loadState(file)
	if err != nil {
		return err
	}
	return n.setState(states, "")
}

// Release any cached tensors
func (n *Network) Release() {
	if n.opt != nil {
		n.opt.Close()
		n.opt = nil
	}
	torch.GC()
}

// weights for each unit, keyed by unit and parameter name, restricted to those with the prefix
func (n *Network) state(prefix string) map[string]torch.Tensor {
	cpu := torch.NewDevice("cpu")
	states := make(map[string]torch.Tensor)
	for _, u := range n.units {
		if !strings.HasPrefix(u.name, prefix) {
			continue
		}
		for key, t := range u.module.StateDict() {
			states[strings.TrimPrefix(u.name, prefix)+"."+key] = t.To(cpu, t.Dtype())
		}
	}
	return states
}

func (n *Network) setState(states map[string]torch.Tensor, prefix string) error {
	for _, u := range n.units {
		if !strings.HasPrefix(u.name, prefix) {
			continue
		}
		for key, t := range u.module.StateDict() {
			name := strings.TrimPrefix(u.name, prefix) + "." + key
			src, ok := states[name]
			if !ok {
				return errors.Errorf("load weights: %s not found", name)
			}
			if !sameShape(src.Shape(), t.Shape()) {
				return errors.Errorf("load weights: %s shape %v, expecting %v", name, src.Shape(), t.Shape())
			}
			t.SetData(src.To(n.device, t.Dtype()))
		}
	}
	return nil
}

func (n *Network) String() string {
	var s []string
	s = append(s, fmt.Sprintf("== %s on %s ==", n.Arch.Name, n.deviceName))
	s = append(s, nnet.Describe(n.Arch.Layers, n.Arch.InputShape))
	trainable, frozen := 0, 0
	for _, u := range n.units {
		for _, p := range u.module.Parameters() {
			if u.frozen {
				frozen += int(prod64(p.Shape()))
			} else {
				trainable += int(prod64(p.Shape()))
			}
		}
	}
	s = append(s, fmt.Sprintf("trainable params: %d  frozen params: %d", trainable, frozen))
	return strings.Join(s, "\n")
}

func saveState(file string, states map[string]torch.Tensor) error {
	f, err := os.Create(file + ".tmp")
	if err != nil {
		return errors.WithStack(err)
	}
	w := bufio.NewWriter(f)
	if err = gob.NewEncoder(w).Encode(states); err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "save weights")
	}
	return errors.WithStack(os.Rename(file+".tmp", file))
}

func loadState(file string) (map[string]torch.Tensor, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	states := make(map[string]torch.Tensor)
	if err = gob.NewDecoder(bufio.NewReader(f)).Decode(&states); err != nil {
		return nil, errors.Wrapf(err, "decode %s", file)
	}
	return states, nil
}

func sameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
