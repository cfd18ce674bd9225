package nnet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Layer interface type describes one layer of the network. Shapes are in height, width,
// channels order for image data or a single dimension after flattening.
type Layer interface {
	ConfigLayer
	OutShape(inShape []int) ([]int, error)
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters
type ParamLayer interface {
	Layer
	HasBias() bool
	Regularizer() float64
}

// GroupLayer is a layer made up of nested layers
type GroupLayer interface {
	Layer
	Children() [][]LayerConfig
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		return cfg.unmarshal(l.Data)
	case "pool":
		cfg := new(Pool)
		return cfg.unmarshal(l.Data)
	case "linear":
		cfg := new(Linear)
		return cfg.unmarshal(l.Data)
	case "activation":
		cfg := new(Activation)
		return cfg.unmarshal(l.Data)
	case "dropout":
		cfg := new(Dropout)
		return cfg.unmarshal(l.Data)
	case "batchNorm":
		return &BatchNorm{}
	case "flatten":
		return &Flatten{}
	case "add":
		cfg := new(Add)
		return cfg.unmarshal(l.Data)
	case "concat":
		cfg := new(Concat)
		return cfg.unmarshal(l.Data)
	case "backbone":
		cfg := new(Backbone)
		return cfg.unmarshal(l.Data)
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Marshal a list of layers
func Layers(layers ...ConfigLayer) []LayerConfig {
	res := make([]LayerConfig, len(layers))
	for i, l := range layers {
		res[i] = l.Marshal()
	}
	return res
}

// Get the output shape after applying each of the layers in turn.
func OutShape(layers []LayerConfig, inShape []int) ([]int, error) {
	shape := inShape
	for i, l := range layers {
		var err error
		if shape, err = l.Unmarshal().OutShape(shape); err != nil {
			return nil, errors.Wrapf(err, "layer %d %s", i, l.Type)
		}
	}
	return shape, nil
}

// Convolutional layer. If Pad is set the output has the same size as the input divided by the stride.
type Conv struct {
	Nfeats, Size, Stride int
	Pad                  bool
	NoBias               bool
	L2                   float64 `json:",omitempty"`
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

func (c Conv) ToString() string {
	return fmt.Sprintf("conv %+v", c)
}

func (c Conv) HasBias() bool { return !c.NoBias }

func (c Conv) Regularizer() float64 { return c.L2 }

func (c Conv) OutShape(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, errors.Errorf("conv: expect 3 dimensional input, got %v", in)
	}
	h, err := spatialOut(in[0], c.Size, c.Stride, c.Pad)
	if err != nil {
		return nil, err
	}
	w, err := spatialOut(in[1], c.Size, c.Stride, c.Pad)
	if err != nil {
		return nil, err
	}
	return []int{h, w, c.Nfeats}, nil
}

func (c *Conv) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return c
}

// Pooling layer: max pooling by default, average if Average is set, or average over the
// whole image if Global is set.
type Pool struct {
	Size, Stride int
	Pad          bool
	Average      bool
	Global       bool
}

func (c Pool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "pool", Data: marshal(c)}
}

func (c Pool) ToString() string {
	return fmt.Sprintf("pool %+v", c)
}

func (c Pool) OutShape(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, errors.Errorf("pool: expect 3 dimensional input, got %v", in)
	}
	if c.Global {
		return []int{in[2]}, nil
	}
	h, err := spatialOut(in[0], c.Size, c.Stride, c.Pad)
	if err != nil {
		return nil, err
	}
	w, err := spatialOut(in[1], c.Size, c.Stride, c.Pad)
	if err != nil {
		return nil, err
	}
	return []int{h, w, in[2]}, nil
}

func (c *Pool) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return c
}

// Linear fully connected layer.
type Linear struct {
	Nout   int
	NoBias bool
	L2     float64 `json:",omitempty"`
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

func (c Linear) ToString() string {
	return fmt.Sprintf("linear %+v", c)
}

func (c Linear) HasBias() bool { return !c.NoBias }

func (c Linear) Regularizer() float64 { return c.L2 }

func (c Linear) OutShape(in []int) ([]int, error) {
	if len(in) != 1 {
		return nil, errors.Errorf("linear: expect flattened input, got %v", in)
	}
	return []int{c.Nout}, nil
}

func (c *Linear) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return c
}

// Relu or softmax activation layer.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) ToString() string {
	return fmt.Sprintf("activation %+v", c)
}

func (c Activation) OutShape(in []int) ([]int, error) {
	switch c.Atype {
	case "relu":
	case "softmax":
		if len(in) != 1 {
			return nil, errors.Errorf("softmax: expect flattened input, got %v", in)
		}
	default:
		return nil, errors.Errorf("activation type %s invalid", c.Atype)
	}
	return in, nil
}

func (c *Activation) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return c
}

// Dropout layer zeros a fraction Ratio of the inputs while training.
type Dropout struct {
	Ratio float64
}

func (c Dropout) Marshal() LayerConfig {
	return LayerConfig{Type: "dropout", Data: marshal(c)}
}

func (c Dropout) ToString() string {
	return fmt.Sprintf("dropout %+v", c)
}

func (c Dropout) OutShape(in []int) ([]int, error) {
	if c.Ratio < 0 || c.Ratio >= 1 {
		return nil, errors.Errorf("dropout ratio %g out of range", c.Ratio)
	}
	return in, nil
}

func (c *Dropout) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return c
}

// Batch normalisation layer, applies to image or flattened input.
type BatchNorm struct{}

func (c BatchNorm) Marshal() LayerConfig {
	return LayerConfig{Type: "batchNorm"}
}

func (c BatchNorm) ToString() string { return "batchNorm" }

func (c BatchNorm) OutShape(in []int) ([]int, error) { return in, nil }

// Flatten layer reshapes from 3 dimensions to 1.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

func (c Flatten) ToString() string { return "flatten" }

func (c Flatten) OutShape(in []int) ([]int, error) {
	return []int{Prod(in)}, nil
}

// Add layer sums the output of Block with the input, or with the output of Project if it is set.
type Add struct {
	Block   []LayerConfig
	Project []LayerConfig `json:",omitempty"`
}

// Create a new residual layer
func AddLayer(block, project []ConfigLayer) Add {
	a := Add{Block: Layers(block...)}
	if project != nil {
		a.Project = Layers(project...)
	}
	return a
}

func (c Add) Marshal() LayerConfig {
	return LayerConfig{Type: "add", Data: marshal(c)}
}

func (c Add) ToString() string {
	s := fmt.Sprintf("add [%d layers]", len(c.Block))
	if c.Project != nil {
		s += fmt.Sprintf(" project [%d layers]", len(c.Project))
	}
	return s
}

func (c Add) Children() [][]LayerConfig {
	return [][]LayerConfig{c.Block, c.Project}
}

func (c Add) OutShape(in []int) ([]int, error) {
	out, err := OutShape(c.Block, in)
	if err != nil {
		return nil, err
	}
	other, err := OutShape(c.Project, in)
	if err != nil {
		return nil, err
	}
	if !sameShape(out, other) {
		return nil, errors.Errorf("add: shape mismatch %v != %v", out, other)
	}
	return out, nil
}

func (c *Add) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return c
}

// Concat layer appends the feature maps output by Block to its input.
type Concat struct {
	Block []LayerConfig
}

func (c Concat) Marshal() LayerConfig {
	return LayerConfig{Type: "concat", Data: marshal(c)}
}

func (c Concat) ToString() string {
	return fmt.Sprintf("concat [%d layers]", len(c.Block))
}

func (c Concat) Children() [][]LayerConfig {
	return [][]LayerConfig{c.Block}
}

func (c Concat) OutShape(in []int) ([]int, error) {
	out, err := OutShape(c.Block, in)
	if err != nil {
		return nil, err
	}
	if len(in) != 3 || len(out) != 3 || out[0] != in[0] || out[1] != in[1] {
		return nil, errors.Errorf("concat: shape mismatch %v vs %v", in, out)
	}
	return []int{in[0], in[1], in[2] + out[2]}, nil
}

func (c *Concat) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return c
}

// Backbone is a named feature extraction sub-network. If Frozen is set its weights are
// loaded from a pretrained file and not updated during training.
type Backbone struct {
	Name   string
	Frozen bool
	Layers []LayerConfig
}

func (c Backbone) Marshal() LayerConfig {
	return LayerConfig{Type: "backbone", Data: marshal(c)}
}

func (c Backbone) ToString() string {
	return fmt.Sprintf("backbone %s frozen=%v [%d layers]", c.Name, c.Frozen, len(c.Layers))
}

func (c Backbone) Children() [][]LayerConfig {
	return [][]LayerConfig{c.Layers}
}

func (c Backbone) OutShape(in []int) ([]int, error) {
	return OutShape(c.Layers, in)
}

func (c *Backbone) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return c
}

// Describe the layers with their output shapes, nested layers are indented.
func Describe(layers []LayerConfig, inShape []int) string {
	var s []string
	describe(&s, layers, inShape, "")
	return strings.Join(s, "\n")
}

func describe(s *[]string, layers []LayerConfig, shape []int, indent string) {
	for i, l := range layers {
		layer := l.Unmarshal()
		out, err := layer.OutShape(shape)
		if err != nil {
			*s = append(*s, fmt.Sprintf("%s%2d: %-40s %v", indent, i, layer.ToString(), err))
			return
		}
		*s = append(*s, fmt.Sprintf("%s%2d: %-40s %v", indent, i, layer.ToString(), out))
		if g, ok := layer.(GroupLayer); ok {
			for _, child := range g.Children() {
				describe(s, child, shape, indent+"    ")
			}
		}
		shape = out
	}
}

// Product of the given dimensions
func Prod(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

func spatialOut(size, kernel, stride int, pad bool) (int, error) {
	if stride <= 0 {
		return 0, errors.Errorf("invalid stride %d", stride)
	}
	var out int
	if pad {
		out = (size + stride - 1) / stride
	} else {
		out = (size-kernel)/stride + 1
	}
	if out < 1 || (!pad && size < kernel) {
		return 0, errors.Errorf("input size %d too small for kernel %d stride %d", size, kernel, stride)
	}
	return out, nil
}

func sameShape(a, b []int) bool {
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

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
