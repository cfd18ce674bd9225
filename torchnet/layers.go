package torchnet

import (
	"fmt"

	"github.com/pkg/errors"
	torch "github.com/wangkuiyi/gotorch"
	"github.com/wangkuiyi/gotorch/nn"
	F "github.com/wangkuiyi/gotorch/nn/functional"
	"github.com/wencoast/DeepLearning/nnet"
)

// node is one compiled layer of the network. Shapes are tracked in height, width, channels
// order to match the layer config.
type node interface {
	forward(x torch.Tensor, train bool) torch.Tensor
}

// paramModule is a torch module holding weights
type paramModule interface {
	Parameters() []torch.Tensor
	StateDict() map[string]torch.Tensor
	Train(on bool)
	IsTraining() bool
}

// unit records a module with weights and how it is trained
type unit struct {
	name     string
	module   paramModule
	l2       float64
	frozen   bool
	backbone string
	to       func(dev torch.Device)
}

// builder compiles layer configs into nodes, collecting the weight units as it goes
type builder struct {
	units  []*unit
	device torch.Device
}

func (b *builder) add(name string, m paramModule, l2 float64, frozen bool, backbone string, to func(torch.Device)) {
	b.units = append(b.units, &unit{name: name, module: m, l2: l2, frozen: frozen, backbone: backbone, to: to})
}

type scope struct {
	prefix   string
	frozen   bool
	backbone string
}

func (s scope) child(name string) scope {
	s.prefix = name + "."
	return s
}

// compile a list of layers starting from the given input shape
func (b *builder) compile(layers []nnet.LayerConfig, shape []int, sc scope) ([]node, []int, error) {
	var nodes []node
	for i, cfg := range layers {
		name := fmt.Sprintf("%s%d", sc.prefix, i)
		layer := cfg.Unmarshal()
		out, err := layer.OutShape(shape)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "layer %s", name)
		}
		var n node
		switch l := layer.(type) {
		case *nnet.Conv:
			m := nn.Conv2d(int64(shape[2]), int64(l.Nfeats), int64(l.Size), int64(l.Stride), convPad(l.Size, l.Pad), 1, 1, l.HasBias(), "zeros")
			b.add(name, m, l.L2, sc.frozen, sc.backbone, func(d torch.Device) { m.To(d) })
			n = convNode{m}
		case *nnet.Linear:
			m := nn.Linear(int64(shape[0]), int64(l.Nout), l.HasBias())
			b.add(name, m, l.L2, sc.frozen, sc.backbone, func(d torch.Device) { m.To(d) })
			n = linearNode{m}
		case *nnet.BatchNorm:
			m := nn.BatchNorm2d(int64(shape[len(shape)-1]), 1e-3, 0.01, true, true)
			b.add(name, m, 0, sc.frozen, sc.backbone, func(d torch.Device) { m.To(d) })
			n = batchNormNode{m: m, flat: len(shape) == 1}
		case *nnet.Pool:
			n = poolNode{Pool: *l, out: out}
		case *nnet.Activation:
			n = activationNode(l.Atype)
		case *nnet.Dropout:
			n = dropoutNode{ratio: l.Ratio, device: b.device}
		case *nnet.Flatten:
			n = flattenNode{}
		case *nnet.Add:
			block, _, err := b.compile(l.Block, shape, sc.child(name+".block"))
			if err != nil {
				return nil, nil, err
			}
			project, _, err := b.compile(l.Project, shape, sc.child(name+".project"))
			if err != nil {
				return nil, nil, err
			}
			n = addNode{block: block, project: project}
		case *nnet.Concat:
			block, blockOut, err := b.compile(l.Block, shape, sc.child(name+".block"))
			if err != nil {
				return nil, nil, err
			}
			nin, nnew := shape[2], blockOut[2]
			n = concatNode{
				block: block,
				left:  selector(nin, nin+nnew, 0).To(b.device, torch.Float),
				right: selector(nnew, nin+nnew, nin).To(b.device, torch.Float),
			}
		case *nnet.Backbone:
			inner := scope{prefix: l.Name + ".", frozen: l.Frozen, backbone: l.Name}
			block, _, err := b.compile(l.Layers, shape, inner)
			if err != nil {
				return nil, nil, err
			}
			n = sequence(block)
		default:
			return nil, nil, errors.Errorf("layer %s: type %s not supported", name, cfg.Type)
		}
		nodes = append(nodes, n)
		shape = out
	}
	return nodes, shape, nil
}

// same padding for odd kernel sizes
func convPad(size int, pad bool) int64 {
	if !pad {
		return 0
	}
	return int64(size / 2)
}

type sequence []node

func (s sequence) forward(x torch.Tensor, train bool) torch.Tensor {
	for _, n := range s {
		x = n.forward(x, train)
	}
	return x
}

type convNode struct{ m *nn.Conv2dModule }

func (n convNode) forward(x torch.Tensor, train bool) torch.Tensor {
	return n.m.Forward(x)
}

type linearNode struct{ m *nn.LinearModule }

func (n linearNode) forward(x torch.Tensor, train bool) torch.Tensor {
	return n.m.Forward(x)
}

// batch norm over channels, or over features for flattened input
type batchNormNode struct {
	m    *nn.BatchNorm2dModule
	flat bool
}

func (n batchNormNode) forward(x torch.Tensor, train bool) torch.Tensor {
	if !n.flat {
		return n.m.Forward(x)
	}
	shape := x.Shape()
	y := n.m.Forward(x.View(shape[0], shape[1], 1, 1))
	return y.View(shape...)
}

type poolNode struct {
	nnet.Pool
	out []int
}

func (n poolNode) forward(x torch.Tensor, train bool) torch.Tensor {
	switch {
	case n.Global:
		y := F.AdaptiveAvgPool2d(x, []int64{1, 1})
		return y.View(y.Shape()[0], -1)
	case n.Average:
		return F.AdaptiveAvgPool2d(x, []int64{int64(n.out[0]), int64(n.out[1])})
	default:
		k, s := int64(n.Size), int64(n.Stride)
		return F.MaxPool2d(x, []int64{k, k}, []int64{s, s}, []int64{convPad(n.Size, n.Pad), convPad(n.Size, n.Pad)}, []int64{1, 1}, false)
	}
}

// softmax output is returned as log probabilities for use with the nll loss
type activationNode string

func (n activationNode) forward(x torch.Tensor, train bool) torch.Tensor {
	if n == "softmax" {
		return x.LogSoftmax(1)
	}
	return torch.Relu(x)
}

// inverted dropout, scales the kept values so no rescaling is needed at test time
type dropoutNode struct {
	ratio  float64
	device torch.Device
}

func (n dropoutNode) forward(x torch.Tensor, train bool) torch.Tensor {
	if !train || n.ratio == 0 {
		return x
	}
	mask := dropoutMask(x.Shape(), n.ratio)
	return torch.Mul(x, mask.To(n.device, x.Dtype()))
}

// Mask with 1/(1-ratio) where a uniform sample exceeds the ratio and 0 elsewhere. The framework has
// no comparison op, so the sample is stacked with the threshold and argmax picks the larger.
func dropoutMask(shape []int64, ratio float64) torch.Tensor {
	threshold := torch.Full(shape, float32(ratio), false)
	keep := torch.Stack([]torch.Tensor{threshold, torch.Rand(shape, false)}, int64(len(shape)))
	mask := keep.Argmax(int64(len(shape))).CastTo(torch.Float)
	return torch.Mul(mask, torch.Full(shape, float32(1/(1-ratio)), false))
}

type flattenNode struct{}

func (flattenNode) forward(x torch.Tensor, train bool) torch.Tensor {
	return torch.Flatten(x, 1, -1)
}

// residual connection, identity if there is no projection
type addNode struct {
	block, project sequence
}

func (n addNode) forward(x torch.Tensor, train bool) torch.Tensor {
	y := n.block.forward(x, train)
	return torch.Add(y, n.project.forward(x, train), 1)
}

// Dense connection appends new feature maps to the input. There is no concatenate op in the
// framework, so each part is projected onto its own channels of the output with a 0/1 matrix
// and the projections are summed.
type concatNode struct {
	block       sequence
	left, right torch.Tensor
}

func (n concatNode) forward(x torch.Tensor, train bool) torch.Tensor {
	y := n.block.forward(x, train)
	shape := x.Shape()
	out := torch.Add(projectChannels(x, n.left), projectChannels(y, n.right), 1)
	out = out.View(shape[0], shape[2], shape[3], -1)
	return out.Permute([]int64{0, 3, 1, 2})
}

// move channels last and multiply by the [in, out] projection matrix
func projectChannels(x, proj torch.Tensor) torch.Tensor {
	t := x.Permute([]int64{0, 2, 3, 1})
	return torch.MM(torch.Flatten(t, 0, 2), proj)
}

// rows x cols matrix with ones on the diagonal starting at column offset
func selector(rows, cols, offset int) torch.Tensor {
	m := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		m[i*cols+offset+i] = 1
	}
	return torch.NewTensor(m).View(int64(rows), int64(cols))
}

func prod64(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
