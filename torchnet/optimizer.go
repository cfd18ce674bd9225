package torchnet

import (
	"sort"

	"github.com/pkg/errors"
	torch "github.com/wangkuiyi/gotorch"
	"github.com/wencoast/DeepLearning/nnet"
)

// optimizer updates the trainable weights. Layers with an L2 regularizer on kernel and bias get
// their own torch optimizer with weight decay, since the penalty l2*sum(w^2) has gradient 2*l2*w.
// Frozen layers are not updated.
type optimizer struct {
	name       string
	eta        float64
	decay      float64
	iterations int
	groups     []torch.Optimizer
}

// split the weights into groups by weight decay
func paramGroups(units []*unit) map[float64][]torch.Tensor {
	groups := make(map[float64][]torch.Tensor)
	for _, u := range units {
		if u.frozen {
			continue
		}
		wd := 2 * u.l2
		groups[wd] = append(groups[wd], u.module.Parameters()...)
	}
	return groups
}

func newOptimizer(c nnet.Config, units []*unit) (*optimizer, error) {
	o := &optimizer{name: c.Optimizer, eta: c.Eta, decay: c.Decay}
	groups := paramGroups(units)
	decays := make([]float64, 0, len(groups))
	for wd := range groups {
		decays = append(decays, wd)
	}
	sort.Float64s(decays)
	for _, wd := range decays {
		var opt torch.Optimizer
		switch c.Optimizer {
		case "adam":
			opt = torch.Adam(c.Eta, 0.9, 0.999, wd)
		case "sgd":
			opt = torch.SGD(c.Eta, c.Momentum, 0, wd, false)
		default:
			return nil, errors.Errorf("optimizer %q not supported", c.Optimizer)
		}
		opt.AddParameters(groups[wd])
		o.groups = append(o.groups, opt)
	}
	return o, nil
}

// learning rate with time based decay
func (o *optimizer) learningRate() float64 {
	return decayedRate(o.eta, o.decay, o.iterations)
}

func decayedRate(eta, decay float64, iterations int) float64 {
	return eta / (1 + decay*float64(iterations))
}

func (o *optimizer) ZeroGrad() {
	for _, opt := range o.groups {
		opt.ZeroGrad()
	}
}

func (o *optimizer) Step() {
	lr := o.learningRate()
	for _, opt := range o.groups {
		if o.decay != 0 {
			opt.SetLR(lr)
		}
		opt.Step()
	}
	o.iterations++
}

func (o *optimizer) Close() {
	for _, opt := range o.groups {
		opt.Close()
	}
	o.groups = nil
}
