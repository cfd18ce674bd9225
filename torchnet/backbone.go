package torchnet

import (
	"log"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	torch "github.com/wangkuiyi/gotorch"
	"github.com/wencoast/DeepLearning/nnet"
)

// Pretrained weights are a gob encoded state dict keyed by unit and parameter name with the
// backbone prefix removed, e.g. 0.Conv2dModule.Weight.

// Order of tensors within a module when importing, as they are listed by torch.
var importOrder = map[string]int{"Weight": 0, "Bias": 1, "RunningMean": 2, "RunningVar": 3}

// Path to the pretrained weights file for the named backbone.
func BackboneFile(dir, name string) string {
	return path.Join(dir, name+"_imagenet"+nnet.WeightsExt)
}

func (n *Network) loadBackbone(name, file string) error {
	states, err := loadState(file)
	if os.IsNotExist(errors.Cause(err)) {
		return errors.Errorf("pretrained weights for %s not found: expecting %s, run cifar import-weights to create it", name, file)
	}
	if err != nil {
		return err
	}
	log.Printf("loaded pretrained %s weights from %s", name, file)
	return n.setState(states, name+".")
}

// Save the backbone weights in the format read for pretrained networks.
func (n *Network) SaveBackbone(file string) error {
	bb, ok := n.Arch.Backbone()
	if !ok {
		return errors.Errorf("%s does not have a backbone", n.Arch.Name)
	}
	return saveState(file, n.state(bb.Name+"."))
}

// backbone state keys in import order: by layer, then weight, bias, running mean and variance
func (n *Network) backboneKeys(name string) []string {
	var keys []string
	prefix := name + "."
	for _, u := range n.units {
		if !strings.HasPrefix(u.name, prefix) {
			continue
		}
		var fields []string
		for key := range u.module.StateDict() {
			fields = append(fields, key)
		}
		sort.Slice(fields, func(i, j int) bool { return importRank(fields[i]) < importRank(fields[j]) })
		for _, f := range fields {
			keys = append(keys, strings.TrimPrefix(u.name, prefix)+"."+f)
		}
	}
	return keys
}

func importRank(key string) int {
	if r, ok := importOrder[key[strings.LastIndex(key, ".")+1:]]; ok {
		return r
	}
	return len(importOrder)
}

// Convert weights exported from another framework into the pretrained weights file for the
// backbone of the configured architecture. dir holds one tensor per file written with torch::save.
// Files are read in name order and assigned to the backbone parameters in layer order, with
// weight and bias first then running mean and variance for batch norm. Scalar tensors such as
// batch norm counters are skipped. Returns the name of the file written.
func ImportBackbone(conf nnet.Config, dir string) (file string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("import weights from %s: %v", dir, r)
		}
	}()
	conf.Pretrained = false
	arch, err := nnet.Build(conf)
	if err != nil {
		return "", err
	}
	bb, ok := arch.Backbone()
	if !ok {
		return "", errors.Errorf("architecture %s does not have a backbone", arch.Name)
	}
	n, err := New(arch, conf)
	if err != nil {
		return "", err
	}
	defer n.Release()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.WithStack(err)
	}
	want := n.state(bb.Name + ".")
	keys := n.backboneKeys(bb.Name)
	states := make(map[string]torch.Tensor, len(keys))
	i := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		t := torch.Load(path.Join(dir, e.Name()))
		if t.Dim() == 0 {
			continue
		}
		if i >= len(keys) {
			return "", errors.Errorf("import %s: more than %d tensors in %s", bb.Name, len(keys), dir)
		}
		if !sameShape(t.Shape(), want[keys[i]].Shape()) {
			return "", errors.Errorf("import %s: %s has shape %v, expecting %v for %s", bb.Name, e.Name(), t.Shape(), want[keys[i]].Shape(), keys[i])
		}
		states[keys[i]] = t
		i++
	}
	if i < len(keys) {
		return "", errors.Errorf("import %s: found %d tensors in %s, expecting %d", bb.Name, i, dir, len(keys))
	}
	if err = os.MkdirAll(conf.WeightsDir, 0755); err != nil {
		return "", errors.WithStack(err)
	}
	file = BackboneFile(conf.WeightsDir, bb.Name)
	return file, saveState(file, states)
}
