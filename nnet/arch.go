package nnet

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// File name of the architecture descriptor saved in each model directory.
const ArchFile = "architecture.json"

// L2 regularisation applied to the all convolutional nets.
const allConvL2 = 0.0005

// Architecture is a named stack of layers sized for a given input shape and number of classes.
type Architecture struct {
	Name       string
	InputShape []int
	Outputs    int
	Layers     []LayerConfig
}

// Builder function creates an architecture for the input shape and outputs in the config.
type Builder func(c Config) Architecture

// Registry of the available architectures
var Architectures = map[string]Builder{
	"all_conv":       allConv,
	"all_bn_conv":    allBNConv,
	"model_c":        modelC,
	"simple_conv":    simpleConv,
	"simple_bn_conv": simpleBNConv,
	"lenet5":         lenet5,
	"lenet5_do":      lenet5Dropout,
	"lenet5_bn":      lenet5BN,
	"vgg16":          prebuilt(VGG16),
	"resnet50":       prebuilt(ResNet50),
	"densenet":       prebuilt(DenseNet121),
	"vgg16_fc":       vgg16FC,
}

// Sorted list of architecture names
func ArchNames() []string {
	names := make([]string, 0, len(Architectures))
	for name := range Architectures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build the architecture named in the config and check that the layer shapes are consistent.
func Build(c Config) (Architecture, error) {
	build, ok := Architectures[c.Arch]
	if !ok {
		return Architecture{}, errors.Errorf("unknown architecture %q: expecting one of %s", c.Arch, strings.Join(ArchNames(), ", "))
	}
	if c.Pretrained && !IsPrebuilt(c.Arch) {
		log.Printf("pretrained flag ignored for %s: only vgg16, vgg16_fc, resnet50 and densenet have pretrained weights", c.Arch)
	}
	a := build(c)
	a.Name = c.Arch
	if _, err := a.OutShape(); err != nil {
		return a, errors.Wrapf(err, "architecture %s", c.Arch)
	}
	return a, nil
}

// New empty architecture for the config input shape and outputs
func NewArchitecture(c Config) Architecture {
	return Architecture{Name: c.Arch, InputShape: append([]int{}, c.InputShape...), Outputs: c.Outputs}
}

// Append layers to the architecture
func (a Architecture) AddLayers(layers ...ConfigLayer) Architecture {
	for _, l := range layers {
		a.Layers = append(a.Layers, l.Marshal())
	}
	return a
}

// Get the final output shape, which must be a vector with one entry per class.
func (a Architecture) OutShape() ([]int, error) {
	out, err := OutShape(a.Layers, a.InputShape)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 || out[0] != a.Outputs {
		return out, errors.Errorf("output shape %v does not match %d classes", out, a.Outputs)
	}
	return out, nil
}

// Backbone layer if there is one
func (a Architecture) Backbone() (*Backbone, bool) {
	for _, l := range a.Layers {
		if l.Type == "backbone" {
			return l.Unmarshal().(*Backbone), true
		}
	}
	return nil, false
}

func (a Architecture) String() string {
	return fmt.Sprintf("== Architecture %s %v => %d ==\n%s", a.Name, a.InputShape, a.Outputs, Describe(a.Layers, a.InputShape))
}

// Save architecture to JSON file in the given directory.
func (a Architecture) Save(dir string) error {
	filePath := path.Join(dir, "."+ArchFile)
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrap(err, "save architecture")
	}
	log.Println("saving architecture to", path.Join(dir, ArchFile))
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(a); err != nil {
		f.Close()
		return errors.Wrap(err, "save architecture")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "save architecture")
	}
	return os.Rename(filePath, path.Join(dir, ArchFile))
}

// Load architecture from JSON file in the given directory.
func LoadArchitecture(dir string) (a Architecture, err error) {
	filePath := path.Join(dir, ArchFile)
	var f *os.File
	if f, err = os.Open(filePath); err != nil {
		return a, errors.Wrap(err, "load architecture")
	}
	defer f.Close()
	log.Println("loading architecture from", filePath)
	if err = json.NewDecoder(f).Decode(&a); err != nil {
		return a, errors.Wrapf(err, "decode %s", filePath)
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("invalid layer in %s: %v", filePath, r)
		}
	}()
	_, err = a.OutShape()
	return a, err
}

// Model C from Striving for Simplicity: The All Convolutional Net
func modelC(c Config) Architecture {
	return NewArchitecture(c).AddLayers(
		Dropout{Ratio: 0.2},
		Conv{Nfeats: 96, Size: 3, Pad: true, L2: allConvL2}, relu(),
		Conv{Nfeats: 96, Size: 3, Pad: true, L2: allConvL2}, relu(),
		Pool{Size: 3, Stride: 2},
		Dropout{Ratio: 0.5},
		Conv{Nfeats: 192, Size: 3, Pad: true, L2: allConvL2}, relu(),
		Conv{Nfeats: 192, Size: 3, Pad: true, L2: allConvL2}, relu(),
		Pool{Size: 3, Stride: 2},
		Dropout{Ratio: 0.5},
	).AddLayers(allConvTop(c.Outputs)...)
}

// Model All-CNN-C from Striving for Simplicity: The All Convolutional Net
func allConv(c Config) Architecture {
	return allConvNet(c, false)
}

// All-CNN-C with batch normalisation after each of the first six conv layers
func allBNConv(c Config) Architecture {
	return allConvNet(c, true)
}

func allConvNet(c Config, batchNorm bool) Architecture {
	a := NewArchitecture(c).AddLayers(Dropout{Ratio: 0.2})
	for _, nfeat := range []int{96, 192} {
		for i := 1; i <= 3; i++ {
			stride := 1
			if i == 3 {
				stride = 2
			}
			a = a.AddLayers(Conv{Nfeats: nfeat, Size: 3, Stride: stride, Pad: true, L2: allConvL2}, relu())
			if batchNorm {
				a = a.AddLayers(BatchNorm{})
			}
		}
		a = a.AddLayers(Dropout{Ratio: 0.5})
	}
	return a.AddLayers(allConvTop(c.Outputs)...)
}

func allConvTop(nout int) []ConfigLayer {
	return []ConfigLayer{
		Conv{Nfeats: 192, Size: 3, Pad: true, L2: allConvL2}, relu(),
		Conv{Nfeats: 192, Size: 1, Pad: true, L2: allConvL2}, relu(),
		Conv{Nfeats: nout, Size: 1, Pad: true, L2: allConvL2}, relu(),
		Pool{Global: true, Average: true},
		softmax(),
	}
}

// CNN from the keras cifar10_cnn example
func simpleConv(c Config) Architecture {
	return NewArchitecture(c).AddLayers(
		Conv{Nfeats: 32, Size: 3, Pad: true}, relu(),
		Conv{Nfeats: 32, Size: 3}, relu(),
		Pool{Size: 2},
		Dropout{Ratio: 0.25},
		Conv{Nfeats: 64, Size: 3, Pad: true}, relu(),
		Conv{Nfeats: 64, Size: 3}, relu(),
		Pool{Size: 2},
		Dropout{Ratio: 0.25},
		Flatten{},
		Linear{Nout: 512}, relu(),
		Dropout{Ratio: 0.5},
		Linear{Nout: c.Outputs}, softmax(),
	)
}

func simpleBNConv(c Config) Architecture {
	return NewArchitecture(c).AddLayers(
		Conv{Nfeats: 32, Size: 3, Pad: true}, relu(),
		Conv{Nfeats: 32, Size: 3, NoBias: true}, BatchNorm{}, relu(),
		Pool{Size: 2},
		Conv{Nfeats: 64, Size: 3, Pad: true}, relu(),
		Conv{Nfeats: 64, Size: 3, NoBias: true}, BatchNorm{}, relu(),
		Pool{Size: 2},
		Flatten{},
		Linear{Nout: 512, NoBias: true}, BatchNorm{}, relu(),
		Linear{Nout: c.Outputs}, softmax(),
	)
}

func lenet5(c Config) Architecture {
	return NewArchitecture(c).AddLayers(
		Conv{Nfeats: 10, Size: 5}, relu(),
		Pool{Size: 2},
		Conv{Nfeats: 32, Size: 5}, relu(),
		Pool{Size: 2},
		Flatten{},
		Linear{Nout: 120}, relu(),
		Linear{Nout: 84}, relu(),
		Linear{Nout: c.Outputs}, softmax(),
	)
}

func lenet5Dropout(c Config) Architecture {
	return NewArchitecture(c).AddLayers(
		Conv{Nfeats: 10, Size: 5}, relu(),
		Pool{Size: 2},
		Dropout{Ratio: 0.25},
		Conv{Nfeats: 32, Size: 5}, relu(),
		Pool{Size: 2},
		Dropout{Ratio: 0.25},
		Flatten{},
		Linear{Nout: 120}, relu(),
		Linear{Nout: 84}, relu(),
		Linear{Nout: c.Outputs}, softmax(),
	)
}

func lenet5BN(c Config) Architecture {
	return NewArchitecture(c).AddLayers(
		Conv{Nfeats: 10, Size: 5, NoBias: true}, BatchNorm{}, relu(),
		Pool{Size: 2},
		Conv{Nfeats: 32, Size: 5, NoBias: true}, BatchNorm{}, relu(),
		Pool{Size: 2},
		Flatten{},
		Linear{Nout: 120, NoBias: true}, BatchNorm{}, relu(),
		Dropout{Ratio: 0.5},
		Linear{Nout: 84, NoBias: true}, BatchNorm{}, relu(),
		Dropout{Ratio: 0.5},
		Linear{Nout: c.Outputs}, softmax(),
	)
}

// Wrap one of the standard backbones with a classifier head.
func prebuilt(backbone func(pretrained bool) Backbone) Builder {
	return func(c Config) Architecture {
		return NewArchitecture(c).AddLayers(
			backbone(c.Pretrained),
			Flatten{},
			relu(),
			Linear{Nout: c.Outputs},
			softmax(),
		)
	}
}

// VGG16 backbone with the original two 4096 unit fully connected layers.
func vgg16FC(c Config) Architecture {
	return NewArchitecture(c).AddLayers(
		VGG16(c.Pretrained),
		Flatten{},
		Linear{Nout: 4096}, relu(),
		Linear{Nout: 4096}, relu(),
		Linear{Nout: c.Outputs},
		softmax(),
	)
}

// True if the architecture wraps a standard backbone which can be pretrained.
func IsPrebuilt(arch string) bool {
	switch arch {
	case "vgg16", "resnet50", "densenet", "vgg16_fc":
		return true
	}
	return false
}

func relu() Activation { return Activation{Atype: "relu"} }

func softmax() Activation { return Activation{Atype: "softmax"} }
