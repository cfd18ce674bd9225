package torchnet

import (
	"fmt"
	"math/rand"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	torch "github.com/wangkuiyi/gotorch"
	"github.com/wencoast/DeepLearning/nnet"
)

func TestConvPad(t *testing.T) {
	assert.Equal(t, int64(0), convPad(3, false))
	assert.Equal(t, int64(1), convPad(3, true))
	assert.Equal(t, int64(3), convPad(7, true))
	assert.Equal(t, int64(0), convPad(1, true))
}

func TestDropoutMask(t *testing.T) {
	shape := []int64{100, 100}
	mask := dropoutMask(shape, 0.25)
	require.Equal(t, shape, mask.Shape())
	kept := torch.Eq(mask, torch.Full(shape, float32(1/0.75), false)).Sum().Item().(int64)
	dropped := torch.Eq(mask, torch.Full(shape, 0, false)).Sum().Item().(int64)
	assert.Equal(t, int64(10000), kept+dropped)
	assert.InDelta(t, 7500, kept, 200)
}

func TestConcatChannels(t *testing.T) {
	x := torch.NewTensor([]float32{1, 2, 3, 4}).View(1, 2, 1, 2)
	n := concatNode{left: selector(2, 4, 0), right: selector(2, 4, 2)}
	y := n.forward(x, false)
	require.Equal(t, []int64{1, 4, 1, 2}, y.Shape())
	expect := [][]float32{{1, 2}, {3, 4}, {1, 2}, {3, 4}}
	for c, row := range expect {
		for j, v := range row {
			assert.Equal(t, v, y.Index(0, int64(c), 0, int64(j)).Item().(float32), "channel %d col %d", c, j)
		}
	}
}

func TestDecayedRate(t *testing.T) {
	assert.Equal(t, 0.01, decayedRate(0.01, 0, 1000))
	assert.InDelta(t, 0.005, decayedRate(0.01, 1e-3, 1000), 1e-12)
}

func testBatch(rng *rand.Rand, size, classes int) *nnet.Batch {
	b := &nnet.Batch{Size: size, Shape: []int{size, 3, 32, 32}, Classes: classes}
	b.Input = make([]float32, size*3*32*32)
	for i := range b.Input {
		b.Input[i] = rng.Float32()
	}
	b.Labels = make([]int32, size)
	for i := range b.Labels {
		b.Labels[i] = int32(rng.Intn(classes))
	}
	b.OneHot = make([]float32, size*classes)
	nnet.OneHot(b.Labels, classes, b.OneHot)
	return b
}

func testConfig(t *testing.T, arch string) nnet.Config {
	conf := nnet.DefaultConfig()
	conf.DataSet = "cifar10"
	conf.Arch = arch
	conf.RandSeed = 42
	conf.WeightsDir = t.TempDir()
	conf, err := conf.Validate()
	require.NoError(t, err)
	return conf
}

func compile(t *testing.T, arch string) (*Network, nnet.Config) {
	conf := testConfig(t, arch)
	a, err := nnet.Build(conf)
	require.NoError(t, err)
	net, err := New(a, conf)
	require.NoError(t, err)
	return net, conf
}

// small network with a backbone using batch norm and a dense connection
func tinyArch(frozen bool) nnet.Architecture {
	bb := nnet.Backbone{Name: "tiny", Frozen: frozen, Layers: nnet.Layers(
		nnet.Conv{Nfeats: 4, Size: 3, Stride: 2, Pad: true},
		nnet.BatchNorm{},
		nnet.Activation{Atype: "relu"},
		nnet.Concat{Block: nnet.Layers(nnet.Conv{Nfeats: 2, Size: 3, Stride: 1, Pad: true})},
		nnet.Pool{Size: 2, Stride: 2},
	)}
	a := nnet.Architecture{Name: "tiny", InputShape: []int{32, 32, 3}, Outputs: 10}
	return a.AddLayers(bb, nnet.Flatten{}, nnet.Linear{Nout: 10}, nnet.Activation{Atype: "softmax"})
}

func TestArchitectures(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, name := range nnet.ArchNames() {
		t.Run(name, func(t *testing.T) {
			net, _ := compile(t, name)
			defer net.Release()
			b := testBatch(rng, 2, 10)
			x, _ := net.tensors(b)
			assert.Equal(t, []int64{2, 10}, net.root.forward(x, false).Shape())
			loss, correct, err := net.TestBatch(b)
			require.NoError(t, err)
			assert.True(t, loss > 0)
			assert.True(t, correct >= 0 && correct <= 2)
		})
	}
}

func TestTrainBatch(t *testing.T) {
	net, _ := compile(t, "lenet5_bn")
	defer net.Release()
	t.Log(net)
	b := testBatch(rand.New(rand.NewSource(1)), 8, 10)
	loss, correct, err := net.TrainBatch(b)
	require.NoError(t, err)
	assert.True(t, loss > 0)
	assert.True(t, correct >= 0 && correct <= 8)
	for _, u := range net.units {
		assert.True(t, u.module.IsTraining(), u.name)
	}

	loss, correct, err = net.TestBatch(b)
	require.NoError(t, err)
	assert.True(t, loss > 0)
	assert.True(t, correct >= 0 && correct <= 8)
	for _, u := range net.units {
		assert.False(t, u.module.IsTraining(), u.name)
	}
}

func TestNormalization(t *testing.T) {
	net, _ := compile(t, "lenet5")
	defer net.Release()
	b := testBatch(rand.New(rand.NewSource(3)), 2, 10)
	for i := range b.Input {
		b.Input[i] = 10
	}
	b.Input[0] = 12
	net.SetNormalization([]float32{10, 10, 10}, []float32{2, 2, 2})
	x, _ := net.tensors(b)
	require.Equal(t, []int64{2, 3, 32, 32}, x.Shape())
	assert.Equal(t, float32(1), x.Index(0, 0, 0, 0).Item().(float32))
	assert.Equal(t, float32(0), x.Index(1, 2, 31, 31).Item().(float32))
}

func TestSaveLoadWeights(t *testing.T) {
	net, conf := compile(t, "lenet5_do")
	defer net.Release()
	b := testBatch(rand.New(rand.NewSource(2)), 4, 10)
	_, _, err := net.TrainBatch(b)
	require.NoError(t, err)
	loss1, _, err := net.TestBatch(b)
	require.NoError(t, err)

	file := path.Join(t.TempDir(), nnet.CheckpointName(1, 0.1))
	require.NoError(t, net.SaveWeights(file))

	a, err := nnet.Build(conf)
	require.NoError(t, err)
	net2, err := New(a, conf)
	require.NoError(t, err)
	defer net2.Release()
	require.NoError(t, net2.LoadWeights(file))
	loss2, _, err := net2.TestBatch(b)
	require.NoError(t, err)
	assert.InDelta(t, loss1, loss2, 1e-4)

	other, _ := compile(t, "simple_conv")
	defer other.Release()
	assert.Error(t, other.LoadWeights(file))
}

func TestPretrainedWeightsMissing(t *testing.T) {
	conf := testConfig(t, "vgg16")
	conf.Pretrained = true
	a, err := nnet.Build(conf)
	require.NoError(t, err)
	_, err = New(a, conf)
	assert.Error(t, err)
}

func TestPretrainedBackbone(t *testing.T) {
	conf := testConfig(t, "tiny")
	src, err := New(tinyArch(false), conf)
	require.NoError(t, err)
	defer src.Release()
	require.NoError(t, src.SaveBackbone(BackboneFile(conf.WeightsDir, "tiny")))

	net, err := New(tinyArch(true), conf)
	require.NoError(t, err)
	defer net.Release()
	want := src.state("tiny.")
	require.Len(t, want, 8)
	got := net.state("tiny.")
	require.Len(t, got, len(want))
	for k, v := range want {
		assert.True(t, torch.Equal(v, got[k]), k)
	}

	// only the linear layer is trained
	groups := paramGroups(net.units)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 2)

	_, _, err = net.TrainBatch(testBatch(rand.New(rand.NewSource(1)), 4, 10))
	require.NoError(t, err)
	for _, u := range net.units {
		assert.Equal(t, !u.frozen, u.module.IsTraining(), u.name)
	}
	for k, v := range net.state("tiny.") {
		assert.True(t, torch.Equal(want[k], v), "%s changed", k)
	}
}

func TestImportBackbone(t *testing.T) {
	nnet.Architectures["tiny"] = func(c nnet.Config) nnet.Architecture { return tinyArch(c.Pretrained) }
	defer delete(nnet.Architectures, "tiny")
	conf := testConfig(t, "tiny")

	src, err := New(tinyArch(false), conf)
	require.NoError(t, err)
	defer src.Release()
	dir := t.TempDir()
	state := src.state("tiny.")
	keys := src.backboneKeys("tiny")
	require.Len(t, keys, 8)
	assert.Equal(t, "0.Conv2dModule.Weight", keys[0])
	assert.Equal(t, "0.Conv2dModule.Bias", keys[1])
	assert.Equal(t, "1.BatchNorm2dModule.RunningVar", keys[5])
	for i, key := range keys {
		state[key].Save(path.Join(dir, fmt.Sprintf("%03d.pt", i)))
	}

	file, err := ImportBackbone(conf, dir)
	require.NoError(t, err)
	assert.Equal(t, BackboneFile(conf.WeightsDir, "tiny"), file)
	net, err := New(tinyArch(true), conf)
	require.NoError(t, err)
	defer net.Release()
	for k, v := range net.state("tiny.") {
		assert.True(t, torch.Equal(state[k], v), k)
	}

	require.NoError(t, os.Remove(path.Join(dir, "007.pt")))
	_, err = ImportBackbone(conf, dir)
	assert.Error(t, err)

	conf.Arch = "lenet5"
	_, err = ImportBackbone(conf, dir)
	assert.Error(t, err)
}

func TestParamGroups(t *testing.T) {
	net, _ := compile(t, "all_conv")
	defer net.Release()
	groups := paramGroups(net.units)
	require.Len(t, groups, 1)
	require.Contains(t, groups, 2*0.0005)
	total := 0
	for _, u := range net.units {
		total += len(u.module.Parameters())
	}
	assert.Equal(t, total, len(groups[2*0.0005]))
	assert.NotContains(t, groups, 0.0)
}
