package nnet

// Standard feature extraction networks without their classifier top layers, see
// https://arxiv.org/abs/1409.1556, https://arxiv.org/abs/1512.03385 and https://arxiv.org/abs/1608.06993

// VGG16 backbone: 13 3x3 conv layers in 5 blocks each followed by max pooling.
func VGG16(pretrained bool) Backbone {
	var layers []ConfigLayer
	for _, block := range [][]int{{64, 64}, {128, 128}, {256, 256, 256}, {512, 512, 512}, {512, 512, 512}} {
		for _, nfeat := range block {
			layers = append(layers, Conv{Nfeats: nfeat, Size: 3, Pad: true}, relu())
		}
		layers = append(layers, Pool{Size: 2})
	}
	return Backbone{Name: "vgg16", Frozen: pretrained, Layers: Layers(layers...)}
}

// ResNet50 backbone with bottleneck residual blocks in 4 stages.
func ResNet50(pretrained bool) Backbone {
	layers := []ConfigLayer{
		Conv{Nfeats: 64, Size: 7, Stride: 2, Pad: true},
		BatchNorm{},
		relu(),
		Pool{Size: 3, Stride: 2, Pad: true},
	}
	stages := []struct{ nfeat, blocks, stride int }{
		{64, 3, 1}, {128, 4, 2}, {256, 6, 2}, {512, 3, 2},
	}
	for _, s := range stages {
		layers = append(layers, bottleneck(s.nfeat, s.stride, true), relu())
		for i := 1; i < s.blocks; i++ {
			layers = append(layers, bottleneck(s.nfeat, 1, false), relu())
		}
	}
	return Backbone{Name: "resnet50", Frozen: pretrained, Layers: Layers(layers...)}
}

// 1x1 => 3x3 => 1x1 block with 4x expansion, with a projection shortcut if project is set.
func bottleneck(nfeat, stride int, project bool) Add {
	block := []ConfigLayer{
		Conv{Nfeats: nfeat, Size: 1, Stride: stride, Pad: true},
		BatchNorm{},
		relu(),
		Conv{Nfeats: nfeat, Size: 3, Pad: true},
		BatchNorm{},
		relu(),
		Conv{Nfeats: 4 * nfeat, Size: 1, Pad: true},
		BatchNorm{},
	}
	if !project {
		return AddLayer(block, nil)
	}
	shortcut := []ConfigLayer{
		Conv{Nfeats: 4 * nfeat, Size: 1, Stride: stride, Pad: true},
		BatchNorm{},
	}
	return AddLayer(block, shortcut)
}

const (
	denseGrowth    = 32
	denseReduction = 0.5
)

// DenseNet121 backbone with 4 dense blocks joined by transition layers.
func DenseNet121(pretrained bool) Backbone {
	layers := []ConfigLayer{
		Conv{Nfeats: 64, Size: 7, Stride: 2, Pad: true, NoBias: true},
		BatchNorm{},
		relu(),
		Pool{Size: 3, Stride: 2, Pad: true},
	}
	nfeat := 64
	blocks := []int{6, 12, 24, 16}
	for i, n := range blocks {
		for j := 0; j < n; j++ {
			layers = append(layers, denseBlock())
			nfeat += denseGrowth
		}
		if i < len(blocks)-1 {
			nfeat = int(float64(nfeat) * denseReduction)
			layers = append(layers,
				BatchNorm{},
				relu(),
				Conv{Nfeats: nfeat, Size: 1, NoBias: true},
				Pool{Size: 2, Average: true},
			)
		}
	}
	layers = append(layers, BatchNorm{}, relu())
	return Backbone{Name: "densenet", Frozen: pretrained, Layers: Layers(layers...)}
}

func denseBlock() Concat {
	return Concat{Block: Layers(
		BatchNorm{},
		relu(),
		Conv{Nfeats: 4 * denseGrowth, Size: 1, NoBias: true},
		BatchNorm{},
		relu(),
		Conv{Nfeats: denseGrowth, Size: 3, Pad: true, NoBias: true},
	)}
}
