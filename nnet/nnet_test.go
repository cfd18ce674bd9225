package nnet

import (
	"os"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fake data set with n images of 2x2 pixels and 3 channels, each pixel set to the image index
type testData struct {
	n, classes int
}

func (d testData) Len() int { return d.n }

func (d testData) Classes() []string { return make([]string, d.classes) }

func (d testData) Shape() []int { return []int{2, 2, 3} }

func (d testData) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = int32(ix % d.classes)
	}
}

func (d testData) Input(index []int, buf []float32) {
	for i, ix := range index {
		for j := 0; j < 12; j++ {
			buf[i*12+j] = float32(ix)
		}
	}
}

// fake model which gets half of each batch right with loss of 1 per sample
type testModel struct {
	sync.Mutex
	trained, tested int
	saved           []string
	loaded          string
}

func (m *testModel) TrainBatch(b *Batch) (float64, int, error) {
	m.Lock()
	defer m.Unlock()
	m.trained += b.Size
	return float64(b.Size), b.Size / 2, nil
}

func (m *testModel) TestBatch(b *Batch) (float64, int, error) {
	m.Lock()
	defer m.Unlock()
	m.tested += b.Size
	return 0.5 * float64(b.Size), b.Size / 2, nil
}

func (m *testModel) SaveWeights(file string) error {
	m.saved = append(m.saved, path.Base(file))
	return os.WriteFile(file, nil, 0644)
}

func (m *testModel) LoadWeights(file string) error {
	m.loaded = file
	return nil
}

func (m *testModel) Release() {}

func testConfig(t *testing.T, model, arch string) Config {
	c := DefaultConfig()
	c.Model = model
	c.Arch = arch
	c.DataSet = "cifar10"
	c.ModelsDir = t.TempDir()
	c, err := c.Validate()
	require.NoError(t, err)
	return c
}
