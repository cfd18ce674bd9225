package img

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2 images of 2x2 pixels with 3 channels
func testData(t *testing.T) *Data {
	pixels := []byte{
		0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110,
		255, 245, 235, 225, 215, 205, 195, 185, 175, 165, 155, 145,
	}
	d, err := NewData([]string{"cat", "dog"}, []int{2, 2, 3}, []int32{1, 0}, pixels)
	require.NoError(t, err)
	return d
}

func TestNewData(t *testing.T) {
	_, err := NewData([]string{"a"}, []int{2, 2, 3}, []int32{0}, make([]byte, 11))
	assert.Error(t, err)
	_, err = NewData([]string{"a"}, []int{2, 2, 3}, []int32{1}, make([]byte, 12))
	assert.Error(t, err)
	_, err = NewData([]string{"a"}, []int{4, 3}, []int32{0}, make([]byte, 12))
	assert.Error(t, err)
}

func TestDataInput(t *testing.T) {
	d := testData(t)
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []int{2, 2, 3}, d.Shape())

	labels := make([]int32, 2)
	d.Label([]int{1, 0}, labels)
	assert.Equal(t, []int32{0, 1}, labels)

	buf := make([]float32, 12)
	d.Input([]int{1}, buf)
	assert.Equal(t, float32(255), buf[0])
	assert.Equal(t, float32(145), buf[11])
}

func TestDataImage(t *testing.T) {
	d := testData(t)
	m := d.Image(0)
	r, g, b, _ := m.At(1, 0).RGBA()
	assert.Equal(t, uint32(10*0x101), r)
	assert.Equal(t, uint32(50*0x101), g)
	assert.Equal(t, uint32(90*0x101), b)
}

func TestDataAppend(t *testing.T) {
	d := testData(t)
	require.NoError(t, d.Append(testData(t)))
	assert.Equal(t, 4, d.Len())
	assert.Equal(t, byte(255), d.ImageBytes(3)[0])

	other, err := NewData([]string{"cat", "dog"}, []int{1, 1, 3}, []int32{0}, make([]byte, 3))
	require.NoError(t, err)
	assert.Error(t, d.Append(other))
}

func TestGeneratorFit(t *testing.T) {
	d := testData(t)
	g := NewGenerator(d, Options{Rescale: 1.0 / 255, Center: true, StdNorm: true}, false, rand.New(rand.NewSource(1)))
	g.Fit()
	t.Log(g, g.Mean, g.StdDev)
	require.Len(t, g.Mean, 3)
	mean, std, ok := g.Normalization()
	require.True(t, ok)

	buf := make([]float32, 24)
	g.Input([]int{0, 1}, buf)
	for c := 0; c < 3; c++ {
		var sum, sum2 float32
		for i := 0; i < 2; i++ {
			for j := 0; j < 4; j++ {
				x := (buf[i*12+c*4+j] - mean[c]) / std[c]
				sum += x
				sum2 += x * x
			}
		}
		assert.InDelta(t, 0, sum/8, 1e-4, "channel %d mean", c)
		assert.InDelta(t, 1, sum2/8, 1e-3, "channel %d variance", c)
	}
}

func TestGeneratorRescale(t *testing.T) {
	d := testData(t)
	g := NewGenerator(d, Options{Rescale: 0.5}, false, nil)
	buf := make([]float32, 12)
	g.Input([]int{0}, buf)
	assert.Equal(t, float32(10), buf[1])
	assert.Equal(t, float32(110), buf[11])
	mean, std, ok := g.Normalization()
	assert.True(t, ok)
	assert.Equal(t, []float32{0, 0, 0}, mean)
	assert.Equal(t, []float32{2, 2, 2}, std)

	_, _, ok = NewGenerator(d, Options{}, false, nil).Normalization()
	assert.False(t, ok)
}

func TestPlanarConversion(t *testing.T) {
	d := testData(t)
	pix := d.ImageBytes(0)
	inter := toInterleaved(pix, 2, 2)
	assert.Equal(t, []byte{0, 40, 80}, inter[:3])
	assert.Equal(t, pix, toPlanar(inter, 2, 2))
}

func TestTransformFlip(t *testing.T) {
	d := testData(t)
	trans := NewTransformer(true, 0, rand.New(rand.NewSource(42)))
	flipped := 0
	for i := 0; i < 20; i++ {
		out, err := trans.Transform(d.ImageBytes(0), d.Dims)
		require.NoError(t, err)
		if out[0] == 10 && out[1] == 0 {
			flipped++
		} else {
			assert.Equal(t, d.ImageBytes(0), out)
		}
	}
	t.Log("flipped", flipped, "of 20")
	assert.True(t, flipped > 0 && flipped < 20)
}

func TestTransformShift(t *testing.T) {
	d := testData(t)
	trans := NewTransformer(false, 1, rand.New(rand.NewSource(1)))
	for i := 0; i < 10; i++ {
		out, err := trans.Transform(d.ImageBytes(1), d.Dims)
		require.NoError(t, err)
		require.Len(t, out, 12)
		// reflected edges only repeat values from the same channel
		for c := 0; c < 3; c++ {
			for _, v := range out[c*4 : (c+1)*4] {
				assert.Contains(t, d.ImageBytes(1)[c*4:(c+1)*4], v)
			}
		}
	}
	_, err := trans.Transform(make([]byte, 5), d.Dims)
	assert.Error(t, err)
}
