package img

import (
	"fmt"
	"log"
	"math"
	"math/rand"
)

const epsilon = 1e-6

// Options for the image generator
type Options struct {
	Rescale   float64
	Center    bool
	StdNorm   bool
	HorizFlip bool
	Shift     int
}

// Generator wraps a data set and distorts each image as it is read. Scaling and normalisation
// are applied by the network from the values returned by Normalization.
// It implements the nnet.Data interface.
type Generator struct {
	*Data
	Options
	Mean   []float32
	StdDev []float32
	trans  *Transformer
}

// Create a new generator. Flips and shifts are only applied if augment is set.
func NewGenerator(d *Data, opts Options, augment bool, rng *rand.Rand) *Generator {
	g := &Generator{Data: d, Options: opts}
	if augment {
		g.trans = NewTransformer(opts.HorizFlip, opts.Shift, rng)
	}
	return g
}

func (g *Generator) scale() float32 {
	if g.Rescale == 0 {
		return 1
	}
	return float32(g.Rescale)
}

// Compute the per channel mean and standard deviation of the rescaled pixel values.
func (g *Generator) Fit() {
	ch := g.Dims[2]
	plane := g.Dims[0] * g.Dims[1]
	sum := make([]float64, ch)
	sum2 := make([]float64, ch)
	scale := float64(g.scale())
	for i := 0; i < g.Len(); i++ {
		pix := g.ImageBytes(i)
		for c := 0; c < ch; c++ {
			for _, v := range pix[c*plane : (c+1)*plane] {
				x := float64(v) * scale
				sum[c] += x
				sum2[c] += x * x
			}
		}
	}
	n := float64(g.Len() * plane)
	g.Mean = make([]float32, ch)
	g.StdDev = make([]float32, ch)
	for c := range sum {
		mean := sum[c] / n
		g.Mean[c] = float32(mean)
		g.StdDev[c] = float32(math.Sqrt(math.Max(sum2[c]/n-mean*mean, 0)))
	}
}

// Per channel mean and standard deviation to standardise the raw pixel values with, combining
// the rescale factor with featurewise centering and normalisation. ok is false if the pixel
// values are used unchanged. Fit must be called first if Center or StdNorm is set.
func (g *Generator) Normalization() (mean, std []float32, ok bool) {
	ch := g.Dims[2]
	scale := g.scale()
	mean = make([]float32, ch)
	std = make([]float32, ch)
	for c := range mean {
		var m, s float32 = 0, 1
		if g.Center && g.Mean != nil {
			m = g.Mean[c]
		}
		if g.StdNorm && g.StdDev != nil {
			s = g.StdDev[c] + epsilon
		}
		// (x*scale - m) / s == (x - m/scale) / (s/scale)
		mean[c], std[c] = m/scale, s/scale
	}
	return mean, std, scale != 1 || g.Center || g.StdNorm
}

// Input images as raw pixel values after applying the random distortions.
func (g *Generator) Input(index []int, buf []float32) {
	size := g.imageSize()
	for i, ix := range index {
		pix := g.ImageBytes(ix)
		if g.trans != nil && g.trans.Enabled() {
			var err error
			if pix, err = g.trans.Transform(pix, g.Dims); err != nil {
				log.Println("generator:", err)
				pix = g.ImageBytes(ix)
			}
		}
		dst := buf[i*size : (i+1)*size]
		for j, v := range pix {
			dst[j] = float32(v)
		}
	}
}

func (g *Generator) String() string {
	s := fmt.Sprintf("generator: %d images %v rescale=%g center=%v stdNorm=%v", g.Len(), g.Dims, g.scale(), g.Center, g.StdNorm)
	if g.trans != nil {
		s += fmt.Sprintf(" flip=%v shift=%d", g.trans.HorizFlip, g.trans.Shift)
	}
	return s
}
