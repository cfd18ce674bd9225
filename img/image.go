// Package img contains routines for manipulating sets of images.
package img

import (
	"encoding/gob"
	"image"
	"image/color"

	"github.com/pkg/errors"
)

func init() {
	gob.Register(&Data{})
}

// Data type holds a set of labelled images. Each image is stored as bytes in channel, row,
// column order and Dims is the height, width and number of channels.
type Data struct {
	Class  []string
	Dims   []int
	Labels []int32
	Pixels []byte
}

// NewData function creates a new data set which implements the nnet.Data interface
func NewData(classes []string, dims []int, labels []int32, pixels []byte) (*Data, error) {
	d := &Data{Class: classes, Dims: dims, Labels: labels, Pixels: pixels}
	if len(dims) != 3 {
		return nil, errors.Errorf("expecting height, width and channels: got %v", dims)
	}
	if len(pixels) != len(labels)*d.imageSize() {
		return nil, errors.Errorf("have %d bytes of pixel data for %d images of size %v", len(pixels), len(labels), dims)
	}
	for i, label := range labels {
		if label < 0 || int(label) >= len(classes) {
			return nil, errors.Errorf("image %d: label %d out of range", i, label)
		}
	}
	return d, nil
}

func (d *Data) imageSize() int {
	return d.Dims[0] * d.Dims[1] * d.Dims[2]
}

func (d *Data) Len() int { return len(d.Labels) }

func (d *Data) Classes() []string { return d.Class }

func (d *Data) Shape() []int { return d.Dims }

func (d *Data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

// Input pixel values without any scaling, in range 0-255.
func (d *Data) Input(index []int, buf []float32) {
	size := d.imageSize()
	for i, ix := range index {
		src := d.ImageBytes(ix)
		dst := buf[i*size : (i+1)*size]
		for j, v := range src {
			dst[j] = float32(v)
		}
	}
}

// Raw pixel data for image i
func (d *Data) ImageBytes(i int) []byte {
	size := d.imageSize()
	return d.Pixels[i*size : (i+1)*size]
}

// Image i converted to an image.Image
func (d *Data) Image(i int) image.Image {
	h, w := d.Dims[0], d.Dims[1]
	plane := h * w
	pix := d.ImageBytes(i)
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for j := 0; j < plane; j++ {
		c := color.NRGBA{R: pix[j], G: pix[j], B: pix[j], A: 255}
		if d.Dims[2] >= 3 {
			c.G, c.B = pix[plane+j], pix[2*plane+j]
		}
		m.SetNRGBA(j%w, j/w, c)
	}
	return m
}

// Append images from another data set with the same shape and classes.
func (d *Data) Append(o *Data) error {
	if len(o.Dims) != len(d.Dims) || o.imageSize() != d.imageSize() || len(o.Class) != len(d.Class) {
		return errors.Errorf("cannot append data of shape %v to %v", o.Dims, d.Dims)
	}
	d.Labels = append(d.Labels, o.Labels...)
	d.Pixels = append(d.Pixels, o.Pixels...)
	return nil
}
