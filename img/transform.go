package img

import (
	"image/color"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/wangkuiyi/gotorch/vision/transforms"
	"gocv.io/x/gocv"
)

// Transformer applies random horizontal flips and shifts to images using OpenCV.
type Transformer struct {
	HorizFlip bool
	Shift     int
	rng       *rand.Rand
}

// Create a new transformer. Shift is the maximum offset in pixels, edges are filled by reflection.
func NewTransformer(horizFlip bool, shift int, rng *rand.Rand) *Transformer {
	return &Transformer{HorizFlip: horizFlip, Shift: shift, rng: rng}
}

// True if the transformer will modify any images
func (t *Transformer) Enabled() bool {
	return t.HorizFlip || t.Shift > 0
}

// Transform an image in channel, row, column order with the given dimensions, returning a new image.
// A shift pads the image by Shift pixels on each side and takes a random crop of the original size.
func (t *Transformer) Transform(pix []byte, dims []int) ([]byte, error) {
	h, w, ch := dims[0], dims[1], dims[2]
	if ch != 3 {
		return nil, errors.Errorf("transform: expecting 3 channel image, got %d", ch)
	}
	if len(pix) != h*w*ch {
		return nil, errors.Errorf("transform: expecting %d bytes, got %d", h*w*ch, len(pix))
	}
	flip := t.HorizFlip && t.rng.Intn(2) == 1
	if !flip && t.Shift == 0 {
		return append([]byte{}, pix...), nil
	}
	// the mat owns its buffer so OpenCV never holds a pointer to Go memory
	src := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	defer src.Close()
	copy(src.DataPtrUint8(), toInterleaved(pix, h, w))
	if flip {
		// flip code 1 mirrors around the vertical axis
		gocv.Flip(src, &src, 1)
	}
	if t.Shift > 0 {
		padded := gocv.NewMat()
		defer padded.Close()
		gocv.CopyMakeBorder(src, &padded, t.Shift, t.Shift, t.Shift, t.Shift, gocv.BorderReflect101, color.RGBA{})
		cropped := transforms.RandomCrop(h, w).Run(padded)
		cropped.CopyTo(&src)
	}
	return toPlanar(src.ToBytes(), h, w), nil
}

// convert from channel, row, column order to row, column, channel
func toInterleaved(pix []byte, h, w int) []byte {
	plane := h * w
	out := make([]byte, 3*plane)
	for i := 0; i < plane; i++ {
		out[3*i] = pix[i]
		out[3*i+1] = pix[plane+i]
		out[3*i+2] = pix[2*plane+i]
	}
	return out
}

// convert from row, column, channel order to channel, row, column
func toPlanar(pix []byte, h, w int) []byte {
	plane := h * w
	out := make([]byte, 3*plane)
	for i := 0; i < plane; i++ {
		out[i] = pix[3*i]
		out[plane+i] = pix[3*i+1]
		out[2*plane+i] = pix[3*i+2]
	}
	return out
}
