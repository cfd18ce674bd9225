package nnet

import (
	"math/rand"
	"sync"
)

// Data interface type represents the raw data for a training or test set
type Data interface {
	Len() int
	Classes() []string
	Shape() []int
	Label(index []int, label []int32)
	Input(index []int, buf []float32)
}

// Dataset type encapsulates a set of training or test data split into batches.
// The next batch is loaded in the background while the current one is in use.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	nfeat     int
	buffers   [2]*Batch
	indexes   []int
	buf       int
	epoch     int
	batch     int
	rng       *rand.Rand
	sync.WaitGroup
}

// Create a new Dataset struct, allocate buffers and set the batch size and maxSamples
func NewDataset(data Data, batchSize, maxSamples int, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), rng: rng}
	if maxSamples > 0 && d.Samples > maxSamples {
		d.Samples = maxSamples
	}
	if batchSize <= 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	if d.BatchSize > 0 {
		d.Batches = (d.Samples + d.BatchSize - 1) / d.BatchSize
	}
	shape := data.Shape()
	d.nfeat = Prod(shape)
	nclass := len(data.Classes())
	for i := range d.buffers {
		d.buffers[i] = &Batch{
			Shape:   []int{d.BatchSize, shape[2], shape[0], shape[1]},
			Input:   make([]float32, d.nfeat*d.BatchSize),
			Labels:  make([]int32, d.BatchSize),
			OneHot:  make([]float32, nclass*d.BatchSize),
			Classes: nclass,
		}
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	return d
}

// kick off load of next batch of data in background
func (d *Dataset) loadBatch() {
	b := d.buffers[d.buf]
	start := d.batch * d.BatchSize
	end := start + d.BatchSize
	if end > d.Samples {
		end = d.Samples
	}
	index := d.indexes[start:end]
	d.Add(1)
	go func() {
		defer d.Done()
		n := len(index)
		b.Size = n
		b.Shape[0] = n
		d.Input(index, b.Input[:n*d.nfeat])
		d.Label(index, b.Labels[:n])
		OneHot(b.Labels[:n], b.Classes, b.OneHot[:n*b.Classes])
	}()
}

// Get next batch of data. The batch is valid until the following call.
func (d *Dataset) NextBatch() *Batch {
	d.Wait()
	b := d.buffers[d.buf]
	d.batch = (d.batch + 1) % d.Batches
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	n := b.Size
	return &Batch{
		Size:    n,
		Shape:   b.Shape,
		Input:   b.Input[:n*d.nfeat],
		Labels:  b.Labels[:n],
		OneHot:  b.OneHot[:n*b.Classes],
		Classes: b.Classes,
	}
}

// Called at start of each epoch, reorders the samples if shuffle is set.
func (d *Dataset) NextEpoch(shuffle bool) {
	d.Wait()
	d.epoch++
	d.batch = 0
	if shuffle {
		d.Shuffle()
	}
	d.loadBatch()
}

// Shuffle the data set
func (d *Dataset) Shuffle() {
	d.indexes = d.rng.Perm(d.Len())[:d.Samples]
}

// Epochs started so far
func (d *Dataset) Epoch() int {
	return d.epoch
}

// Wait for any background load to complete
func (d *Dataset) Release() {
	d.Wait()
}

// Convert integer class labels to one hot encoded vectors.
func OneHot(labels []int32, classes int, out []float32) {
	for i := range out {
		out[i] = 0
	}
	for i, label := range labels {
		if label >= 0 && int(label) < classes {
			out[i*classes+int(label)] = 1
		}
	}
}
