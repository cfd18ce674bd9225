package nnet

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/wencoast/DeepLearning/stats"
)

// Number of epochs for the moving average of the validation accuracy
const emaEpochs = 10

// Column headings for the training statistics
var StatsHeaders = []string{"loss", "acc", "val loss", "val acc", "val avg"}

// Training statistics for one epoch
type Stats struct {
	Epoch   int
	Loss    float64
	Acc     float64
	ValLoss float64
	ValAcc  float64
	ValAvg  float64
	Elapsed time.Duration
}

func (s Stats) Values() []float64 {
	return []float64{s.Loss, s.Acc, s.ValLoss, s.ValAcc, s.ValAvg}
}

func (s Stats) Format() []string {
	return []string{
		fmt.Sprintf("%7.4f", s.Loss),
		fmt.Sprintf("%6.2f%%", s.Acc*100),
		fmt.Sprintf("%7.4f", s.ValLoss),
		fmt.Sprintf("%6.2f%%", s.ValAcc*100),
		fmt.Sprintf("%6.2f%%", s.ValAvg*100),
	}
}

func (s Stats) String() string {
	msg := fmt.Sprintf("epoch %3d:", s.Epoch)
	for i, val := range s.Format() {
		msg += fmt.Sprintf("  %s =%s", StatsHeaders[i], val)
	}
	return msg
}

// Callback interface is called at the end of each epoch, returning an error stops training.
type Callback interface {
	EpochEnd(s Stats) error
}

// CallbackFunc adapts a function to the Callback interface
type CallbackFunc func(s Stats) error

func (f CallbackFunc) EpochEnd(s Stats) error { return f(s) }

// Options for the Fit function. Epochs are numbered from InitialEpoch+1.
type FitOptions struct {
	InitialEpoch int
	Epochs       int
	Shuffle      bool
	DebugLevel   int
}

// Train the model on the training set for the given number of epochs, evaluating on the test set
// after each epoch. Returns the stats for each epoch completed.
func Fit(ctx context.Context, model Model, train, test *Dataset, opts FitOptions, callbacks ...Callback) ([]Stats, error) {
	if train.Batches == 0 || test.Batches == 0 {
		return nil, errors.New("fit: empty dataset")
	}
	var history []Stats
	var valAvg stats.EMA
	start := time.Now()
	for epoch := opts.InitialEpoch + 1; epoch <= opts.InitialEpoch+opts.Epochs; epoch++ {
		s := Stats{Epoch: epoch}
		var err error
		if s.Loss, s.Acc, err = TrainEpoch(ctx, model, train, opts); err != nil {
			return history, err
		}
		if s.ValLoss, s.ValAcc, err = Evaluate(ctx, model, test); err != nil {
			return history, err
		}
		s.ValAvg = valAvg.Add(s.ValAcc, emaEpochs)
		valAvg = stats.EMA(s.ValAvg)
		s.Elapsed = time.Since(start)
		history = append(history, s)
		for _, cb := range callbacks {
			if err = cb.EpochEnd(s); err != nil {
				return history, err
			}
		}
	}
	return history, nil
}

// Perform one training epoch on dataset, returns the mean loss and accuracy.
func TrainEpoch(ctx context.Context, model Model, dset *Dataset, opts FitOptions) (loss, acc float64, err error) {
	dset.NextEpoch(opts.Shuffle)
	var batchLoss stats.Average
	total, correct := 0, 0
	for batch := 0; batch < dset.Batches; batch++ {
		if err = ctx.Err(); err != nil {
			dset.Release()
			return
		}
		b := dset.NextBatch()
		l, c, err := model.TrainBatch(b)
		if err != nil {
			dset.Release()
			return 0, 0, errors.Wrapf(err, "train batch %d", batch)
		}
		batchLoss.Add(l / float64(b.Size))
		loss += l
		correct += c
		total += b.Size
		if opts.DebugLevel >= 2 || (opts.DebugLevel == 1 && batch%100 == 0) {
			log.Printf("batch %4d/%d: loss=%.4f avg=%s", batch, dset.Batches, l/float64(b.Size), batchLoss.String())
		}
	}
	dset.Release()
	return loss / float64(total), float64(correct) / float64(total), nil
}

// Evaluate the model on each batch of the dataset, returns the mean loss and accuracy.
func Evaluate(ctx context.Context, model Model, dset *Dataset) (loss, acc float64, err error) {
	dset.NextEpoch(false)
	total, correct := 0, 0
	for batch := 0; batch < dset.Batches; batch++ {
		if err = ctx.Err(); err != nil {
			dset.Release()
			return
		}
		b := dset.NextBatch()
		l, c, err := model.TestBatch(b)
		if err != nil {
			dset.Release()
			return 0, 0, errors.Wrapf(err, "test batch %d", batch)
		}
		loss += l
		correct += c
		total += b.Size
	}
	dset.Release()
	return loss / float64(total), float64(correct) / float64(total), nil
}

// Logger callback prints the stats every n epochs.
type Logger struct {
	Every  int
	header bool
}

func (l *Logger) EpochEnd(s Stats) error {
	if !l.header {
		log.Println("== Training ==", strings.Join(StatsHeaders, " | "))
		l.header = true
	}
	if l.Every <= 1 || s.Epoch%l.Every == 0 {
		log.Println(s)
		log.Printf("run time: %s\n", s.Elapsed.Round(10*time.Millisecond))
	}
	return nil
}
