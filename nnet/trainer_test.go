package nnet

import (
	"bytes"
	"context"
	"log"
	"math/rand"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatasets() (train, test *Dataset) {
	rng := rand.New(rand.NewSource(1))
	return NewDataset(testData{n: 10, classes: 3}, 4, 0, rng), NewDataset(testData{n: 6, classes: 3}, 4, 0, rng)
}

func TestFit(t *testing.T) {
	train, test := testDatasets()
	model := &testModel{}
	var epochs []int
	cb := CallbackFunc(func(s Stats) error {
		epochs = append(epochs, s.Epoch)
		return nil
	})
	history, err := Fit(context.Background(), model, train, test, FitOptions{InitialEpoch: 3, Epochs: 2, Shuffle: true}, &Logger{Every: 1}, cb)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, epochs)
	require.Len(t, history, 2)
	assert.Equal(t, 20, model.trained)
	assert.Equal(t, 12, model.tested)
	s := history[1]
	assert.InDelta(t, 1.0, s.Loss, 1e-9)
	assert.InDelta(t, 0.5, s.Acc, 1e-9)
	assert.InDelta(t, 0.5, s.ValLoss, 1e-9)
	assert.InDelta(t, 0.5, s.ValAcc, 1e-9)
	assert.InDelta(t, 0.5, s.ValAvg, 1e-9)
	t.Log(s)
}

func TestTrainEpochDebugLog(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	train, _ := testDatasets()
	loss, acc, err := TrainEpoch(context.Background(), &testModel{}, train, FitOptions{DebugLevel: 2})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, loss, 1e-9)
	assert.InDelta(t, 0.5, acc, 1e-9)
	assert.Contains(t, buf.String(), "batch    0/")
	assert.Contains(t, buf.String(), "loss=1.0000 avg=1.00")
}

func TestFitNoEpochs(t *testing.T) {
	train, test := testDatasets()
	history, err := Fit(context.Background(), &testModel{}, train, test, FitOptions{InitialEpoch: 5})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestFitCheckpoints(t *testing.T) {
	c := testConfig(t, "fit", "lenet5")
	c.SaveInterval = 2
	r, err := OpenRun(c)
	require.NoError(t, err)
	model := &testModel{}
	callbacks, err := r.Callbacks(c, model)
	require.NoError(t, err)
	train, test := testDatasets()
	_, err = Fit(context.Background(), model, train, test, FitOptions{Epochs: 5}, callbacks...)
	require.NoError(t, err)
	assert.Equal(t, []string{CheckpointName(2, 0.5), CheckpointName(4, 0.5)}, model.saved)

	entries, err := LoadHistory(r.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	// resume continues from the last checkpoint
	r, err = OpenRun(c)
	require.NoError(t, err)
	assert.Equal(t, 4, r.InitialEpoch)
}

func TestFitCancel(t *testing.T) {
	train, test := testDatasets()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cb := CallbackFunc(func(s Stats) error {
		cancel()
		return nil
	})
	history, err := Fit(ctx, &testModel{}, train, test, FitOptions{Epochs: 10}, cb)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, history, 1)
}

func TestFitCallbackError(t *testing.T) {
	train, test := testDatasets()
	cb := CallbackFunc(func(s Stats) error {
		return os.ErrPermission
	})
	history, err := Fit(context.Background(), &testModel{}, train, test, FitOptions{Epochs: 3}, cb)
	assert.Equal(t, os.ErrPermission, err)
	assert.Len(t, history, 1)
}

func TestFitEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	empty := NewDataset(testData{n: 0, classes: 3}, 4, 0, rng)
	_, test := testDatasets()
	_, err := Fit(context.Background(), &testModel{}, empty, test, FitOptions{Epochs: 1})
	assert.Error(t, err)
}
