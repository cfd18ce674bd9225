package main

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/wencoast/DeepLearning/cifar"
	"github.com/wencoast/DeepLearning/img"
	"github.com/wencoast/DeepLearning/nnet"
	"github.com/wencoast/DeepLearning/torchnet"
	"github.com/wencoast/DeepLearning/web"
)

func serveOptions(v *viper.Viper) web.Options {
	return web.Options{Addr: v.GetString("serve"), Auth: v.GetBool("auth"), Password: v.GetString("password")}
}

// Load the data, open or resume the model and train it for the configured number of epochs.
func train(ctx context.Context, conf nnet.Config, opts web.Options) error {
	if conf.DebugLevel >= 1 {
		log.Println(conf)
	}
	seed := conf.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	trainData, testData, err := cifar.Load(conf.DataSet, conf.DataDir, true)
	if err != nil {
		return err
	}
	run, err := nnet.OpenRun(conf)
	if err != nil {
		return err
	}
	model, err := torchnet.Engine{}.Compile(run.Arch, conf)
	if err != nil {
		return err
	}
	defer model.Release()
	if run.Weights != "" {
		if err = model.LoadWeights(run.Weights); err != nil {
			return errors.Wrapf(err, "resume from %s", run.Weights)
		}
	}

	genOpts := img.Options{Rescale: conf.Rescale, Center: conf.Center, StdNorm: conf.StdNorm, HorizFlip: conf.HorizFlip, Shift: conf.Shift}
	trainGen := img.NewGenerator(trainData, genOpts, true, rng)
	testGen := img.NewGenerator(testData, genOpts, false, rng)
	if conf.Center || conf.StdNorm {
		trainGen.Fit()
	}
	if mean, std, ok := trainGen.Normalization(); ok {
		norm, ok := model.(nnet.Normalizer)
		if !ok {
			return errors.New("model does not support input normalisation")
		}
		norm.SetNormalization(mean, std)
	}
	log.Println(trainGen)
	trainSet := nnet.NewDataset(trainGen, conf.TrainBatch, 0, rng)
	testSet := nnet.NewDataset(testGen, conf.TrainBatch, 0, rng)

	callbacks, err := run.Callbacks(conf, model)
	if err != nil {
		return err
	}
	callbacks = append([]nnet.Callback{&nnet.Logger{Every: conf.LogEvery}}, callbacks...)

	trainCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var mon *web.Monitor
	var serveErr <-chan error
	if opts.Addr != "" {
		data := map[string]*img.Data{"train": trainData, "test": testData}
		mon = web.NewMonitor(conf, run, data, cancel)
		callbacks = append(callbacks, mon)
		serveErr = startMonitor(trainCtx, mon, opts)
	}

	fitOpts := nnet.FitOptions{InitialEpoch: run.InitialEpoch, Epochs: conf.MaxEpoch, Shuffle: true, DebugLevel: conf.DebugLevel}
	_, err = nnet.Fit(trainCtx, model, trainSet, testSet, fitOpts, callbacks...)
	switch {
	case errors.Is(err, context.Canceled):
		log.Println("training stopped")
	case err != nil:
		return err
	default:
		log.Println("training complete")
	}
	if mon == nil {
		return nil
	}
	mon.Done()
	if trainCtx.Err() == nil {
		log.Println("web monitor running: interrupt to exit")
	}
	return <-serveErr
}

// Serve the web monitor until ctx is done. ctx is the training context, so the stop action and
// interrupts both shut the server down.
func startMonitor(ctx context.Context, mon *web.Monitor, opts web.Options) <-chan error {
	errc := make(chan error, 1)
	log.Printf("serving web monitor at http://localhost%s", opts.Addr)
	go func() { errc <- web.Serve(ctx, mon, opts) }()
	return errc
}
