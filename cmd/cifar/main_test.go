package main

import (
	"bytes"
	"context"
	"os"
	"path"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wencoast/DeepLearning/nnet"
	"github.com/wencoast/DeepLearning/web"
)

func parse(t *testing.T, args ...string) nnet.Config {
	v := viper.New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addFlags(flags, nnet.DefaultConfig())
	require.NoError(t, flags.Parse(args))
	require.NoError(t, loadConfig(v, flags))
	return configFromViper(v)
}

func TestDefaults(t *testing.T) {
	c := parse(t)
	assert.Equal(t, nnet.DefaultConfig(), c)
}

func TestFlags(t *testing.T) {
	c := parse(t, "--model_name", "run1", "--architecture", "lenet5", "--dataset", "cifar10",
		"--batch_size", "32", "--n_epochs", "5", "--save_interval", "2", "--optimizer", "sgd", "--pretrained")
	assert.Equal(t, "run1", c.Model)
	assert.Equal(t, "lenet5", c.Arch)
	assert.Equal(t, "cifar10", c.DataSet)
	assert.Equal(t, 32, c.TrainBatch)
	assert.Equal(t, 5, c.MaxEpoch)
	assert.Equal(t, 2, c.SaveInterval)
	assert.Equal(t, "sgd", c.Optimizer)
	assert.True(t, c.Pretrained)
}

func TestEnvAndConfigFile(t *testing.T) {
	t.Setenv("CIFAR_N_EPOCHS", "7")
	file := path.Join(t.TempDir(), "cifar.yaml")
	require.NoError(t, os.WriteFile(file, []byte("architecture: simple_conv\nbatch_size: 16\n"), 0644))
	c := parse(t, "--config", file, "--batch_size", "8")
	assert.Equal(t, 7, c.MaxEpoch)
	assert.Equal(t, "simple_conv", c.Arch)
	assert.Equal(t, 8, c.TrainBatch)
}

func TestArchsCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"archs"})
	require.NoError(t, cmd.Execute())
	for _, name := range nnet.ArchNames() {
		assert.Contains(t, out.String(), name)
	}
}

func TestInvalidConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--dataset", "mnist"})
	assert.Error(t, cmd.Execute())
}

func TestImportWeightsCmd(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"import-weights", "--architecture", "lenet5", "--weights_dir", t.TempDir(), t.TempDir()})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not have a backbone")

	cmd = newRootCmd()
	cmd.SetArgs([]string{"import-weights"})
	assert.Error(t, cmd.Execute())
}

func TestStopEndsMonitor(t *testing.T) {
	conf := nnet.DefaultConfig()
	conf.ModelsDir = t.TempDir()
	conf, err := conf.Validate()
	require.NoError(t, err)
	run, err := nnet.OpenRun(conf)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon := web.NewMonitor(conf, run, nil, cancel)
	errc := startMonitor(ctx, mon, web.Options{Addr: "127.0.0.1:0"})
	require.True(t, mon.Stop())
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("web server still running after stop")
	}
}
