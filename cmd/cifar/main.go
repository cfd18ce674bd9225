// Train convolutional networks on the CIFAR-10 and CIFAR-100 image data sets.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wencoast/DeepLearning/cifar"
	"github.com/wencoast/DeepLearning/nnet"
	"github.com/wencoast/DeepLearning/torchnet"
)

func main() {
	log.SetFlags(0)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	nnet.CheckErr(err)
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "cifar",
		Short:         "Train a convolutional network on CIFAR-10 or CIFAR-100",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := configFromViper(v).Validate()
			if err != nil {
				return err
			}
			return train(cmd.Context(), conf, serveOptions(v))
		},
	}
	addFlags(cmd.PersistentFlags(), nnet.DefaultConfig())
	cmd.AddCommand(newArchsCmd(), newDownloadCmd(v), newImportCmd(v))
	return cmd
}

func addFlags(f *pflag.FlagSet, c nnet.Config) {
	f.String("model_name", c.Model, "name of the model directory, "+nnet.TestModel+" is never saved")
	f.String("architecture", c.Arch, "network architecture: "+strings.Join(nnet.ArchNames(), ", "))
	f.Bool("pretrained", c.Pretrained, "use pretrained imagenet weights for the backbone")
	f.String("dataset", c.DataSet, "dataset: cifar10 or cifar100")
	f.Int("save_interval", c.SaveInterval, "epochs between checkpoints")
	f.Int("batch_size", c.TrainBatch, "training batch size")
	f.Int("n_epochs", c.MaxEpoch, "number of epochs to train")
	f.String("optimizer", c.Optimizer, "optimizer: "+strings.Join(nnet.OptimizerNames(), ", "))
	f.Float64("lr", c.Eta, "learning rate")
	f.Float64("decay", c.Decay, "learning rate decay per batch")
	f.Float64("momentum", c.Momentum, "momentum for sgd")
	f.Int64("seed", c.RandSeed, "random number seed, 0 for random")
	f.Bool("gpu", c.UseGPU, "use Cuda GPU acceleration if available")
	f.String("models_dir", c.ModelsDir, "directory for saved models")
	f.String("data_dir", c.DataDir, "directory for downloaded data")
	f.String("weights_dir", c.WeightsDir, "directory for pretrained backbone weights")
	f.Float64("rescale", c.Rescale, "scale factor applied to pixel values, 0 for none")
	f.Bool("center", c.Center, "subtract the per channel mean")
	f.Bool("std_norm", c.StdNorm, "divide by the per channel standard deviation")
	f.Bool("flip", c.HorizFlip, "random horizontal flips of training images")
	f.Int("shift", c.Shift, "max random shift of training images in pixels")
	f.Int("log_every", c.LogEvery, "log stats every n epochs")
	f.Int("debug", c.DebugLevel, "debug logging level")
	f.String("serve", "", "address for the web monitor, e.g. :8080")
	f.Bool("auth", false, "require login to the web monitor")
	f.String("password", "", "web monitor password, else login with system accounts")
	f.String("config", "", "config file with default settings")
}

// bind flags, CIFAR_ environment variables and the optional config file
func loadConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return errors.WithStack(err)
	}
	v.SetEnvPrefix("cifar")
	v.AutomaticEnv()
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrap(err, "read config")
		}
		log.Println("using config file", v.ConfigFileUsed())
	}
	return nil
}

func configFromViper(v *viper.Viper) nnet.Config {
	return nnet.Config{
		Model:        v.GetString("model_name"),
		Arch:         v.GetString("architecture"),
		Pretrained:   v.GetBool("pretrained"),
		DataSet:      v.GetString("dataset"),
		SaveInterval: v.GetInt("save_interval"),
		TrainBatch:   v.GetInt("batch_size"),
		MaxEpoch:     v.GetInt("n_epochs"),
		Optimizer:    v.GetString("optimizer"),
		Eta:          v.GetFloat64("lr"),
		Decay:        v.GetFloat64("decay"),
		Momentum:     v.GetFloat64("momentum"),
		Rescale:      v.GetFloat64("rescale"),
		Center:       v.GetBool("center"),
		StdNorm:      v.GetBool("std_norm"),
		HorizFlip:    v.GetBool("flip"),
		Shift:        v.GetInt("shift"),
		RandSeed:     v.GetInt64("seed"),
		UseGPU:       v.GetBool("gpu"),
		LogEvery:     v.GetInt("log_every"),
		DebugLevel:   v.GetInt("debug"),
		ModelsDir:    v.GetString("models_dir"),
		DataDir:      v.GetString("data_dir"),
		WeightsDir:   v.GetString("weights_dir"),
	}
}

func newArchsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archs",
		Short: "List the available architectures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range nnet.ArchNames() {
				desc := ""
				if nnet.IsPrebuilt(name) {
					desc = "(pretrained backbone available)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", name, desc)
			}
			return nil
		},
	}
}

func newDownloadCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download and decode the dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, dir := v.GetString("dataset"), v.GetString("data_dir")
			train, test, err := cifar.Load(name, dir, true)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d training and %d test images in %s\n", name, train.Len(), test.Len(), dir)
			return nil
		},
	}
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "import-weights <dir>",
		Short: "Convert pretrained backbone tensors saved one per file in dir to the weights directory",
		Long: "Each file in dir holds one tensor saved with torch.save, read in file name order.\n" +
			"For every backbone layer the order is weight, bias, running mean, running variance.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := configFromViper(v).Validate()
			if err != nil {
				return err
			}
			file, err := torchnet.ImportBackbone(conf, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s backbone weights saved to %s\n", conf.Arch, file)
			return nil
		},
	}
}
