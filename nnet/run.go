package nnet

import (
	"log"
	"os"
	"path"

	"github.com/pkg/errors"
)

// Run holds the architecture to train and where to resume from.
type Run struct {
	Dir          string
	Arch         Architecture
	Fresh        bool
	Persist      bool
	InitialEpoch int
	Weights      string
}

// Open the run for the model named in the config. The test model is always built from scratch
// and never saved. Otherwise a new model directory is created with the architecture descriptor,
// or an existing one is reloaded together with its latest checkpoint.
func OpenRun(c Config) (*Run, error) {
	if err := os.MkdirAll(c.ModelsDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create models directory")
	}
	r := &Run{Dir: c.ModelPath(), Persist: c.Persist()}
	var err error
	if !r.Persist {
		r.Fresh = true
		r.Arch, err = Build(c)
		return r, err
	}
	info, err := os.Stat(r.Dir)
	switch {
	case os.IsNotExist(err):
		return r, r.create(c)
	case err != nil:
		return nil, errors.Wrap(err, "open model")
	case !info.IsDir():
		return nil, errors.Errorf("model path %s is not a directory", r.Dir)
	}
	return r, r.reload(c)
}

func (r *Run) create(c Config) error {
	var err error
	if r.Arch, err = Build(c); err != nil {
		return err
	}
	if err = os.Mkdir(r.Dir, 0755); err != nil {
		return errors.Wrap(err, "create model directory")
	}
	r.Fresh = true
	log.Printf("new model %s: architecture %s", c.Model, r.Arch.Name)
	return r.Arch.Save(r.Dir)
}

func (r *Run) reload(c Config) error {
	var err error
	if r.Arch, err = LoadArchitecture(r.Dir); err != nil {
		return errors.Wrapf(err, "model %s", c.Model)
	}
	if r.Arch.Outputs != c.Outputs {
		return errors.Errorf("model %s has %d outputs but dataset %s has %d classes", c.Model, r.Arch.Outputs, c.DataSet, c.Outputs)
	}
	if r.Arch.Name != c.Arch {
		log.Printf("model %s uses architecture %s: ignoring %s", c.Model, r.Arch.Name, c.Arch)
	}
	name, epoch, err := LatestCheckpoint(r.Dir)
	if err != nil {
		return err
	}
	if name != "" {
		r.Weights = path.Join(r.Dir, name)
		r.InitialEpoch = epoch
		log.Printf("resume model %s from %s at epoch %d", c.Model, name, epoch)
	} else {
		log.Printf("resume model %s: no checkpoints found, starting from epoch 0", c.Model)
	}
	return nil
}

// Callbacks to save the checkpoints and history for this run.
func (r *Run) Callbacks(c Config, model Model) ([]Callback, error) {
	if !r.Persist {
		return nil, nil
	}
	hist, err := NewHistory(r.Dir, r.Arch.Name)
	if err != nil {
		return nil, err
	}
	return []Callback{NewCheckpointer(r.Dir, c.SaveInterval, model), hist}, nil
}
