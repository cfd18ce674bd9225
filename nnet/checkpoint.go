package nnet

import (
	"fmt"
	"log"
	"os"
	"path"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// File extension for saved weights
const WeightsExt = ".gob"

var checkpointRe = regexp.MustCompile(`^weights\.ep(\d{3,})\.val(\d+\.\d{3})` + regexp.QuoteMeta(WeightsExt) + `$`)

// Checkpoint file name for the given epoch and validation accuracy.
func CheckpointName(epoch int, valAcc float64) string {
	return fmt.Sprintf("weights.ep%03d.val%.3f%s", epoch, valAcc, WeightsExt)
}

// Extract the epoch and validation accuracy from a checkpoint file name.
func ParseCheckpoint(name string) (epoch int, valAcc float64, ok bool) {
	m := checkpointRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	var err error
	if epoch, err = strconv.Atoi(m[1]); err != nil {
		return 0, 0, false
	}
	if valAcc, err = strconv.ParseFloat(m[2], 64); err != nil {
		return 0, 0, false
	}
	return epoch, valAcc, true
}

// Find the checkpoint with the highest epoch in the directory. Returns an empty name if there are none.
func LatestCheckpoint(dir string) (name string, epoch int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, errors.Wrap(err, "list checkpoints")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ep, _, ok := ParseCheckpoint(e.Name()); ok && (name == "" || ep > epoch) {
			name, epoch = e.Name(), ep
		}
	}
	return name, epoch, nil
}

// Checkpointer callback saves the model weights every Interval epochs.
type Checkpointer struct {
	Dir       string
	Interval  int
	Model     Model
	sinceLast int
}

// Create a new checkpoint callback
func NewCheckpointer(dir string, interval int, model Model) *Checkpointer {
	if interval <= 0 {
		interval = 1
	}
	return &Checkpointer{Dir: dir, Interval: interval, Model: model}
}

func (c *Checkpointer) EpochEnd(s Stats) error {
	c.sinceLast++
	if c.sinceLast < c.Interval {
		return nil
	}
	c.sinceLast = 0
	file := path.Join(c.Dir, CheckpointName(s.Epoch, s.ValAcc))
	log.Println("saving weights to", file)
	return errors.Wrap(c.Model.SaveWeights(file), "checkpoint")
}
