package nnet

import (
	"encoding/json"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// File name for the training history saved in each model directory.
const HistoryFile = "history.json"

// History entry for one epoch of a training run
type HistoryData struct {
	RunID string
	Arch  string
	Stats Stats
}

// History callback appends the stats for each epoch to the history file in the model directory.
type History struct {
	Dir     string
	RunID   string
	Arch    string
	Entries []HistoryData
}

// Load existing history from the directory and start a new run.
func NewHistory(dir, arch string) (*History, error) {
	h := &History{Dir: dir, RunID: uuid.NewString(), Arch: arch}
	var err error
	if h.Entries, err = LoadHistory(dir); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	return h, nil
}

// Load the history file from the model directory.
func LoadHistory(dir string) ([]HistoryData, error) {
	data, err := os.ReadFile(path.Join(dir, HistoryFile))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var entries []HistoryData
	if err = json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "decode %s", HistoryFile)
	}
	return entries, nil
}

func (h *History) EpochEnd(s Stats) error {
	h.Entries = append(h.Entries, HistoryData{RunID: h.RunID, Arch: h.Arch, Stats: s})
	data, err := json.MarshalIndent(h.Entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	tmp := path.Join(h.Dir, "."+HistoryFile)
	if err = os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "save history")
	}
	return errors.Wrap(os.Rename(tmp, path.Join(h.Dir, HistoryFile)), "save history")
}
