package nnet

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointName(t *testing.T) {
	assert.Equal(t, "weights.ep003.val0.253.gob", CheckpointName(3, 0.2531))
	assert.Equal(t, "weights.ep120.val1.000.gob", CheckpointName(120, 1))
	assert.Equal(t, "weights.ep1000.val0.500.gob", CheckpointName(1000, 0.5))
}

func TestParseCheckpoint(t *testing.T) {
	epoch, acc, ok := ParseCheckpoint("weights.ep012.val0.734.gob")
	require.True(t, ok)
	assert.Equal(t, 12, epoch)
	assert.Equal(t, 0.734, acc)

	for _, name := range []string{"weights.ep12.val0.734.gob", "weights.ep012.val0.73.gob", "weights.ep012.val0.734.h5", "history.json"} {
		_, _, ok = ParseCheckpoint(name)
		assert.False(t, ok, name)
	}
}

func TestLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	name, epoch, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, "", name)
	assert.Equal(t, 0, epoch)

	for _, f := range []string{CheckpointName(2, 0.5), CheckpointName(10, 0.4), CheckpointName(9, 0.6), ArchFile, "weights.ep099.tmp"} {
		require.NoError(t, os.WriteFile(path.Join(dir, f), nil, 0644))
	}
	name, epoch, err = LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, CheckpointName(10, 0.4), name)
	assert.Equal(t, 10, epoch)

	_, _, err = LatestCheckpoint(path.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestCheckpointInterval(t *testing.T) {
	dir := t.TempDir()
	model := &testModel{}
	cp := NewCheckpointer(dir, 2, model)
	for epoch := 4; epoch <= 8; epoch++ {
		require.NoError(t, cp.EpochEnd(Stats{Epoch: epoch, ValAcc: 0.1 * float64(epoch)}))
	}
	assert.Equal(t, []string{CheckpointName(5, 0.5), CheckpointName(7, 0.7)}, model.saved)
	assert.FileExists(t, path.Join(dir, CheckpointName(7, 0.7)))

	model = &testModel{}
	cp = NewCheckpointer(dir, 1, model)
	for epoch := 1; epoch <= 3; epoch++ {
		require.NoError(t, cp.EpochEnd(Stats{Epoch: epoch}))
	}
	assert.Len(t, model.saved, 3)
}
