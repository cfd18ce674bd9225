package cifar

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(labels []byte, fill byte) []byte {
	rec := append([]byte{}, labels...)
	return append(rec, bytes.Repeat([]byte{fill}, imageSize)...)
}

func writeBatch(t *testing.T, dir, name string, recs ...[]byte) {
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path.Join(dir, name), bytes.Join(recs, nil), 0644))
}

func TestReadBatch10(t *testing.T) {
	f := Formats["cifar10"]
	buf := bytes.Join([][]byte{record([]byte{3}, 1), record([]byte{9}, 2)}, nil)
	d, err := f.ReadBatch(bytes.NewReader(buf), make([]string, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []int32{3, 9}, d.Labels)
	assert.Equal(t, []int{32, 32, 3}, d.Shape())
	assert.Equal(t, byte(2), d.ImageBytes(1)[imageSize-1])
}

func TestReadBatch100UsesFineLabel(t *testing.T) {
	f := Formats["cifar100"]
	buf := record([]byte{4, 77}, 0)
	d, err := f.ReadBatch(bytes.NewReader(buf), make([]string, 100))
	require.NoError(t, err)
	assert.Equal(t, []int32{77}, d.Labels)
}

func TestReadBatchErrors(t *testing.T) {
	f := Formats["cifar10"]
	_, err := f.ReadBatch(bytes.NewReader(record([]byte{1}, 0)[:100]), make([]string, 10))
	assert.Error(t, err)
	_, err = f.ReadBatch(bytes.NewReader(record([]byte{12}, 0)), make([]string, 10))
	assert.Error(t, err)
}

func TestLoadAndCache(t *testing.T) {
	dataDir := t.TempDir()
	f := Formats["cifar10"]
	dir := path.Join(dataDir, f.Dir)
	for i, name := range f.TrainFiles {
		writeBatch(t, dir, name, record([]byte{byte(i)}, byte(i)))
	}
	writeBatch(t, dir, "test_batch.bin", record([]byte{7}, 7), record([]byte{8}, 8))
	names := "airplane\nautomobile\nbird\ncat\ndeer\ndog\nfrog\nhorse\nship\ntruck\n"
	require.NoError(t, os.WriteFile(path.Join(dir, f.ClassFile), []byte(names), 0644))

	train, test, err := Load("cifar10", dataDir, false)
	require.NoError(t, err)
	assert.Equal(t, 5, train.Len())
	assert.Equal(t, 2, test.Len())
	assert.Equal(t, "truck", train.Class[9])
	assert.FileExists(t, path.Join(dataDir, "cifar10_train.dat"))

	// second load comes from the cache
	require.NoError(t, os.RemoveAll(dir))
	train2, test2, err := Load("cifar10", dataDir, false)
	require.NoError(t, err)
	assert.Equal(t, train.Labels, train2.Labels)
	assert.Equal(t, test.Pixels, test2.Pixels)
}

func TestLoadErrors(t *testing.T) {
	_, _, err := Load("mnist", t.TempDir(), false)
	assert.Error(t, err)
	_, _, err = Load("cifar100", t.TempDir(), false)
	assert.Error(t, err)
}

func TestClassesDefault(t *testing.T) {
	classes, err := readClasses(path.Join(t.TempDir(), "missing.txt"), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, classes)
}

func testArchive(t *testing.T, content []byte) *bytes.Buffer {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "sub/", Typeflag: tar.TypeDir, Mode: 0755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "sub/a.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

func TestExtract(t *testing.T) {
	content := []byte("hello")
	dir := t.TempDir()
	require.NoError(t, Extract(testArchive(t, content), dir))
	data, err := os.ReadFile(path.Join(dir, "sub", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestExtractWorkingDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	content := []byte("hello")
	for _, d := range []string{".", ""} {
		require.NoError(t, Extract(testArchive(t, content), d), "dir %q", d)
		data, err := os.ReadFile(path.Join(dir, "sub", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, content, data)
	}
}

func TestExtractRejectsEscape(t *testing.T) {
	for _, name := range []string{"../evil", "sub/../../evil", "/../evil"} {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		tw := tar.NewWriter(gz)
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0644}))
		require.NoError(t, tw.Close())
		require.NoError(t, gz.Close())
		assert.Error(t, Extract(&buf, t.TempDir()), name)
	}
	_, err := archivePath(".", "..")
	assert.Error(t, err)
}
