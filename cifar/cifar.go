// Package cifar loads the CIFAR-10 and CIFAR-100 image data sets in their binary format.
package cifar

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/wencoast/DeepLearning/img"
)

const (
	imageWidth  = 32
	imageHeight = 32
	imageSize   = imageWidth * imageHeight * 3
)

// Layout of one of the data sets
type Format struct {
	Name       string
	URL        string
	Dir        string
	Classes    int
	LabelBytes int
	LabelIndex int
	ClassFile  string
	TrainFiles []string
	TestFiles  []string
}

// Supported data sets
var Formats = map[string]Format{
	"cifar10": {
		Name:       "cifar10",
		URL:        "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz",
		Dir:        "cifar-10-batches-bin",
		Classes:    10,
		LabelBytes: 1,
		LabelIndex: 0,
		ClassFile:  "batches.meta.txt",
		TrainFiles: []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"},
		TestFiles:  []string{"test_batch.bin"},
	},
	"cifar100": {
		Name:       "cifar100",
		URL:        "https://www.cs.toronto.edu/~kriz/cifar-100-binary.tar.gz",
		Dir:        "cifar-100-binary",
		Classes:    100,
		LabelBytes: 2,
		LabelIndex: 1,
		ClassFile:  "fine_label_names.txt",
		TrainFiles: []string{"train.bin"},
		TestFiles:  []string{"test.bin"},
	},
}

// Load the train and test sets for the named data set from dataDir. Decoded data is cached in gob
// format. If download is set then any missing files are fetched first.
func Load(name, dataDir string, download bool) (train, test *img.Data, err error) {
	f, ok := Formats[name]
	if !ok {
		return nil, nil, errors.Errorf("unknown dataset %q", name)
	}
	train, errTrain := LoadDataFile(dataDir, name+"_train")
	test, errTest := LoadDataFile(dataDir, name+"_test")
	if errTrain == nil && errTest == nil {
		return train, test, nil
	}
	if download {
		if err = Download(f, dataDir); err != nil {
			return nil, nil, err
		}
	}
	if train, test, err = f.Read(dataDir); err != nil {
		return nil, nil, err
	}
	if err = SaveDataFile(dataDir, name+"_train", train); err != nil {
		return nil, nil, err
	}
	if err = SaveDataFile(dataDir, name+"_test", test); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// Read the binary files for the data set from the extracted directory under dataDir
func (f Format) Read(dataDir string) (train, test *img.Data, err error) {
	dir := path.Join(dataDir, f.Dir)
	classes, err := readClasses(path.Join(dir, f.ClassFile), f.Classes)
	if err != nil {
		return nil, nil, err
	}
	if train, err = f.readFiles(dir, f.TrainFiles, classes); err != nil {
		return nil, nil, err
	}
	if test, err = f.readFiles(dir, f.TestFiles, classes); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func (f Format) readFiles(dir string, files []string, classes []string) (*img.Data, error) {
	var data *img.Data
	for _, name := range files {
		fh, err := os.Open(path.Join(dir, name))
		if err != nil {
			return nil, errors.Wrap(err, "read dataset")
		}
		d, err := f.ReadBatch(fh, classes)
		fh.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		log.Printf("read %d images from %s\n", d.Len(), name)
		if data == nil {
			data = d
		} else if err = data.Append(d); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Read a batch of labelled images in binary format. Each record has the label bytes followed by
// the red, green and blue planes.
func (f Format) ReadBatch(r io.Reader, classes []string) (*img.Data, error) {
	recordSize := f.LabelBytes + imageSize
	br := bufio.NewReader(r)
	var labels []int32
	var pixels []byte
	record := make([]byte, recordSize)
	for {
		n, err := io.ReadFull(br, record)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Errorf("incomplete read: expected %d bytes got %d", recordSize, n)
		}
		if err != nil {
			return nil, err
		}
		label := int32(record[f.LabelIndex])
		if int(label) >= f.Classes {
			return nil, errors.Errorf("record %d: label %d out of range", len(labels), label)
		}
		labels = append(labels, label)
		pixels = append(pixels, record[f.LabelBytes:]...)
	}
	return img.NewData(classes, []int{imageHeight, imageWidth, 3}, labels, pixels)
}

// load class descriptions from file, or use numbers if the file is missing
func readClasses(name string, n int) ([]string, error) {
	classes := []string{}
	f, err := os.Open(name)
	if os.IsNotExist(err) {
		for i := 0; i < n; i++ {
			classes = append(classes, fmt.Sprint(i))
		}
		return classes, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read classes")
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	if err = s.Err(); err != nil {
		return nil, errors.Wrap(err, "read classes")
	}
	if len(classes) != n {
		return nil, errors.Errorf("%s: expecting %d classes, got %d", name, n, len(classes))
	}
	return classes, nil
}

// Decode data from file in gob format under dataDir
func LoadDataFile(dataDir, name string) (*img.Data, error) {
	f, err := os.Open(path.Join(dataDir, name+".dat"))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	d := new(img.Data)
	if err = gob.NewDecoder(bufio.NewReader(f)).Decode(d); err != nil {
		return nil, errors.Wrapf(err, "decode %s.dat", name)
	}
	log.Printf("loaded data from %s.dat: %v", name, append(d.Shape(), d.Len()))
	return d, nil
}

// Encode in gob format and save to file under dataDir
func SaveDataFile(dataDir, name string, d *img.Data) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return errors.WithStack(err)
	}
	filePath := path.Join(dataDir, name+".dat")
	f, err := os.Create(filePath + ".tmp")
	if err != nil {
		return errors.WithStack(err)
	}
	log.Println("saving data to", name+".dat")
	w := bufio.NewWriter(f)
	if err = gob.NewEncoder(w).Encode(d); err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "save %s.dat", name)
	}
	return errors.WithStack(os.Rename(filePath+".tmp", filePath))
}
