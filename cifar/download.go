package cifar

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Download the archive for the data set and extract it under dataDir. Does nothing if all of the
// binary files are already present.
func Download(f Format, dataDir string) error {
	if f.present(dataDir) {
		return nil
	}
	log.Println("downloading", f.URL)
	resp, err := http.Get(f.URL)
	if err != nil {
		return errors.Wrap(err, "download")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download %s: %s", f.URL, resp.Status)
	}
	return Extract(resp.Body, dataDir)
}

func (f Format) present(dataDir string) bool {
	for _, name := range append(append([]string{}, f.TrainFiles...), f.TestFiles...) {
		if _, err := os.Stat(path.Join(dataDir, f.Dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Extract a gzipped tar archive under dir
func Extract(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "extract")
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "extract")
		}
		target, err := archivePath(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, 0755); err != nil {
				return errors.WithStack(err)
			}
		case tar.TypeReg:
			if err = writeFile(target, tr); err != nil {
				return err
			}
		}
	}
}

// join name to dir, rejecting names which would land outside of it
func archivePath(dir, name string) (string, error) {
	base := filepath.Clean(dir)
	target := filepath.Join(base, name)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", errors.Errorf("extract: invalid path %q in archive", name)
	}
	return target, nil
}

func writeFile(name string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return errors.WithStack(err)
	}
	f, err := os.Create(name)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return errors.Wrapf(err, "extract %s", name)
	}
	log.Println("extracted", name)
	return errors.WithStack(f.Close())
}
