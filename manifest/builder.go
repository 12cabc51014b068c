package manifest

import (
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Lister enumerates the source files a manifest is built from.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Build writes one descriptor per (file, region) pair for every region in
// [0, numRegions) and returns the number written. A build producing no
// descriptors fails with ErrEmptyManifest.
func Build(ctx context.Context, lister Lister, w io.Writer, numRegions int) (int, error) {
	if numRegions <= 0 {
		return 0, errors.Errorf("num regions must be positive, got %d", numRegions)
	}

	files, err := lister.List(ctx)
	if err != nil {
		return 0, errors.WithMessage(err, "listing source files")
	}

	bw := bufio.NewWriter(w)
	numEntries := 0
	for _, path := range files {
		for r := 0; r < numRegions; r++ {
			if _, err := bw.WriteString(Encode(path, r) + "\n"); err != nil {
				return numEntries, errors.Wrap(err, "writing manifest")
			}
			numEntries++
		}
	}
	if err := bw.Flush(); err != nil {
		return numEntries, errors.Wrap(err, "writing manifest")
	}

	if numEntries == 0 {
		return 0, errors.WithMessage(ErrEmptyManifest, "no matching source files")
	}
	return numEntries, nil
}

// WriteFile builds the manifest into outputPath. The file is replaced
// atomically and left untouched if the build fails.
func WriteFile(ctx context.Context, lister Lister, outputPath string, numRegions int, verbose bool) (int, error) {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, errors.Wrapf(err, "creating manifest dir %s", dir)
	}

	tmp, err := ioutil.TempFile(dir, ".manifest_")
	if err != nil {
		return 0, errors.Wrap(err, "creating manifest temp file")
	}
	defer os.Remove(tmp.Name())

	n, err := Build(ctx, lister, tmp, numRegions)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "closing manifest")
	}
	if err != nil {
		return 0, err
	}

	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return 0, errors.Wrapf(err, "renaming manifest to %s", outputPath)
	}

	if verbose {
		log.Printf("manifest: wrote %d descriptors to %s", n, outputPath)
	}
	return n, nil
}

// StaticLister lists a fixed set of paths.
type StaticLister []string

func (s StaticLister) List(ctx context.Context) ([]string, error) {
	return []string(s), nil
}
