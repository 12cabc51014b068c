package manifest

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Reader streams descriptors from a manifest file one line at a time.
// It is not safe for concurrent use.
type Reader struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	lineNo  int
}

func Open(path string) (*Reader, error) {
	r := &Reader{path: path}
	if err := r.Reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reset rewinds the reader to the first descriptor.
func (r *Reader) Reset() error {
	if r.file == nil {
		f, err := os.Open(r.path)
		if err != nil {
			return errors.Wrapf(err, "opening manifest %s", r.path)
		}
		r.file = f
	} else if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(err, "rewinding manifest %s", r.path)
	}

	r.scanner = bufio.NewScanner(r.file)
	r.scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	r.lineNo = 0
	return nil
}

// Next returns the next descriptor, io.EOF after the last one. Blank
// lines are skipped; a malformed line is an error.
func (r *Reader) Next() (Descriptor, error) {
	for r.scanner.Scan() {
		r.lineNo++
		line := r.scanner.Text()
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}
		desc, err := Decode(line)
		if err != nil {
			return Descriptor{}, lineError(r.lineNo, err)
		}
		return desc, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Descriptor{}, errors.Wrapf(err, "reading manifest %s", r.path)
	}
	return Descriptor{}, io.EOF
}

func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Count validates every line of the manifest and returns the number of
// descriptors. Zero descriptors is ErrEmptyManifest.
func Count(path string) (int, error) {
	r, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		n++
	}

	if n == 0 {
		return 0, errors.WithMessagef(ErrEmptyManifest, "%s", path)
	}
	return n, nil
}
