// Package manifest enumerates the units of extraction work for a dataset.
// A manifest is a text file holding one "<path>,<region>" descriptor per
// line so a line-oriented reader can stream it without loading it whole.
package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrMalformedDescriptor = errors.New("malformed descriptor")
	ErrEmptyManifest       = errors.New("empty manifest")
)

// Descriptor identifies one region of one source image.
type Descriptor struct {
	Path   string
	Region int
}

func (d Descriptor) String() string {
	return Encode(d.Path, d.Region)
}

func Encode(path string, region int) string {
	return path + "," + strconv.Itoa(region)
}

// Decode parses a manifest line. The region index follows the last comma,
// so paths containing commas survive a round trip.
func Decode(line string) (Descriptor, error) {
	idx := strings.LastIndexByte(line, ',')
	if idx < 0 {
		return Descriptor{}, errors.Wrapf(ErrMalformedDescriptor, "missing region field in %q", line)
	}

	path := strings.TrimSpace(line[:idx])
	if len(path) == 0 {
		return Descriptor{}, errors.Wrapf(ErrMalformedDescriptor, "empty path in %q", line)
	}

	regionStr := strings.TrimSpace(line[idx+1:])
	region, err := strconv.Atoi(regionStr)
	if err != nil || region < 0 {
		return Descriptor{}, errors.Wrapf(ErrMalformedDescriptor, "invalid region index %q", regionStr)
	}

	return Descriptor{Path: path, Region: region}, nil
}

func lineError(lineNo int, err error) error {
	return errors.WithMessage(err, fmt.Sprintf("line %d", lineNo))
}
