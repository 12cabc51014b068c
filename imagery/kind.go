// Package imagery resolves source images into readable band files and
// reads pixel windows from them.
package imagery

import (
	"fmt"
	"strings"
)

// Kind is the closed set of supported source image families. Each kind
// fixes the file extension searched for, the expected band count and
// how files are prepared before reading.
type Kind int

const (
	SimpleTiff Kind = iota
	RGBAConverted
	Landsat
	WorldView
)

var kindNames = map[Kind]string{
	SimpleTiff:    "tif",
	RGBAConverted: "rgba",
	Landsat:       "landsat",
	WorldView:     "worldview",
}

func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return SimpleTiff, fmt.Errorf("Unrecognized input type: %s", name)
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Extension is the suffix of source files of this kind.
func (k Kind) Extension() string {
	switch k {
	case Landsat:
		return ".gz"
	case WorldView:
		return ".zip"
	default:
		return ".tif"
	}
}

// BandNumbers lists the _B<n> band files an archived scene of this kind
// is read from, in chunk band order. Landsat skips the 15m panchromatic
// band 8 and the thermal bands so every band shares the 30m grid. Kinds
// read from a single file return nil.
func (k Kind) BandNumbers() []int {
	switch k {
	case Landsat:
		return []int{1, 2, 3, 4, 5, 6, 7, 9}
	case WorldView:
		return []int{1, 2, 3, 4, 5, 6, 7, 8}
	default:
		return nil
	}
}

// NumBands is the band count every chunk of this kind carries.
func (k Kind) NumBands() int {
	if bands := k.BandNumbers(); bands != nil {
		return len(bands)
	}
	return 3
}

// PrepOptions carries what the preparation strategies of the different
// kinds need.
type PrepOptions struct {
	Cache           Cache
	ConvertTemplate string
	Verbose         bool
}

// Preparer returns the preparation strategy for the kind.
func (k Kind) Preparer(opts PrepOptions) (Preparer, error) {
	switch k {
	case SimpleTiff:
		return SimplePreparer{}, nil
	case RGBAConverted:
		return NewRGBAPreparer(opts.Cache, opts.ConvertTemplate, opts.Verbose)
	case Landsat:
		return NewArchivePreparer(opts.Cache, TarGzArchive, k.BandNumbers(), opts.Verbose)
	case WorldView:
		return NewArchivePreparer(opts.Cache, ZipArchive, k.BandNumbers(), opts.Verbose)
	}
	return nil, fmt.Errorf("no preparer for %v", k)
}
