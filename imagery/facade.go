package imagery

import (
	"context"
	"log"

	"github.com/nci/rasterchunk/tiling"
	"github.com/pkg/errors"
)

var ErrBandCount = errors.New("unexpected band count")

// Facade hides how an image of a given kind is prepared and opened.
type Facade struct {
	Kind     Kind
	Preparer Preparer
	Driver   Driver
	Info     InfoCache
	Verbose  bool
}

// NewFacade wires the preparer of kind to driver. A nil info cache is
// replaced with an in-memory one.
func NewFacade(kind Kind, opts PrepOptions, driver Driver, info InfoCache) (*Facade, error) {
	prep, err := kind.Preparer(opts)
	if err != nil {
		return nil, err
	}
	if info == nil {
		info = NewMemoryInfoCache()
	}
	return &Facade{Kind: kind, Preparer: prep, Driver: driver, Info: info, Verbose: opts.Verbose}, nil
}

// Resolve returns the band files to read for path.
func (f *Facade) Resolve(ctx context.Context, path string) ([]string, error) {
	bands, err := f.Preparer.Prepare(ctx, path)
	if err != nil {
		return nil, errors.WithMessagef(err, "preparing %s", path)
	}
	return bands, nil
}

// Open prepares path and opens it, checking the band count against the
// kind.
func (f *Facade) Open(ctx context.Context, path string) (Reader, error) {
	bands, err := f.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	r, err := f.Driver.Open(bands)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening %s", path)
	}
	if want := f.Kind.NumBands(); r.NumBands() != want {
		r.Close()
		return nil, errors.Wrapf(ErrBandCount, "%s has %d bands, %v images have %d", path, r.NumBands(), f.Kind, want)
	}

	size := r.Size()
	f.Info.Put(path, ImageInfo{Width: size.Width, Height: size.Height, NumBands: r.NumBands()})
	if f.Verbose {
		log.Printf("imagery: opened %s (%v, %d bands)", path, size, r.NumBands())
	}
	return r, nil
}

// ImageSize returns the dimensions of path, opening it only on a cache
// miss.
func (f *Facade) ImageSize(ctx context.Context, path string) (tiling.ImageSize, error) {
	if info, ok := f.Info.Get(path); ok {
		return info.Size(), nil
	}
	r, err := f.Open(ctx, path)
	if err != nil {
		return tiling.ImageSize{}, err
	}
	defer r.Close()
	return r.Size(), nil
}
