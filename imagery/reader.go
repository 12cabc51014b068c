package imagery

import (
	"sync"

	"github.com/nci/rasterchunk/tiling"
	"github.com/pkg/errors"
)

var ErrWindowOutOfBounds = errors.New("window outside image bounds")

// Reader reads pixel windows from an opened image. ReadWindow is safe for
// concurrent use with disjoint dst slices.
type Reader interface {
	Size() tiling.ImageSize
	NumBands() int
	// ReadWindow fills dst band-major: dst[b*h*w + y*w + x] for the
	// window rect of width w and height h.
	ReadWindow(rect tiling.Rectangle, dst []float32) error
	Close() error
}

// Driver opens the prepared band files of one image.
type Driver interface {
	Open(bandPaths []string) (Reader, error)
}

// CheckWindow validates a ReadWindow request against the image size and
// band count.
func CheckWindow(size tiling.ImageSize, numBands int, rect tiling.Rectangle, dst []float32) error {
	if !size.Bounds().Contains(rect) {
		return errors.Wrapf(ErrWindowOutOfBounds, "%v in %v", rect, size)
	}
	if want := numBands * rect.Area(); len(dst) < want {
		return errors.Errorf("destination holds %d values, window needs %d", len(dst), want)
	}
	return nil
}

// MemoryReader serves windows from an in-memory band-major image.
type MemoryReader struct {
	size  tiling.ImageSize
	bands int
	data  []float32

	mu     sync.Mutex
	closed bool
}

// NewMemoryReader wraps data holding bands*width*height values.
func NewMemoryReader(size tiling.ImageSize, bands int, data []float32) (*MemoryReader, error) {
	if len(data) != bands*size.Width*size.Height {
		return nil, errors.Errorf("image data holds %d values, expected %d", len(data), bands*size.Width*size.Height)
	}
	return &MemoryReader{size: size, bands: bands, data: data}, nil
}

func (r *MemoryReader) Size() tiling.ImageSize { return r.size }
func (r *MemoryReader) NumBands() int          { return r.bands }

func (r *MemoryReader) ReadWindow(rect tiling.Rectangle, dst []float32) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errors.New("read from closed reader")
	}
	if err := CheckWindow(r.size, r.bands, rect, dst); err != nil {
		return err
	}

	w, h := rect.Width(), rect.Height()
	plane := r.size.Width * r.size.Height
	for b := 0; b < r.bands; b++ {
		for y := 0; y < h; y++ {
			src := b*plane + (rect.MinY+y)*r.size.Width + rect.MinX
			copy(dst[b*w*h+y*w:b*w*h+(y+1)*w], r.data[src:src+w])
		}
	}
	return nil
}

func (r *MemoryReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// MemoryDriver maps a band path list, joined by the first path, to an
// in-memory image. It backs tests and the worker's loopback mode.
type MemoryDriver struct {
	mu     sync.Mutex
	images map[string]*memoryImage
	opens  int
}

type memoryImage struct {
	size  tiling.ImageSize
	bands int
	data  []float32
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{images: make(map[string]*memoryImage)}
}

// Add registers an image under path.
func (d *MemoryDriver) Add(path string, size tiling.ImageSize, bands int, data []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.images[path] = &memoryImage{size: size, bands: bands, data: data}
}

func (d *MemoryDriver) Open(bandPaths []string) (Reader, error) {
	if len(bandPaths) == 0 {
		return nil, errors.New("no band files to open")
	}
	d.mu.Lock()
	img, ok := d.images[bandPaths[0]]
	if ok {
		d.opens++
	}
	d.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("no such image: %s", bandPaths[0])
	}
	return NewMemoryReader(img.size, img.bands, img.data)
}

// Opens reports how many readers have been opened.
func (d *MemoryDriver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}
