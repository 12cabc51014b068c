// Package gdaldriver opens prepared band files through GDAL.
package gdaldriver

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/nci/rasterchunk/imagery"
	"github.com/nci/rasterchunk/tiling"
	"github.com/pkg/errors"
)

var gdalOnce sync.Once

// InitGdal sets GDAL's environment defaults and registers its drivers.
// It is safe to call more than once.
func InitGdal() {
	gdalOnce.Do(func() {
		setDefaultEnv("GDAL_PAM_ENABLED", "NO")
		setDefaultEnv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
		setDefaultEnv("GDAL_MAX_DATASET_POOL_SIZE", "10")

		exeFilePath, err := os.Executable()
		if err == nil {
			setDefaultEnv("GDAL_DRIVER_PATH", filepath.Dir(exeFilePath))
		}
		godal.RegisterAll()
	})
}

func setDefaultEnv(envVar string, defaultVal string) {
	if _, ok := os.LookupEnv(envVar); !ok {
		os.Setenv(envVar, defaultVal)
	}
}

// Driver opens images through GDAL. A GDAL dataset handle must not be
// shared between goroutines, so every reader keeps a pool of handle sets.
type Driver struct {
	PoolSize int
}

func New(poolSize int) *Driver {
	InitGdal()
	if poolSize < 1 {
		poolSize = 1
	}
	return &Driver{PoolSize: poolSize}
}

type bandRef struct {
	file int
	band int
}

func (d *Driver) Open(bandPaths []string) (imagery.Reader, error) {
	if len(bandPaths) == 0 {
		return nil, errors.New("no band files to open")
	}

	r := &reader{paths: bandPaths}
	r.pool = newHandlePool(d.PoolSize, r.openHandles, closeHandles)
	handles, err := r.openHandles()
	if err != nil {
		return nil, err
	}

	st := handles[0].Structure()
	r.size = tiling.ImageSize{Width: st.SizeX, Height: st.SizeY}
	for i, ds := range handles {
		st := ds.Structure()
		if st.SizeX != r.size.Width || st.SizeY != r.size.Height {
			closeHandles(handles)
			return nil, errors.Errorf("band file %s is %dx%d, expected %v", bandPaths[i], st.SizeX, st.SizeY, r.size)
		}
		for b := 0; b < st.NBands; b++ {
			r.bands = append(r.bands, bandRef{file: i, band: b})
		}
	}
	r.pool.release(handles)
	return r, nil
}

type reader struct {
	paths []string
	size  tiling.ImageSize
	bands []bandRef
	pool  *handlePool
}

func (r *reader) openHandles() ([]*godal.Dataset, error) {
	handles := make([]*godal.Dataset, 0, len(r.paths))
	for _, p := range r.paths {
		ds, err := godal.Open(p, godal.RasterOnly())
		if err != nil {
			closeHandles(handles)
			return nil, errors.Wrapf(err, "opening %s", p)
		}
		handles = append(handles, ds)
	}
	return handles, nil
}

func closeHandles(handles []*godal.Dataset) {
	for _, ds := range handles {
		ds.Close()
	}
}

func (r *reader) Size() tiling.ImageSize { return r.size }
func (r *reader) NumBands() int          { return len(r.bands) }

func (r *reader) ReadWindow(rect tiling.Rectangle, dst []float32) error {
	if err := imagery.CheckWindow(r.size, len(r.bands), rect, dst); err != nil {
		return err
	}
	handles, err := r.pool.acquire()
	if err != nil {
		return err
	}
	defer r.pool.release(handles)

	w, h := rect.Width(), rect.Height()
	for i, ref := range r.bands {
		band := handles[ref.file].Bands()[ref.band]
		if err := band.Read(rect.MinX, rect.MinY, dst[i*w*h:(i+1)*w*h], w, h); err != nil {
			return errors.Wrapf(err, "reading band %d of %s", ref.band+1, r.paths[ref.file])
		}
	}
	return nil
}

func (r *reader) Close() error {
	r.pool.close()
	return nil
}
