package processor

import (
	"context"
	"fmt"

	"github.com/nci/rasterchunk/imagery"
	"github.com/nci/rasterchunk/tiling"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidChunkConfig = errors.New("invalid chunk configuration")
	ErrExtraction         = errors.New("chunk extraction failed")
)

// extractionError keeps both ErrExtraction and the reader's error
// matchable with errors.Is.
func extractionError(r tiling.Rectangle, err error) error {
	return fmt.Errorf("%w: chunk %v: %w", ErrExtraction, r, err)
}

func checkChunkConfig(size, overlap int) error {
	if size <= 0 {
		return errors.Wrapf(ErrInvalidChunkConfig, "chunk size %d", size)
	}
	if overlap < 0 || overlap >= size {
		return errors.Wrapf(ErrInvalidChunkConfig, "overlap %d with chunk size %d", overlap, size)
	}
	return nil
}

// ChunkGrid lays size x size windows over rect with stride size-overlap,
// row-major. Windows that would cross the rect's far edges are dropped.
func ChunkGrid(rect tiling.Rectangle, size, overlap int) ([]tiling.Rectangle, error) {
	if err := checkChunkConfig(size, overlap); err != nil {
		return nil, err
	}

	stride := size - overlap
	var chunks []tiling.Rectangle
	for y := rect.MinY; y+size <= rect.MaxY; y += stride {
		for x := rect.MinX; x+size <= rect.MaxX; x += stride {
			chunks = append(chunks, tiling.Rectangle{MinX: x, MinY: y, MaxX: x + size, MaxY: y + size})
		}
	}
	return chunks, nil
}

// ChunkBatch holds NumChunks chunks of NumBands x Size x Size pixels,
// contiguous and band-major within each chunk.
type ChunkBatch struct {
	Data      []float32
	NumChunks int
	NumBands  int
	Size      int
}

func NewChunkBatch(numChunks, numBands, size int) *ChunkBatch {
	return &ChunkBatch{
		Data:      make([]float32, numChunks*numBands*size*size),
		NumChunks: numChunks,
		NumBands:  numBands,
		Size:      size,
	}
}

// ChunkLen is the number of values in one chunk.
func (b *ChunkBatch) ChunkLen() int {
	return b.NumBands * b.Size * b.Size
}

// Chunk returns chunk i without copying.
func (b *ChunkBatch) Chunk(i int) []float32 {
	n := b.ChunkLen()
	return b.Data[i*n : (i+1)*n : (i+1)*n]
}

func (b *ChunkBatch) Shape() []int {
	return []int{b.NumChunks, b.NumBands, b.Size, b.Size}
}

// Select copies the chunks at indices, in that order, into a new batch.
func (b *ChunkBatch) Select(indices []int) *ChunkBatch {
	out := NewChunkBatch(len(indices), b.NumBands, b.Size)
	for j, i := range indices {
		copy(out.Chunk(j), b.Chunk(i))
	}
	return out
}

// Extract reads every chunk of rect into one batch using up to numThreads
// readers in parallel. The first read error aborts the extraction and no
// batch is returned.
func Extract(reader imagery.Reader, rect tiling.Rectangle, size, overlap, numThreads int) (*ChunkBatch, error) {
	grid, err := ChunkGrid(rect, size, overlap)
	if err != nil {
		return nil, err
	}
	batch := NewChunkBatch(len(grid), reader.NumBands(), size)
	if len(grid) == 0 {
		return batch, nil
	}

	if numThreads <= 1 {
		for i, r := range grid {
			if err := reader.ReadWindow(r, batch.Chunk(i)); err != nil {
				return nil, extractionError(r, err)
			}
		}
		return batch, nil
	}

	if numThreads > len(grid) {
		numThreads = len(grid)
	}
	tasks := make(chan int)
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		defer close(tasks)
		for i := range grid {
			select {
			case tasks <- i:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < numThreads; w++ {
		g.Go(func() error {
			for i := range tasks {
				if ctx.Err() != nil {
					continue
				}
				if err := reader.ReadWindow(grid[i], batch.Chunk(i)); err != nil {
					return extractionError(grid[i], err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}
