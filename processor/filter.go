package processor

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// NodataPolicy decides when a chunk counts as nodata.
type NodataPolicy int

const (
	// RejectAllNodata rejects a chunk only when every value is the
	// sentinel.
	RejectAllNodata NodataPolicy = iota
	// RejectAnyNodata rejects a chunk holding a single sentinel value.
	RejectAnyNodata
)

func ParseNodataPolicy(name string) (NodataPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "all":
		return RejectAllNodata, nil
	case "any":
		return RejectAnyNodata, nil
	}
	return RejectAllNodata, errors.Errorf("unknown nodata policy: %s", name)
}

func (p NodataPolicy) String() string {
	if p == RejectAnyNodata {
		return "any"
	}
	return "all"
}

type NodataFilter struct {
	Value  float32
	Policy NodataPolicy
}

func (f NodataFilter) valid(total, nodata int) bool {
	if f.Policy == RejectAnyNodata {
		return nodata == 0
	}
	return nodata < total
}

func (f NodataFilter) countNodata(chunk []float32) int {
	n := 0
	for _, v := range chunk {
		if v == f.Value {
			n++
		}
	}
	return n
}

// IsValid reports whether chunk survives the filter. An empty chunk is
// never valid.
func (f NodataFilter) IsValid(chunk []float32) bool {
	return len(chunk) > 0 && f.valid(len(chunk), f.countNodata(chunk))
}

// FilterBatch evaluates every chunk of batch with numThreads goroutines,
// each owning the contiguous range [i*n/t, (i+1)*n/t), and returns the
// surviving indices in order.
func (f NodataFilter) FilterBatch(batch *ChunkBatch, numThreads int) []int {
	n := batch.NumChunks
	if numThreads < 1 {
		numThreads = 1
	}
	if numThreads > n {
		numThreads = n
	}

	keep := make([]bool, n)
	var wg sync.WaitGroup
	for t := 0; t < numThreads; t++ {
		lo, hi := t*n/numThreads, (t+1)*n/numThreads
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				keep[i] = f.IsValid(batch.Chunk(i))
			}
		}(lo, hi)
	}
	wg.Wait()

	var indices []int
	for i, k := range keep {
		if k {
			indices = append(indices, i)
		}
	}
	return indices
}

// ApplyBatch returns the batch holding only the surviving chunks.
func (f NodataFilter) ApplyBatch(batch *ChunkBatch, numThreads int) *ChunkBatch {
	return batch.Select(f.FilterBatch(batch, numThreads))
}
