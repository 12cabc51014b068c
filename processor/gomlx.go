package processor

import (
	"context"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// GomlxDataset adapts a Dataset to gomlx's train.Dataset. Each Yield
// returns one chunk tensor shaped [bands, size, size] and one scalar
// int32 label; io.EOF marks the end of the pass until Reset.
type GomlxDataset struct {
	ds   *Dataset
	name string
	ctx  context.Context

	mu sync.Mutex
	it *SampleIterator
}

func NewGomlxDataset(ctx context.Context, ds *Dataset, name string) *GomlxDataset {
	if name == "" {
		name = "rasterchunk"
	}
	return &GomlxDataset{ds: ds, name: name, ctx: ctx}
}

// Name implements train.Dataset.
func (g *GomlxDataset) Name() string {
	return g.name
}

// Yield implements train.Dataset.
func (g *GomlxDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.it == nil {
		g.it = g.ds.Iterator(g.ctx)
	}
	sample, err := g.it.Next()
	if err != nil {
		return nil, nil, nil, err
	}

	data := make([]float32, len(sample.Chunk))
	copy(data, sample.Chunk)
	chunk := tensors.FromFlatDataAndDimensions(data, sample.Shape()...)
	label := tensors.FromAnyValue(sample.Label)
	return g, []*tensors.Tensor{chunk}, []*tensors.Tensor{label}, nil
}

// Reset implements train.Dataset, restarting from the first region.
func (g *GomlxDataset) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.it != nil {
		g.it.Close()
		g.it = nil
	}
}

// Close releases the running pass, if any.
func (g *GomlxDataset) Close() error {
	g.Reset()
	return nil
}

