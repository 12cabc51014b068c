package processor

import (
	"context"

	"github.com/nci/rasterchunk/manifest"
	"github.com/pkg/errors"
)

var ErrLabelMismatch = errors.New("label count does not match chunk count")

// Labeler produces one label per extracted chunk of a region, in chunk
// order.
type Labeler interface {
	Labels(ctx context.Context, desc manifest.Descriptor, numChunks int) ([]int32, error)
}

// SyntheticLabeler labels chunks 0..9 with 1, chunks 10..19 with 2 and the
// rest with 0, standing in until real label rasters exist.
type SyntheticLabeler struct{}

func (SyntheticLabeler) Labels(ctx context.Context, desc manifest.Descriptor, numChunks int) ([]int32, error) {
	labels := make([]int32, numChunks)
	for i := 0; i < numChunks && i < 20; i++ {
		if i < 10 {
			labels[i] = 1
		} else {
			labels[i] = 2
		}
	}
	return labels, nil
}

func checkLabels(desc manifest.Descriptor, labels []int32, numChunks int) error {
	if len(labels) != numChunks {
		return errors.Wrapf(ErrLabelMismatch, "%v: %d labels for %d chunks", desc, len(labels), numChunks)
	}
	return nil
}
