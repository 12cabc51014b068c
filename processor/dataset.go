package processor

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nci/rasterchunk/imagery"
	"github.com/nci/rasterchunk/manifest"
	"github.com/nci/rasterchunk/metrics"
	"github.com/nci/rasterchunk/tiling"
	"github.com/pkg/errors"
)

// ImageOpener opens a source image for window reads. imagery.Facade is
// the usual implementation.
type ImageOpener interface {
	Open(ctx context.Context, path string) (imagery.Reader, error)
}

type DatasetConfig struct {
	ManifestPath string
	Partitioner  *tiling.Partitioner
	ChunkSize    int
	ChunkOverlap int
	NumThreads   int
	// Prefetch is how many extracted regions may wait ahead of the
	// consumer.
	Prefetch    int
	Filter      NodataFilter
	BatchFilter bool
	Verbose     bool
}

// Sample is one chunk with its label.
type Sample struct {
	Chunk      []float32
	Label      int32
	NumBands   int
	Size       int
	Descriptor manifest.Descriptor
	// Index is the chunk's position in its region's grid.
	Index int
}

// Shape is the chunk shape, bands first.
func (s Sample) Shape() []int {
	return []int{s.NumBands, s.Size, s.Size}
}

type Stats struct {
	Descriptors     int64 `json:"descriptors"`
	ChunksExtracted int64 `json:"chunks_extracted"`
	ChunksRejected  int64 `json:"chunks_rejected"`
	Samples         int64 `json:"samples"`
}

type datasetStats struct {
	descriptors     atomic.Int64
	chunksExtracted atomic.Int64
	chunksRejected  atomic.Int64
	samples         atomic.Int64
}

// Dataset is a lazy, finite and restartable sequence of samples over the
// regions listed in a manifest. It owns the image cache behind its
// opener for its lifetime.
type Dataset struct {
	cfg        DatasetConfig
	images     ImageOpener
	labeler    Labeler
	logger     metrics.Logger
	numRegions int
	stats      datasetStats

	cache   imagery.Cache
	closers []func() error
}

// NewDataset checks the configuration and counts the manifest. An empty
// manifest fails with manifest.ErrEmptyManifest.
func NewDataset(cfg DatasetConfig, images ImageOpener, labeler Labeler, logger metrics.Logger) (*Dataset, error) {
	if err := checkChunkConfig(cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.Partitioner == nil {
		return nil, errors.New("dataset requires a region partitioner")
	}
	if images == nil {
		return nil, errors.New("dataset requires an image opener")
	}
	if labeler == nil {
		labeler = SyntheticLabeler{}
	}
	if cfg.NumThreads < 1 {
		cfg.NumThreads = 1
	}
	if cfg.Prefetch < 0 {
		cfg.Prefetch = 0
	}

	n, err := manifest.Count(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		log.Printf("dataset: %d regions in %s", n, cfg.ManifestPath)
	}
	return &Dataset{cfg: cfg, images: images, labeler: labeler, logger: logger, numRegions: n}, nil
}

// NumRegions is the number of descriptors in the manifest.
func (d *Dataset) NumRegions() int {
	return d.numRegions
}

func (d *Dataset) Stats() Stats {
	return Stats{
		Descriptors:     d.stats.descriptors.Load(),
		ChunksExtracted: d.stats.chunksExtracted.Load(),
		ChunksRejected:  d.stats.chunksRejected.Load(),
		Samples:         d.stats.samples.Load(),
	}
}

// Cache is the image cache owned by the dataset, nil when none was set up.
func (d *Dataset) Cache() imagery.Cache {
	return d.cache
}

// Close releases what the dataset owns. Iterators must be closed first.
func (d *Dataset) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	d.closers = nil
	return first
}

// Iterator starts a pass over the dataset from its first descriptor.
// The pass stops early when ctx is cancelled or the iterator is closed.
func (d *Dataset) Iterator(ctx context.Context) *SampleIterator {
	ctx, cancel := context.WithCancel(ctx)
	it := &SampleIterator{
		ctx:    ctx,
		cancel: cancel,
		errc:   make(chan error, 1),
		stats:  &d.stats,
		filter: d.cfg.Filter,
		inline: !d.cfg.BatchFilter,
	}

	dr := NewDescriptorReader(ctx, d.cfg.ManifestPath, it.fail, d.cfg.Verbose)
	re := NewRegionExtractor(ctx, d, it.fail)
	re.In = dr.Out
	it.in = re.Out

	it.wg.Add(2)
	go func() {
		defer it.wg.Done()
		dr.Run()
	}()
	go func() {
		defer it.wg.Done()
		re.Run()
	}()
	return it
}

// DescriptorReader streams the descriptors of a manifest.
type DescriptorReader struct {
	Context context.Context
	Path    string
	Out     chan manifest.Descriptor
	fail    func(error)
	verbose bool
}

func NewDescriptorReader(ctx context.Context, path string, fail func(error), verbose bool) *DescriptorReader {
	return &DescriptorReader{
		Context: ctx,
		Path:    path,
		Out:     make(chan manifest.Descriptor),
		fail:    fail,
		verbose: verbose,
	}
}

func (dr *DescriptorReader) Run() {
	if dr.verbose {
		defer log.Printf("Descriptor Reader done")
	}
	defer close(dr.Out)

	r, err := manifest.Open(dr.Path)
	if err != nil {
		dr.fail(err)
		return
	}
	defer r.Close()

	for {
		desc, err := r.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			dr.fail(err)
			return
		}
		select {
		case dr.Out <- desc:
		case <-dr.Context.Done():
			return
		}
	}
}

// regionBatch is the filtered output of one region.
type regionBatch struct {
	desc   manifest.Descriptor
	batch  *ChunkBatch
	labels []int32
	// index maps batch positions back to grid positions.
	index []int
}

// RegionExtractor turns descriptors into chunk batches. Regions are
// processed one at a time; the parallelism lives inside Extract.
type RegionExtractor struct {
	Context context.Context
	In      chan manifest.Descriptor
	Out     chan *regionBatch
	ds      *Dataset
	fail    func(error)
}

func NewRegionExtractor(ctx context.Context, ds *Dataset, fail func(error)) *RegionExtractor {
	return &RegionExtractor{
		Context: ctx,
		Out:     make(chan *regionBatch, ds.cfg.Prefetch),
		ds:      ds,
		fail:    fail,
	}
}

func (re *RegionExtractor) Run() {
	if re.ds.cfg.Verbose {
		defer log.Printf("Region Extractor done")
	}
	defer close(re.Out)

	for desc := range re.In {
		if re.Context.Err() != nil {
			continue
		}
		rb, err := re.ds.processRegion(re.Context, desc)
		if err != nil {
			re.fail(err)
			continue
		}
		select {
		case re.Out <- rb:
		case <-re.Context.Done():
		}
	}
}

func (d *Dataset) processRegion(ctx context.Context, desc manifest.Descriptor) (rb *regionBatch, err error) {
	mc := metrics.NewCollector(d.logger)
	mc.Info.Region.Path = desc.Path
	mc.Info.Region.Region = desc.Region
	mc.Info.Extract.Threads = d.cfg.NumThreads
	defer func() { mc.Log(err) }()

	t0 := time.Now()
	reader, err := d.images.Open(ctx, desc.Path)
	if err != nil {
		return nil, errors.WithMessagef(err, "region %v", desc)
	}
	defer reader.Close()
	mc.Info.Extract.PrepDuration = time.Since(t0)

	size := reader.Size()
	mc.Info.Region.Width, mc.Info.Region.Height = size.Width, size.Height
	rect, err := d.cfg.Partitioner.Region(size, desc.Region)
	if err != nil {
		return nil, errors.WithMessagef(err, "region %v", desc)
	}
	mc.Info.Region.Rect = rect.String()

	t0 = time.Now()
	batch, err := Extract(reader, rect, d.cfg.ChunkSize, d.cfg.ChunkOverlap, d.cfg.NumThreads)
	if err != nil {
		return nil, errors.WithMessagef(err, "region %v", desc)
	}
	mc.Info.Extract.ExtractDuration = time.Since(t0)
	mc.Info.Extract.NumChunks = batch.NumChunks
	mc.Info.Extract.BytesRead = int64(len(batch.Data)) * 4

	labels, err := d.labeler.Labels(ctx, desc, batch.NumChunks)
	if err != nil {
		return nil, errors.WithMessagef(err, "labelling %v", desc)
	}
	if err := checkLabels(desc, labels, batch.NumChunks); err != nil {
		return nil, err
	}

	d.stats.descriptors.Add(1)
	d.stats.chunksExtracted.Add(int64(batch.NumChunks))

	index := make([]int, batch.NumChunks)
	for i := range index {
		index[i] = i
	}
	rb = &regionBatch{desc: desc, batch: batch, labels: labels, index: index}

	if d.cfg.BatchFilter {
		t0 = time.Now()
		keep := d.cfg.Filter.FilterBatch(batch, d.cfg.NumThreads)
		kept := make([]int32, len(keep))
		for j, i := range keep {
			kept[j] = labels[i]
		}
		rejected := batch.NumChunks - len(keep)
		rb = &regionBatch{desc: desc, batch: batch.Select(keep), labels: kept, index: keep}
		d.stats.chunksRejected.Add(int64(rejected))
		mc.Info.Extract.NumRejected = rejected
		mc.Info.Extract.FilterDuration = time.Since(t0)
	}

	if d.cfg.Verbose {
		log.Printf("dataset: %v rect %v: %d chunks, %d kept", desc, rect, batch.NumChunks, rb.batch.NumChunks)
	}
	return rb, nil
}

// SampleIterator yields the samples of one pass over a Dataset. It is not
// safe for concurrent use.
type SampleIterator struct {
	ctx    context.Context
	cancel context.CancelFunc
	in     chan *regionBatch
	errc   chan error
	stats  *datasetStats
	filter NodataFilter
	inline bool

	wg   sync.WaitGroup
	curr *regionBatch
	pos  int
	err  error
}

func (it *SampleIterator) fail(err error) {
	select {
	case it.errc <- err:
	default:
	}
	it.cancel()
}

// Next returns the next sample, io.EOF at the end of the pass or the first
// error met by the pipeline.
func (it *SampleIterator) Next() (Sample, error) {
	if it.err != nil {
		return Sample{}, it.err
	}
	for {
		for it.curr != nil && it.pos < it.curr.batch.NumChunks {
			rb, i := it.curr, it.pos
			it.pos++
			chunk := rb.batch.Chunk(i)
			if it.inline && !it.filter.IsValid(chunk) {
				it.stats.chunksRejected.Add(1)
				continue
			}
			it.stats.samples.Add(1)
			return Sample{
				Chunk:      chunk,
				Label:      rb.labels[i],
				NumBands:   rb.batch.NumBands,
				Size:       rb.batch.Size,
				Descriptor: rb.desc,
				Index:      rb.index[i],
			}, nil
		}

		rb, ok := <-it.in
		if !ok {
			it.finish()
			return Sample{}, it.err
		}
		it.curr, it.pos = rb, 0
	}
}

func (it *SampleIterator) finish() {
	it.wg.Wait()
	select {
	case err := <-it.errc:
		it.err = err
	default:
		if err := it.ctx.Err(); err != nil {
			it.err = err
		} else {
			it.err = io.EOF
		}
	}
	it.cancel()
}

// Close stops the pass and releases its goroutines.
func (it *SampleIterator) Close() error {
	it.cancel()
	for range it.in {
	}
	it.wg.Wait()
	if it.err == nil {
		it.err = errors.New("iterator closed")
	}
	return nil
}
