package processor

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/nci/rasterchunk/imagery"
	"github.com/nci/rasterchunk/manifest"
	"github.com/nci/rasterchunk/tiling"
	"github.com/nci/rasterchunk/utils"
)

const (
	testWidth  = 40
	testHeight = 20
	testBands  = 3
)

// testFacade serves a.tif, which is nodata in its top-left 10x10 corner
// and 1 elsewhere.
func testFacade(t *testing.T) *imagery.Facade {
	data := make([]float32, testWidth*testHeight*testBands)
	for b := 0; b < testBands; b++ {
		for y := 0; y < testHeight; y++ {
			for x := 0; x < testWidth; x++ {
				if x >= 10 || y >= 10 {
					data[b*testWidth*testHeight+y*testWidth+x] = 1
				}
			}
		}
	}
	drv := imagery.NewMemoryDriver()
	drv.Add("a.tif", tiling.ImageSize{Width: testWidth, Height: testHeight}, testBands, data)
	f, err := imagery.NewFacade(imagery.SimpleTiff, imagery.PrepOptions{}, drv, nil)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func writeManifest(t *testing.T, lines ...string) string {
	path := filepath.Join(t.TempDir(), "manifest.txt")
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, manifestPath string) DatasetConfig {
	part, err := tiling.NewPartitioner(tiling.HorizontalBands, 2)
	if err != nil {
		t.Fatal(err)
	}
	return DatasetConfig{
		ManifestPath: manifestPath,
		Partitioner:  part,
		ChunkSize:    10,
		NumThreads:   3,
		Prefetch:     1,
	}
}

func collect(t *testing.T, it *SampleIterator) []Sample {
	var samples []Sample
	for {
		s, err := it.Next()
		if err == io.EOF {
			return samples
		}
		if err != nil {
			t.Fatal(err)
		}
		samples = append(samples, s)
	}
}

func TestEmptyManifest(t *testing.T) {
	_, err := NewDataset(testConfig(t, writeManifest(t)), testFacade(t), nil, nil)
	if !errors.Is(err, manifest.ErrEmptyManifest) {
		t.Errorf("expected ErrEmptyManifest, got %v", err)
	}
}

func TestDatasetIteration(t *testing.T) {
	ds, err := NewDataset(testConfig(t, writeManifest(t, "a.tif,0", "a.tif,1")), testFacade(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ds.NumRegions() != 2 {
		t.Errorf("NumRegions = %d", ds.NumRegions())
	}

	it := ds.Iterator(context.Background())
	samples := collect(t, it)
	if len(samples) != 7 {
		t.Fatalf("expected 7 samples, got %d", len(samples))
	}

	first := samples[0]
	if first.Descriptor != (manifest.Descriptor{Path: "a.tif", Region: 0}) || first.Index != 1 || first.Label != 1 {
		t.Errorf("first sample = %+v", first)
	}
	if !reflect.DeepEqual(first.Shape(), []int{3, 10, 10}) || len(first.Chunk) != 300 {
		t.Errorf("sample shape %v with %d values", first.Shape(), len(first.Chunk))
	}
	// Region 1 chunks carry grid indices 0..3, all labelled 1.
	if last := samples[6]; last.Descriptor.Region != 1 || last.Index != 3 || last.Label != 1 {
		t.Errorf("last sample = %+v", last)
	}

	stats := ds.Stats()
	if stats.Descriptors != 2 || stats.ChunksExtracted != 8 || stats.ChunksRejected != 1 || stats.Samples != 7 {
		t.Errorf("stats = %+v", stats)
	}

	if _, err := it.Next(); err != io.EOF {
		t.Errorf("exhausted iterator returned %v", err)
	}
}

func samplesKey(samples []Sample) [][3]int {
	var key [][3]int
	for _, s := range samples {
		key = append(key, [3]int{s.Descriptor.Region, s.Index, int(s.Label)})
	}
	return key
}

func TestDatasetRestartAndBatchFilter(t *testing.T) {
	manifestPath := writeManifest(t, "a.tif,0", "a.tif,1")
	ds, err := NewDataset(testConfig(t, manifestPath), testFacade(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	pass1 := collect(t, ds.Iterator(context.Background()))
	pass2 := collect(t, ds.Iterator(context.Background()))
	if !reflect.DeepEqual(samplesKey(pass1), samplesKey(pass2)) {
		t.Errorf("passes differ")
	}

	cfg := testConfig(t, manifestPath)
	cfg.BatchFilter = true
	cfg.NumThreads = 1
	batchDs, err := NewDataset(cfg, testFacade(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	batched := collect(t, batchDs.Iterator(context.Background()))
	if !reflect.DeepEqual(samplesKey(pass1), samplesKey(batched)) {
		t.Errorf("batch filtering gave %v, inline %v", samplesKey(batched), samplesKey(pass1))
	}
	for i := range batched {
		if !reflect.DeepEqual(batched[i].Chunk, pass1[i].Chunk) {
			t.Errorf("sample %d differs between filter modes", i)
		}
	}
}

func TestDatasetPropagatesErrors(t *testing.T) {
	cases := map[string][]string{
		"missing image":  {"a.tif,0", "missing.tif,0"},
		"bad region":     {"a.tif,5"},
		"malformed line": {"a.tif,0"},
	}
	for name, lines := range cases {
		path := writeManifest(t, lines...)
		ds, err := NewDataset(testConfig(t, path), testFacade(t), nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if name == "malformed line" {
			// Corrupt the manifest after construction.
			ioutil.WriteFile(path, []byte("a.tif,0\nnot a descriptor\n"), 0644)
		}

		it := ds.Iterator(context.Background())
		var iterErr error
		for iterErr == nil {
			_, iterErr = it.Next()
		}
		if iterErr == io.EOF {
			t.Errorf("%s: error swallowed", name)
		}
		if name == "bad region" && !errors.Is(iterErr, tiling.ErrInvalidRegionIndex) {
			t.Errorf("%s: expected ErrInvalidRegionIndex, got %v", name, iterErr)
		}
	}
}

type shortLabeler struct{}

func (shortLabeler) Labels(ctx context.Context, desc manifest.Descriptor, n int) ([]int32, error) {
	return make([]int32, n-1), nil
}

func TestLabelMismatch(t *testing.T) {
	ds, err := NewDataset(testConfig(t, writeManifest(t, "a.tif,1")), testFacade(t), shortLabeler{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = ds.Iterator(context.Background()).Next()
	if !errors.Is(err, ErrLabelMismatch) {
		t.Errorf("expected ErrLabelMismatch, got %v", err)
	}
}

func TestIteratorCloseEarly(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = "a.tif," + []string{"0", "1"}[i%2]
	}
	ds, err := NewDataset(testConfig(t, writeManifest(t, lines...)), testFacade(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	it := ds.Iterator(context.Background())
	if _, err := it.Next(); err != nil {
		t.Fatal(err)
	}
	it.Close()
	if _, err := it.Next(); err == nil {
		t.Errorf("closed iterator still yields")
	}
}

func TestSyntheticLabels(t *testing.T) {
	labels, _ := SyntheticLabeler{}.Labels(context.Background(), manifest.Descriptor{}, 25)
	for i, l := range labels {
		want := int32(0)
		if i < 10 {
			want = 1
		} else if i < 20 {
			want = 2
		}
		if l != want {
			t.Errorf("label %d = %d, want %d", i, l, want)
		}
	}
	short, _ := SyntheticLabeler{}.Labels(context.Background(), manifest.Descriptor{}, 4)
	if len(short) != 4 {
		t.Errorf("expected 4 labels, got %d", len(short))
	}
}

func TestGomlxDataset(t *testing.T) {
	ds, err := NewDataset(testConfig(t, writeManifest(t, "a.tif,0")), testFacade(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	g := NewGomlxDataset(context.Background(), ds, "")
	defer g.Close()

	for pass := 0; pass < 2; pass++ {
		n := 0
		for {
			_, inputs, labels, err := g.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(inputs) != 1 || len(labels) != 1 {
				t.Fatalf("unexpected tensors %d/%d", len(inputs), len(labels))
			}
			if dims := inputs[0].Shape().Dimensions; !reflect.DeepEqual(dims, []int{3, 10, 10}) {
				t.Errorf("chunk dims %v", dims)
			}
			n++
		}
		if n != 3 {
			t.Errorf("pass %d yielded %d samples", pass, n)
		}
		g.Reset()
	}
}

func TestOpenDatasetFromConfig(t *testing.T) {
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	if err := os.MkdirAll(images, 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(images, "notes.txt"), []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	conf := &utils.Config{
		ImageFolder:  images,
		ImageKind:    "tif",
		ManifestPath: filepath.Join(dir, "manifest.txt"),
		CacheFolder:  filepath.Join(dir, "cache"),
	}
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		t.Fatal(err)
	}

	ds, err := OpenDataset(context.Background(), conf, imagery.NewMemoryDriver(), true)
	if !errors.Is(err, manifest.ErrEmptyManifest) {
		t.Errorf("expected ErrEmptyManifest, got %v", err)
	}
	if ds != nil {
		t.Errorf("expected no dataset for an image folder without images")
	}
	if _, err := os.Stat(conf.ManifestPath); !os.IsNotExist(err) {
		t.Errorf("empty manifest was written: %v", err)
	}
}
