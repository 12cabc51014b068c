package utils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset.yaml")
	writeFile(t, path, `
image_folder: /data/landsat
image_kind: landsat
manifest_path: /tmp/list.txt
chunk_size: 64
chunk_overlap: 8
strategy: grid
num_regions: 16
memcache_servers:
  - 127.0.0.1:11211
`)

	config, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.ImageKind != "landsat" || config.ChunkSize != 64 || config.ChunkOverlap != 8 {
		t.Errorf("unexpected config: %+v", config)
	}
	if config.NumThreads != DefaultNumThreads || config.CacheLimit != DefaultCacheLimit {
		t.Errorf("defaults not applied: %+v", config)
	}
	if len(config.MemcacheServers) != 1 {
		t.Errorf("expected one memcache server, got %v", config.MemcacheServers)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset.json")
	writeFile(t, path, `{"image_folder": "/data", "manifest_path": "list.txt", "num_threads": 8}`)

	config, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.NumThreads != 8 || config.ChunkSize != DefaultChunkSize {
		t.Errorf("unexpected config: %+v", config)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []Config{
		{ImageFolder: "/d", ManifestPath: "m", ChunkSize: 10, ChunkOverlap: 10, NumRegions: 1},
		{ImageFolder: "/d", ManifestPath: "m", ChunkSize: 10, ChunkOverlap: -1, NumRegions: 1},
		{ImageFolder: "/d", ChunkSize: 10, NumRegions: 1},
		{ManifestPath: "m", ChunkSize: 10, NumRegions: 1},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, c)
		}
	}

	ok := Config{ImageFolder: "/d", ManifestPath: "m", ChunkSize: 10, ChunkOverlap: 9, NumRegions: 1}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUnknownYAMLField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset.yml")
	writeFile(t, path, "image_folder: /d\nmanifest_path: m\nchunk_sise: 4\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Errorf("expected error for misspelt field")
	}
}

func TestRuntimeFileResolver(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "scenes")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(sub, "a.tif"), "x")

	r := NewRuntimeFileResolver("/does/not/exist:" + dir)
	path, err := r.Lookup("scenes/a.tif")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join(sub, "a.tif") {
		t.Errorf("unexpected path %s", path)
	}

	if _, err := r.Lookup("scenes/missing.tif"); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestConcLimiter(t *testing.T) {
	c := NewConcLimiter(2)
	c.Increase()
	if !c.TryIncrease() {
		t.Fatalf("expected second slot to be available")
	}
	if c.TryIncrease() {
		t.Fatalf("expected limiter to be full")
	}
	c.Decrease()
	c.Decrease()
	c.Wait()
}
