package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	DefaultCacheLimit       = 4
	DefaultNumRegions       = 4
	DefaultChunkSize        = 256
	DefaultNumThreads       = 2
	DefaultPrefetch         = 2
	DefaultCrawlConcurrency = 8
)

// IndexConfig describes the Postgres file index used in place of a
// filesystem crawl.
type IndexConfig struct {
	DSN        string `yaml:"dsn" json:"dsn"`
	Collection string `yaml:"collection" json:"collection"`
	MaxConns   int    `yaml:"max_conns" json:"max_conns"`
}

// Config is the configuration of one chunked dataset. It is fixed for
// the lifetime of the dataset built from it.
type Config struct {
	ImageFolder      string `yaml:"image_folder" json:"image_folder"`
	ImageKind        string `yaml:"image_kind" json:"image_kind"`
	FilePattern      string `yaml:"file_pattern" json:"file_pattern"`
	FollowSymlink    bool   `yaml:"follow_symlink" json:"follow_symlink"`
	CrawlConcurrency int    `yaml:"crawl_concurrency" json:"crawl_concurrency"`
	ManifestPath     string `yaml:"manifest_path" json:"manifest_path"`
	SearchPath       string `yaml:"search_path" json:"search_path"`

	CacheFolder string `yaml:"cache_folder" json:"cache_folder"`
	CacheLimit  int    `yaml:"cache_limit" json:"cache_limit"`
	// ConvertTemplate is a jet template for the RGBA conversion command.
	ConvertTemplate string `yaml:"convert_template" json:"convert_template"`

	NumRegions   int    `yaml:"num_regions" json:"num_regions"`
	Strategy     string `yaml:"strategy" json:"strategy"`
	ChunkSize    int    `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap" json:"chunk_overlap"`
	NumThreads   int    `yaml:"num_threads" json:"num_threads"`
	Prefetch     int    `yaml:"prefetch" json:"prefetch"`

	NoDataValue  float64 `yaml:"nodata_value" json:"nodata_value"`
	NoDataPolicy string  `yaml:"nodata_policy" json:"nodata_policy"`
	BatchFilter  bool    `yaml:"batch_filter" json:"batch_filter"`

	MemcacheServers []string     `yaml:"memcache_servers" json:"memcache_servers"`
	WorkerNodes     []string     `yaml:"worker_nodes" json:"worker_nodes"`
	Index           *IndexConfig `yaml:"index" json:"index"`

	LogDir  string `yaml:"log_dir" json:"log_dir"`
	Verbose bool   `yaml:"verbose" json:"verbose"`
}

// LoadConfigFile reads a YAML or JSON config document depending on the
// file extension, applies defaults and validates it.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".json":
		err = json.Unmarshal(cfg, config)
	default:
		err = yaml.UnmarshalStrict(cfg, config)
	}
	if err != nil {
		return fmt.Errorf("Error at parsing config document: %s. Error: %v", configFile, err)
	}

	config.ApplyDefaults()
	return config.Validate()
}

func LoadConfigFile(configFile string) (*Config, error) {
	config := &Config{}
	if err := config.LoadConfigFile(configFile); err != nil {
		return nil, err
	}
	return config, nil
}

func (config *Config) ApplyDefaults() {
	if len(config.ImageKind) == 0 {
		config.ImageKind = "tif"
	}
	if config.CacheLimit <= 0 {
		config.CacheLimit = DefaultCacheLimit
	}
	if config.NumRegions <= 0 {
		config.NumRegions = DefaultNumRegions
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.NumThreads <= 0 {
		config.NumThreads = DefaultNumThreads
	}
	if config.Prefetch <= 0 {
		config.Prefetch = DefaultPrefetch
	}
	if config.CrawlConcurrency <= 0 {
		config.CrawlConcurrency = DefaultCrawlConcurrency
	}
	if len(config.CacheFolder) == 0 {
		config.CacheFolder = filepath.Join(os.TempDir(), "rasterchunk_cache")
	}
	if config.Index != nil && config.Index.MaxConns <= 0 {
		config.Index.MaxConns = 4
	}
}

func (config *Config) Validate() error {
	if config.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must not be negative: %d", config.ChunkOverlap)
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", config.ChunkOverlap, config.ChunkSize)
	}
	if config.NumRegions <= 0 {
		return fmt.Errorf("num_regions must be positive: %d", config.NumRegions)
	}
	if len(strings.TrimSpace(config.ManifestPath)) == 0 {
		return fmt.Errorf("manifest_path is required")
	}
	if len(strings.TrimSpace(config.ImageFolder)) == 0 && config.Index == nil {
		return fmt.Errorf("either image_folder or index must be set")
	}
	return nil
}
