package processor

import (
	"context"
	"log"
	"os"

	"github.com/nci/rasterchunk/imagery"
	"github.com/nci/rasterchunk/manifest"
	"github.com/nci/rasterchunk/metrics"
	"github.com/nci/rasterchunk/tiling"
	"github.com/nci/rasterchunk/utils"
	"github.com/pkg/errors"
)

// resolvingOpener looks relative manifest paths up on a search path before
// opening them.
type resolvingOpener struct {
	resolver *utils.RuntimeFileResolver
	images   ImageOpener
}

func (o *resolvingOpener) Open(ctx context.Context, path string) (imagery.Reader, error) {
	resolved, err := o.resolver.Lookup(path)
	if err != nil {
		return nil, err
	}
	return o.images.Open(ctx, resolved)
}

// NewLister returns the file lister the config asks for: the Postgres
// index when one is configured, a filesystem crawl otherwise.
func NewLister(conf *utils.Config, kind imagery.Kind) (manifest.Lister, func() error, error) {
	if conf.Index != nil {
		pl, err := manifest.NewPGLister(conf.Index.DSN, conf.Index.Collection, kind.Extension(), conf.Index.MaxConns, conf.Verbose)
		if err != nil {
			return nil, nil, err
		}
		return pl, pl.Close, nil
	}
	pl, err := manifest.NewPosixLister(conf.ImageFolder, kind.Extension(), conf.FilePattern, conf.CrawlConcurrency, conf.FollowSymlink)
	if err != nil {
		return nil, nil, err
	}
	return pl, func() error { return nil }, nil
}

// BuildManifest lists the configured images and writes one descriptor per
// image region to conf.ManifestPath.
func BuildManifest(ctx context.Context, conf *utils.Config) (int, error) {
	kind, err := imagery.ParseKind(conf.ImageKind)
	if err != nil {
		return 0, err
	}
	part, err := newPartitioner(conf)
	if err != nil {
		return 0, err
	}
	lister, closeLister, err := NewLister(conf, kind)
	if err != nil {
		return 0, err
	}
	defer closeLister()
	return manifest.WriteFile(ctx, lister, conf.ManifestPath, part.NumRegions(), conf.Verbose)
}

func newPartitioner(conf *utils.Config) (*tiling.Partitioner, error) {
	strategy, err := tiling.ParseStrategy(conf.Strategy)
	if err != nil {
		return nil, err
	}
	return tiling.PartitionerForRegions(strategy, conf.NumRegions)
}

// OpenDataset builds the dataset described by conf, reading images
// through driver. The manifest is (re)built when rebuild is set or no
// manifest exists yet. The returned dataset owns its cache folder and
// metrics logger until Close; the caller keeps ownership of driver.
func OpenDataset(ctx context.Context, conf *utils.Config, driver imagery.Driver, rebuild bool) (*Dataset, error) {
	kind, err := imagery.ParseKind(conf.ImageKind)
	if err != nil {
		return nil, err
	}
	part, err := newPartitioner(conf)
	if err != nil {
		return nil, err
	}
	policy, err := ParseNodataPolicy(conf.NoDataPolicy)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(conf.ManifestPath); rebuild || os.IsNotExist(statErr) {
		n, err := BuildManifest(ctx, conf)
		if err != nil {
			return nil, err
		}
		if conf.Verbose {
			log.Printf("dataset: wrote %d descriptors to %s", n, conf.ManifestPath)
		}
	}

	cache, err := imagery.NewFolderCache(conf.CacheFolder, conf.CacheLimit, nil, conf.Verbose)
	if err != nil {
		return nil, err
	}

	convertTemplate := conf.ConvertTemplate
	if len(convertTemplate) > 0 {
		resolver := utils.NewRuntimeFileResolver(conf.SearchPath)
		if tmplPath, err := resolver.Lookup(convertTemplate); err == nil {
			b, err := os.ReadFile(tmplPath)
			if err != nil {
				return nil, errors.Wrapf(err, "reading convert template %s", tmplPath)
			}
			convertTemplate = string(b)
		}
	}

	var info imagery.InfoCache
	if len(conf.MemcacheServers) > 0 {
		info = imagery.NewMemcacheInfoCache(conf.MemcacheServers...)
	}
	prepOpts := imagery.PrepOptions{Cache: cache, ConvertTemplate: convertTemplate, Verbose: conf.Verbose}
	facade, err := imagery.NewFacade(kind, prepOpts, driver, info)
	if err != nil {
		return nil, err
	}

	var logger metrics.Logger
	closeLogger := func() error { return nil }
	if len(conf.LogDir) > 0 {
		fl, err := metrics.NewFileLogger(conf.LogDir, 0, 0, conf.Verbose)
		if err != nil {
			return nil, err
		}
		logger = fl
		closeLogger = func() error { fl.Close(); return nil }
	} else if conf.Verbose {
		logger = metrics.NewStdoutLogger()
	}

	images := &resolvingOpener{resolver: utils.NewRuntimeFileResolver(conf.SearchPath, conf.ImageFolder), images: facade}
	dsCfg := DatasetConfig{
		ManifestPath: conf.ManifestPath,
		Partitioner:  part,
		ChunkSize:    conf.ChunkSize,
		ChunkOverlap: conf.ChunkOverlap,
		NumThreads:   conf.NumThreads,
		Prefetch:     conf.Prefetch,
		Filter:       NodataFilter{Value: float32(conf.NoDataValue), Policy: policy},
		BatchFilter:  conf.BatchFilter,
		Verbose:      conf.Verbose,
	}
	ds, err := NewDataset(dsCfg, images, SyntheticLabeler{}, logger)
	if err != nil {
		closeLogger()
		return nil, err
	}
	ds.cache = cache
	ds.closers = append(ds.closers, closeLogger)
	return ds, nil
}
