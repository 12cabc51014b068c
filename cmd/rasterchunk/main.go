package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nci/rasterchunk/imagery"
	"github.com/nci/rasterchunk/imagery/gdaldriver"
	"github.com/nci/rasterchunk/processor"
	"github.com/nci/rasterchunk/utils"
	"github.com/nci/rasterchunk/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"
)

var (
	configFile string
	verbose    bool
	rebuild    bool
	limit      int

	port     int
	poolSize int
	maxOpen  int
)

var rootCmd = &cobra.Command{
	Use:   "rasterchunk",
	Short: "chunk large rasters into training samples",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "conf", "c", "rasterchunk.yaml", "dataset config file (yaml or json)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.AddCommand(manifestCmd, inspectCmd, workerCmd)

	inspectCmd.Flags().BoolVar(&rebuild, "rebuild", false, "rebuild the manifest before iterating")
	inspectCmd.Flags().IntVar(&limit, "limit", 0, "stop after this many samples (0 for all)")

	workerCmd.Flags().IntVarP(&port, "port", "p", 6000, "gRPC server listening port")
	workerCmd.Flags().IntVarP(&poolSize, "pool", "n", 8, "maximum number of requests handled concurrently")
	workerCmd.Flags().IntVar(&maxOpen, "max-open", worker.DefaultMaxOpenReaders, "maximum number of images kept open")
}

func loadConfig() (*utils.Config, error) {
	conf, err := utils.LoadConfigFile(configFile)
	if err != nil {
		return nil, err
	}
	conf.Verbose = conf.Verbose || verbose
	return conf, nil
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "list the source images and write the region manifest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		n, err := processor.BuildManifest(cmd.Context(), conf)
		if err != nil {
			return err
		}
		fmt.Printf("%d descriptors written to %s\n", n, conf.ManifestPath)
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "iterate the dataset once and report what it yields",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		driver, closeDriver, err := newImageDriver(conf)
		if err != nil {
			return err
		}
		defer closeDriver()
		ds, err := processor.OpenDataset(cmd.Context(), conf, driver, rebuild)
		if err != nil {
			return err
		}
		defer ds.Close()
		return inspect(cmd.Context(), ds)
	},
}

// newImageDriver reads through worker nodes when any are configured and
// through GDAL locally otherwise.
func newImageDriver(conf *utils.Config) (imagery.Driver, func() error, error) {
	if len(conf.WorkerNodes) > 0 {
		rd, err := worker.DialRemoteDriver(conf.WorkerNodes)
		if err != nil {
			return nil, nil, err
		}
		return rd, rd.Close, nil
	}
	return gdaldriver.New(conf.NumThreads), func() error { return nil }, nil
}

func inspect(ctx context.Context, ds *processor.Dataset) error {
	var pbar *progressbar.ProgressBar
	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		pbar = progressbar.NewOptions(ds.NumRegions(),
			progressbar.OptionSetDescription("Extracting regions"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWriter(os.Stdout),
		)
	}

	start := time.Now()
	it := ds.Iterator(ctx)
	defer it.Close()

	var sampleBytes uint64
	labels := make(map[int32]int)
	for n := 0; limit <= 0 || n < limit; n++ {
		s, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		sampleBytes += uint64(len(s.Chunk)) * 4
		labels[s.Label]++
		if pbar != nil {
			pbar.Set(int(ds.Stats().Descriptors))
		}
	}
	if pbar != nil {
		pbar.Finish()
		fmt.Println()
	}

	stats := ds.Stats()
	fmt.Printf("regions: %d of %d\n", stats.Descriptors, ds.NumRegions())
	fmt.Printf("chunks: %d extracted, %d rejected as nodata\n", stats.ChunksExtracted, stats.ChunksRejected)
	fmt.Printf("samples: %d (%s) in %v\n", stats.Samples, humanize.Bytes(sampleBytes), time.Since(start).Round(time.Millisecond))
	for label, count := range labels {
		fmt.Printf("\tlabel %d: %s\n", label, humanize.Comma(int64(count)))
	}
	return nil
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "serve window reads of local images to remote extractors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := worker.NewServer(gdaldriver.New(poolSize), poolSize, maxOpen, verbose)

		go func() {
			<-cmd.Context().Done()
			s.Stop()
		}()

		lis, err := worker.Listen(fmt.Sprintf(":%d", port))
		if err != nil {
			return err
		}
		return s.Serve(lis)
	},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}
