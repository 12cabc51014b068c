package tiling

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidRegionIndex = errors.New("invalid region index")

// Strategy selects how an image is cut into regions.
type Strategy int

const (
	HorizontalBands Strategy = iota
	TileGrid
)

func (s Strategy) String() string {
	switch s {
	case HorizontalBands:
		return "bands"
	case TileGrid:
		return "grid"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bands", "horizontal", "horizontal_bands":
		return HorizontalBands, nil
	case "grid", "tiles", "tile_grid":
		return TileGrid, nil
	}
	return HorizontalBands, fmt.Errorf("unknown partition strategy: %q", name)
}

// NumRegions returns how many region indices are addressable for the
// given strategy. Bands yield numSplits regions, the grid numSplits².
func NumRegions(strategy Strategy, numSplits int) int {
	if numSplits <= 0 {
		return 0
	}
	if strategy == TileGrid {
		return numSplits * numSplits
	}
	return numSplits
}

// Partition maps a region index to the pixel rectangle it covers.
func Partition(size ImageSize, region, numSplits int, strategy Strategy) (Rectangle, error) {
	switch strategy {
	case HorizontalBands:
		return HorizontalBandRegion(size, region, numSplits)
	case TileGrid:
		return TileGridRegion(size, region, numSplits)
	}
	return Rectangle{}, fmt.Errorf("unknown partition strategy: %v", strategy)
}

func checkRegion(size ImageSize, region, numSplits, numRegions int) error {
	if size.Width <= 0 || size.Height <= 0 {
		return fmt.Errorf("invalid image size %v", size)
	}
	if numSplits <= 0 {
		return errors.Wrapf(ErrInvalidRegionIndex, "num splits must be positive, got %d", numSplits)
	}
	if region < 0 || region >= numRegions {
		return errors.Wrapf(ErrInvalidRegionIndex, "region %d outside [0, %d)", region, numRegions)
	}
	return nil
}

// HorizontalBandRegion returns the region-th of numSplits horizontal bands
// spanning the full image width. Each band boundary is floored
// independently from the fractional band height, so neighbouring bands can
// gap or overlap by one pixel.
func HorizontalBandRegion(size ImageSize, region, numSplits int) (Rectangle, error) {
	if err := checkRegion(size, region, numSplits, numSplits); err != nil {
		return Rectangle{}, err
	}

	bandHeight := float64(size.Height) / float64(numSplits)
	minY := int(math.Floor(bandHeight * float64(region)))
	maxY := int(math.Floor(bandHeight * float64(region+1)))

	return Rectangle{MinX: 0, MinY: minY, MaxX: size.Width, MaxY: maxY}, nil
}

// TileGridRegion returns the tile at row region/numSplits, column
// region%numSplits of a numSplits x numSplits grid. Tile sizes are the
// floored image dimensions divided by numSplits, so the last row and
// column leave any remainder pixels uncovered.
func TileGridRegion(size ImageSize, region, numSplits int) (Rectangle, error) {
	if err := checkRegion(size, region, numSplits, numSplits*numSplits); err != nil {
		return Rectangle{}, err
	}

	row, col := GridPosition(region, numSplits)
	tileWidth := size.Width / numSplits
	tileHeight := size.Height / numSplits

	return Rectangle{
		MinX: tileWidth * col,
		MinY: tileHeight * row,
		MaxX: tileWidth * (col + 1),
		MaxY: tileHeight * (row + 1),
	}, nil
}

// GridPosition decomposes a tile index into its row and column.
func GridPosition(region, numSplits int) (row, col int) {
	return region / numSplits, region % numSplits
}

// GridIndex is the inverse of GridPosition.
func GridIndex(row, col, numSplits int) int {
	return row*numSplits + col
}

// Partitioner binds a strategy and split count for the lifetime of a
// dataset.
type Partitioner struct {
	Strategy  Strategy
	NumSplits int
}

func NewPartitioner(strategy Strategy, numSplits int) (*Partitioner, error) {
	if numSplits <= 0 {
		return nil, fmt.Errorf("num splits must be positive, got %d", numSplits)
	}
	return &Partitioner{Strategy: strategy, NumSplits: numSplits}, nil
}

// PartitionerForRegions picks the split count that yields numRegions
// regions under strategy. The grid requires a perfect square.
func PartitionerForRegions(strategy Strategy, numRegions int) (*Partitioner, error) {
	if numRegions <= 0 {
		return nil, fmt.Errorf("num regions must be positive, got %d", numRegions)
	}
	if strategy != TileGrid {
		return NewPartitioner(strategy, numRegions)
	}
	n := int(math.Round(math.Sqrt(float64(numRegions))))
	if n*n != numRegions {
		return nil, fmt.Errorf("grid partitioning needs a square number of regions, got %d", numRegions)
	}
	return NewPartitioner(strategy, n)
}

func (p *Partitioner) NumRegions() int {
	return NumRegions(p.Strategy, p.NumSplits)
}

func (p *Partitioner) Region(size ImageSize, region int) (Rectangle, error) {
	return Partition(size, region, p.NumSplits, p.Strategy)
}
