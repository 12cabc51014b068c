package tiling

import (
	"errors"
	"testing"
)

func TestHorizontalBandRegion(t *testing.T) {
	size := ImageSize{Width: 100, Height: 40}

	cases := []struct {
		region   int
		expected Rectangle
	}{
		{0, Rectangle{0, 0, 100, 10}},
		{1, Rectangle{0, 10, 100, 20}},
		{3, Rectangle{0, 30, 100, 40}},
	}

	for _, c := range cases {
		out, err := HorizontalBandRegion(size, c.region, 4)
		if err != nil {
			t.Errorf("region %d: unexpected error: %v", c.region, err)
			continue
		}
		if out != c.expected {
			t.Errorf("region %d: expected %v, actual %v", c.region, c.expected, out)
		}
	}
}

func TestHorizontalBandCoverage(t *testing.T) {
	sizes := []ImageSize{{100, 40}, {7, 13}, {1, 1}, {512, 1001}, {3, 2}}
	for _, size := range sizes {
		for numSplits := 1; numSplits <= 9; numSplits++ {
			prevMax := 0
			for r := 0; r < numSplits; r++ {
				rect, err := HorizontalBandRegion(size, r, numSplits)
				if err != nil {
					t.Fatalf("size %v splits %d region %d: %v", size, numSplits, r, err)
				}
				if rect.MinX != 0 || rect.MaxX != size.Width {
					t.Errorf("size %v splits %d region %d: x range %v", size, numSplits, r, rect)
				}
				if d := rect.MinY - prevMax; d < -1 || d > 1 {
					t.Errorf("size %v splits %d region %d: boundary drift %d", size, numSplits, r, d)
				}
				if rect.Height() < 0 {
					t.Errorf("negative height %v", rect)
				}
				prevMax = rect.MaxY
			}
			if d := size.Height - prevMax; d < 0 || d > 1 {
				t.Errorf("size %v splits %d: last band ends at %d", size, numSplits, prevMax)
			}
		}
	}
}

func TestRegionOutOfRange(t *testing.T) {
	size := ImageSize{Width: 64, Height: 64}

	for _, region := range []int{4, 5, 100, -1} {
		if _, err := Partition(size, region, 4, HorizontalBands); !errors.Is(err, ErrInvalidRegionIndex) {
			t.Errorf("bands region %d: expected ErrInvalidRegionIndex, got %v", region, err)
		}
	}

	for _, region := range []int{16, 17, -1} {
		if _, err := Partition(size, region, 4, TileGrid); !errors.Is(err, ErrInvalidRegionIndex) {
			t.Errorf("grid region %d: expected ErrInvalidRegionIndex, got %v", region, err)
		}
	}

	if _, err := Partition(size, 0, 0, HorizontalBands); !errors.Is(err, ErrInvalidRegionIndex) {
		t.Errorf("zero splits: expected ErrInvalidRegionIndex, got %v", err)
	}
}

func TestTileGridRegion(t *testing.T) {
	size := ImageSize{Width: 100, Height: 50}
	n := 3

	if got := NumRegions(TileGrid, n); got != 9 {
		t.Fatalf("expected 9 regions, got %d", got)
	}

	seen := make(map[Rectangle]bool)
	for r := 0; r < NumRegions(TileGrid, n); r++ {
		rect, err := TileGridRegion(size, r, n)
		if err != nil {
			t.Fatalf("region %d: %v", r, err)
		}
		if seen[rect] {
			t.Errorf("region %d: duplicate rectangle %v", r, rect)
		}
		seen[rect] = true

		row, col := GridPosition(r, n)
		if GridIndex(row, col, n) != r {
			t.Errorf("region %d does not round trip through (%d,%d)", r, row, col)
		}
		if rect.Width() != 33 || rect.Height() != 16 {
			t.Errorf("region %d: unexpected tile %v", r, rect)
		}
	}

	last, _ := TileGridRegion(size, 8, n)
	expected := Rectangle{66, 32, 99, 48}
	if last != expected {
		t.Errorf("expected last tile %v, actual %v", expected, last)
	}
}

func TestPartitionerForRegions(t *testing.T) {
	p, err := PartitionerForRegions(TileGrid, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.NumSplits != 4 || p.NumRegions() != 16 {
		t.Errorf("unexpected partitioner %+v", p)
	}

	if _, err := PartitionerForRegions(TileGrid, 10); err == nil {
		t.Errorf("expected error for non-square grid region count")
	}

	p, err = PartitionerForRegions(HorizontalBands, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rect, err := p.Region(ImageSize{100, 40}, 3)
	if err != nil || rect != (Rectangle{0, 30, 100, 40}) {
		t.Errorf("unexpected region %v, err %v", rect, err)
	}
}

func TestParseStrategy(t *testing.T) {
	for in, expected := range map[string]Strategy{"": HorizontalBands, "bands": HorizontalBands, "Grid": TileGrid, "tiles": TileGrid} {
		s, err := ParseStrategy(in)
		if err != nil || s != expected {
			t.Errorf("ParseStrategy(%q) = %v, %v", in, s, err)
		}
	}
	if _, err := ParseStrategy("diagonal"); err == nil {
		t.Errorf("expected error for unknown strategy")
	}
}

func TestNewRectangle(t *testing.T) {
	if _, err := NewRectangle(5, 0, 4, 10); !errors.Is(err, ErrInvalidRectangle) {
		t.Errorf("expected ErrInvalidRectangle, got %v", err)
	}
	r, err := NewRectangle(0, 0, 25, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Width() != 25 || r.Height() != 10 || r.Empty() {
		t.Errorf("unexpected rectangle %v", r)
	}
	if !r.Contains(Rectangle{10, 0, 20, 10}) || r.Contains(Rectangle{20, 0, 30, 10}) {
		t.Errorf("Contains mismatch for %v", r)
	}
}
