package tiling

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrInvalidRectangle = errors.New("invalid rectangle")

// Rectangle is a pixel-space region using the half-open convention
// [MinX, MaxX) x [MinY, MaxY).
type Rectangle struct {
	MinX, MinY int
	MaxX, MaxY int
}

func NewRectangle(minX, minY, maxX, maxY int) (Rectangle, error) {
	if minX > maxX || minY > maxY {
		return Rectangle{}, errors.Wrapf(ErrInvalidRectangle, "(%d,%d,%d,%d)", minX, minY, maxX, maxY)
	}
	return Rectangle{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}, nil
}

func (r Rectangle) Width() int {
	if r.MaxX < r.MinX {
		return 0
	}
	return r.MaxX - r.MinX
}

func (r Rectangle) Height() int {
	if r.MaxY < r.MinY {
		return 0
	}
	return r.MaxY - r.MinY
}

func (r Rectangle) Empty() bool {
	return r.Width() == 0 || r.Height() == 0
}

func (r Rectangle) Area() int {
	return r.Width() * r.Height()
}

// Contains reports whether o lies entirely inside r.
func (r Rectangle) Contains(o Rectangle) bool {
	return o.MinX >= r.MinX && o.MinY >= r.MinY && o.MaxX <= r.MaxX && o.MaxY <= r.MaxY
}

func (r Rectangle) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", r.MinX, r.MinY, r.MaxX, r.MaxY)
}

// ImageSize is the pixel extent of a source image.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s ImageSize) Bounds() Rectangle {
	return Rectangle{MaxX: s.Width, MaxY: s.Height}
}

func (s ImageSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}
