// Package tile models the wplace two-level tile/pixel coordinate system.
//
// The canvas is an infinite grid of 1000x1000 pixel tiles. A pixel is
// addressed either by a Coordinate (tile index plus local offset) or by a
// single global coordinate, global = tile*1000 + local.
package tile

import (
	"errors"
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"
)

const (
	// Size is the edge length of one canvas tile in pixels.
	Size = 1000

	// MaxRegionPixels caps the area of an extractable region. Roughly eight
	// full tiles; anything bigger is almost certainly a mis-click.
	MaxRegionPixels = 8_000_000
)

var (
	ErrPixelRange     = errors.New("pixel offset out of range")
	ErrRegionInverted = errors.New("region corners inverted")
	ErrRegionTooLarge = errors.New("region exceeds size cap")
)

// Coordinate identifies one pixel on the canvas. JSON tags match the wplace
// backend's pixel API.
type Coordinate struct {
	TileX int `json:"tileX"`
	TileY int `json:"tileY"`
	PxX   int `json:"x"`
	PxY   int `json:"y"`
}

// GlobalX returns the pixel's position in unified canvas space.
func (c Coordinate) GlobalX() int { return c.TileX*Size + c.PxX }

// GlobalY returns the pixel's position in unified canvas space.
func (c Coordinate) GlobalY() int { return c.TileY*Size + c.PxY }

// Valid reports whether the local offsets are inside a tile.
func (c Coordinate) Valid() error {
	if c.PxX < 0 || c.PxX >= Size || c.PxY < 0 || c.PxY >= Size {
		return fmt.Errorf("%w: px %d,%d", ErrPixelRange, c.PxX, c.PxY)
	}
	return nil
}

// String renders the coordinate the way the site's location readout does.
func (c Coordinate) String() string {
	return fmt.Sprintf("(Tl X: %d, Tl Y: %d, Px X: %d, Px Y: %d)", c.TileX, c.TileY, c.PxX, c.PxY)
}

// FromGlobal converts a global pixel position back to tile+offset form.
// Handles negative coordinates (tiles west/north of the origin).
func FromGlobal(gx, gy int) Coordinate {
	tx := floorDiv(gx, Size)
	ty := floorDiv(gy, Size)
	return Coordinate{
		TileX: tx,
		TileY: ty,
		PxX:   gx - tx*Size,
		PxY:   gy - ty*Size,
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Region is an inclusive axis-aligned rectangle between two coordinates.
// A valid region has From <= To on both axes in global space.
type Region struct {
	From Coordinate `json:"from"`
	To   Coordinate `json:"to"`
}

// Width is the inclusive pixel width.
func (r Region) Width() int { return r.To.GlobalX() - r.From.GlobalX() + 1 }

// Height is the inclusive pixel height.
func (r Region) Height() int { return r.To.GlobalY() - r.From.GlobalY() + 1 }

// Pixels is the region's area.
func (r Region) Pixels() int { return r.Width() * r.Height() }

// Validate rejects out-of-range corners, inverted regions and regions over
// the size cap.
func (r Region) Validate() error {
	if err := r.From.Valid(); err != nil {
		return fmt.Errorf("from %s: %w", r.From, err)
	}
	if err := r.To.Valid(); err != nil {
		return fmt.Errorf("to %s: %w", r.To, err)
	}
	if r.To.GlobalX() < r.From.GlobalX() || r.To.GlobalY() < r.From.GlobalY() {
		return fmt.Errorf("%w: from %s to %s", ErrRegionInverted, r.From, r.To)
	}
	if r.Pixels() > MaxRegionPixels {
		return fmt.Errorf("%w: %dx%d = %d px (cap %d)", ErrRegionTooLarge, r.Width(), r.Height(), r.Pixels(), MaxRegionPixels)
	}
	return nil
}

// Normalize returns the region with corners swapped per axis so that
// From <= To. Lets callers accept corners picked in any order.
func (r Region) Normalize() Region {
	x0, x1 := r.From.GlobalX(), r.To.GlobalX()
	y0, y1 := r.From.GlobalY(), r.To.GlobalY()
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return Region{From: FromGlobal(x0, y0), To: FromGlobal(x1, y1)}
}

// TileRange returns the inclusive span of tile indices the region touches.
func (r Region) TileRange() (minX, minY, maxX, maxY int) {
	return r.From.TileX, r.From.TileY, r.To.TileX, r.To.TileY
}

// CropRect is the region's bounds relative to the top-left corner of its
// top-left covered tile, as needed to crop a stitched tile mosaic.
func (r Region) CropRect() image.Rectangle {
	x0 := r.From.GlobalX() - r.From.TileX*Size
	y0 := r.From.GlobalY() - r.From.TileY*Size
	return image.Rect(x0, y0, x0+r.Width(), y0+r.Height())
}

// Display format: (Tl X: 742, Tl Y: 1148, Px X: 318, Px Y: 484)
var coordRe = regexp.MustCompile(`Tl\s*X:\s*(-?\d+),\s*Tl\s*Y:\s*(-?\d+),\s*Px\s*X:\s*(\d+),\s*Px\s*Y:\s*(\d+)`)

// ParseCoordinate reads either the site's location readout format or a bare
// "tileX,tileY,pxX,pxY" quadruple.
func ParseCoordinate(s string) (Coordinate, error) {
	if m := coordRe.FindStringSubmatch(s); m != nil {
		return coordFromFields(m[1:])
	}
	parts := strings.Split(s, ",")
	if len(parts) == 4 {
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return coordFromFields(parts)
	}
	return Coordinate{}, fmt.Errorf("cannot parse coordinate %q", s)
}

func coordFromFields(fields []string) (Coordinate, error) {
	vals := make([]int, 4)
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Coordinate{}, fmt.Errorf("coordinate field %q: %w", f, err)
		}
		vals[i] = n
	}
	c := Coordinate{TileX: vals[0], TileY: vals[1], PxX: vals[2], PxY: vals[3]}
	if err := c.Valid(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}
