package stitch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/tile"
)

// fakeFetcher serves solid-color tiles whose color encodes the tile index,
// so stitched output can be checked pixel by pixel.
type fakeFetcher struct {
	blank map[[2]int]bool // tiles served as never-painted
	calls atomic.Int32
}

func tileColor(tx, ty int) color.NRGBA {
	return color.NRGBA{R: uint8(tx * 50), G: uint8(ty * 50), B: 7, A: 255}
}

func (f *fakeFetcher) Tile(_ context.Context, tx, ty int) (image.Image, error) {
	f.calls.Add(1)
	img := image.NewNRGBA(image.Rect(0, 0, tile.Size, tile.Size))
	if f.blank[[2]int{tx, ty}] {
		return img, nil
	}
	c := tileColor(tx, ty)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img, nil
}

type errFetcher struct{ err error }

func (f *errFetcher) Tile(context.Context, int, int) (image.Image, error) {
	return nil, f.err
}

func TestExtractSingleTile(t *testing.T) {
	ex := &Extractor{Fetcher: &fakeFetcher{}}
	r := tile.Region{
		From: tile.Coordinate{TileX: 2, TileY: 3, PxX: 10, PxY: 20},
		To:   tile.Coordinate{TileX: 2, TileY: 3, PxX: 19, PxY: 24},
	}

	img, err := ex.Extract(context.Background(), r)
	assert.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())
	assert.Equal(t, tileColor(2, 3), img.NRGBAAt(0, 0))
	assert.Equal(t, tileColor(2, 3), img.NRGBAAt(9, 4))
}

func TestExtractAcrossTileBoundary(t *testing.T) {
	ex := &Extractor{Fetcher: &fakeFetcher{}, Workers: 2}
	r := tile.Region{
		From: tile.Coordinate{TileX: 0, TileY: 0, PxX: 998, PxY: 998},
		To:   tile.Coordinate{TileX: 1, TileY: 1, PxX: 1, PxY: 1},
	}

	img, err := ex.Extract(context.Background(), r)
	assert.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	// each quadrant comes from a different tile
	assert.Equal(t, tileColor(0, 0), img.NRGBAAt(0, 0))
	assert.Equal(t, tileColor(1, 0), img.NRGBAAt(3, 0))
	assert.Equal(t, tileColor(0, 1), img.NRGBAAt(0, 3))
	assert.Equal(t, tileColor(1, 1), img.NRGBAAt(3, 3))
	// boundary pixels: column 1 is still tile 0, column 2 is tile 1
	assert.Equal(t, tileColor(0, 0), img.NRGBAAt(1, 1))
	assert.Equal(t, tileColor(1, 1), img.NRGBAAt(2, 2))
}

func TestExtractNeverPaintedTile(t *testing.T) {
	f := &fakeFetcher{blank: map[[2]int]bool{{1, 0}: true}}
	ex := &Extractor{Fetcher: f}
	r := tile.Region{
		From: tile.Coordinate{TileX: 0, TileY: 0, PxX: 999, PxY: 0},
		To:   tile.Coordinate{TileX: 1, TileY: 0, PxX: 0, PxY: 0},
	}

	img, err := ex.Extract(context.Background(), r)
	assert.NoError(t, err)
	assert.Equal(t, tileColor(0, 0), img.NRGBAAt(0, 0))
	assert.Equal(t, uint8(0), img.NRGBAAt(1, 0).A, "blank tile area stays transparent")
}

func TestExtractRejectsBadRegions(t *testing.T) {
	ex := &Extractor{Fetcher: &fakeFetcher{}}

	inverted := tile.Region{
		From: tile.Coordinate{TileX: 1, TileY: 1},
		To:   tile.Coordinate{TileX: 0, TileY: 0},
	}
	_, err := ex.Extract(context.Background(), inverted)
	assert.ErrorIs(t, err, tile.ErrRegionInverted)

	huge := tile.Region{
		From: tile.Coordinate{TileX: 0, TileY: 0},
		To:   tile.Coordinate{TileX: 9, TileY: 9, PxX: 999, PxY: 999},
	}
	_, err = ex.Extract(context.Background(), huge)
	assert.ErrorIs(t, err, tile.ErrRegionTooLarge)
}

func TestExtractFetchError(t *testing.T) {
	boom := errors.New("backend down")
	ex := &Extractor{Fetcher: &errFetcher{err: boom}}
	r := tile.Region{
		From: tile.Coordinate{TileX: 0, TileY: 0},
		To:   tile.Coordinate{TileX: 0, TileY: 0, PxX: 9, PxY: 9},
	}
	_, err := ex.Extract(context.Background(), r)
	assert.ErrorIs(t, err, boom)
}

func TestExtractBlob(t *testing.T) {
	ex := &Extractor{Fetcher: &fakeFetcher{}}
	r := tile.Region{
		From: tile.Coordinate{TileX: 0, TileY: 0, PxX: 0, PxY: 0},
		To:   tile.Coordinate{TileX: 0, TileY: 0, PxX: 31, PxY: 15},
	}

	blob, err := ex.ExtractBlob(context.Background(), r)
	assert.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(blob))
	assert.NoError(t, err)
	assert.Equal(t, 32, decoded.Bounds().Dx())
	assert.Equal(t, 16, decoded.Bounds().Dy())
}

func TestExtractThinRegionAcrossManyTiles(t *testing.T) {
	// 1 px tall but 100,001 px wide: passes the area cap while covering 101
	// tiles. Output must stay region-sized, not tile-span-sized.
	ex := &Extractor{Fetcher: &fakeFetcher{}}
	r := tile.Region{
		From: tile.Coordinate{TileX: 0, TileY: 0, PxX: 500, PxY: 0},
		To:   tile.Coordinate{TileX: 100, TileY: 0, PxX: 500, PxY: 0},
	}
	assert.NoError(t, r.Validate())

	img, err := ex.Extract(context.Background(), r)
	assert.NoError(t, err)
	assert.Equal(t, 100001, img.Bounds().Dx())
	assert.Equal(t, 1, img.Bounds().Dy())

	// spot-check that each tile landed at its offset
	assert.Equal(t, tileColor(0, 0), img.NRGBAAt(0, 0))
	assert.Equal(t, tileColor(1, 0), img.NRGBAAt(500, 0))   // global x 1000
	assert.Equal(t, tileColor(50, 0), img.NRGBAAt(50000, 0)) // global x 50500
	assert.Equal(t, tileColor(100, 0), img.NRGBAAt(100000, 0))
}

func TestExtractFetchesEachTileOnce(t *testing.T) {
	f := &fakeFetcher{}
	ex := &Extractor{Fetcher: f, Workers: 8}
	r := tile.Region{
		From: tile.Coordinate{TileX: 0, TileY: 0, PxX: 500, PxY: 500},
		To:   tile.Coordinate{TileX: 2, TileY: 1, PxX: 100, PxY: 100},
	}

	_, err := ex.Extract(context.Background(), r)
	assert.NoError(t, err)
	assert.Equal(t, int32(6), f.calls.Load())
}
