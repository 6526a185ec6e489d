// Package stitch composites canvas tiles into a single extracted image.
package stitch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"sync"

	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/tile"
)

// Fetcher supplies one tile image per tile index. canvas.Client implements it.
type Fetcher interface {
	Tile(ctx context.Context, tileX, tileY int) (image.Image, error)
}

// Extractor assembles a rectangular region of the canvas into one image.
type Extractor struct {
	Fetcher Fetcher

	// Workers bounds concurrent tile fetches. Defaults to 4.
	Workers int
}

type fetched struct {
	tileX, tileY int
	img          image.Image
	err          error
}

// Extract validates the region, downloads every covered tile and composites
// the region into one image. Tiles are drawn straight into the region-sized
// output as they arrive, so memory stays proportional to the region, not to
// the covered tile span. A tile the backend does not have comes back
// transparent, not as an error.
func (e *Extractor) Extract(ctx context.Context, r tile.Region) (*image.NRGBA, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(image.Rect(0, 0, r.Width(), r.Height()))
	originX := r.From.GlobalX()
	originY := r.From.GlobalY()

	minX, minY, maxX, maxY := r.TileRange()
	numJobs := (maxX - minX + 1) * (maxY - minY + 1)

	workers := e.Workers
	if workers <= 0 {
		workers = 4
	}
	if workers > numJobs {
		workers = numJobs
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan [2]int, numJobs)
	results := make(chan fetched, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				img, err := e.Fetcher.Tile(ctx, j[0], j[1])
				results <- fetched{tileX: j[0], tileY: j[1], img: img, err: err}
				if err != nil {
					cancel()
					return
				}
			}
		}()
	}

	for ty := minY; ty <= maxY; ty++ {
		for tx := minX; tx <= maxX; tx++ {
			jobs <- [2]int{tx, ty}
		}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("tile %d/%d: %w", res.tileX, res.tileY, res.err)
			}
			continue
		}
		// place the tile at its offset in region space; draw.Draw clips the
		// parts that fall outside the region
		dx := res.tileX*tile.Size - originX
		dy := res.tileY*tile.Size - originY
		rect := image.Rect(dx, dy, dx+tile.Size, dy+tile.Size)
		draw.Draw(dst, rect, res.img, res.img.Bounds().Min, draw.Src)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return dst, nil
}

// ExtractBlob is Extract plus PNG encoding, for callers that want the final
// image bytes.
func (e *Extractor) ExtractBlob(ctx context.Context, r tile.Region) ([]byte, error) {
	img, err := e.Extract(ctx, r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}
