// Package snapshot captures a canvas region to disk on an interval.
package snapshot

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/tile"
)

// Extractor produces the PNG bytes for a region. stitch.Extractor implements it.
type Extractor interface {
	ExtractBlob(ctx context.Context, r tile.Region) ([]byte, error)
}

// Recorder writes numbered region snapshots: <seq>-X<tileX>-Y<tileY>.png.
type Recorder struct {
	Extractor Extractor
	Dir       string
	Region    tile.Region

	// Interval between captures. Defaults to 5m.
	Interval time.Duration

	// Count limits how many snapshots to take; 0 means run until ctx ends.
	Count int
}

var snapRe = regexp.MustCompile(`^(\d+)-X(-?\d+)-Y(-?\d+)\.png$`)

// Run captures one snapshot immediately, then one per interval. The sequence
// number continues from whatever is already in the directory, so restarts
// keep appending to the same series.
func (rec *Recorder) Run(ctx context.Context) error {
	if err := rec.Region.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(rec.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", rec.Dir, err)
	}

	seq := rec.nextSeq()
	taken := 0

	interval := rec.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := rec.capture(ctx, seq); err != nil {
			log.Printf("snapshot %d failed: %v", seq, err)
		} else {
			seq++
		}
		taken++
		if rec.Count > 0 && taken >= rec.Count {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (rec *Recorder) capture(ctx context.Context, seq int) error {
	blob, err := rec.Extractor.ExtractBlob(ctx, rec.Region)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%d-X%d-Y%d.png", seq, rec.Region.From.TileX, rec.Region.From.TileY)
	path := filepath.Join(rec.Dir, name)
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Printf("wrote %s (%d bytes)", path, len(blob))
	return nil
}

// nextSeq scans the directory for existing snapshots and returns one past
// the highest sequence number found.
func (rec *Recorder) nextSeq() int {
	entries, err := os.ReadDir(rec.Dir)
	if err != nil {
		return 1
	}
	biggest := 0
	for _, e := range entries {
		m := snapRe.FindStringSubmatch(e.Name())
		if len(m) != 4 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > biggest {
			biggest = n
		}
	}
	return biggest + 1
}
