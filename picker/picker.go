// Package picker resolves "pick a corner" operations against a shared,
// externally-owned coordinate value.
//
// The host application updates its current coordinate whenever the user
// clicks the canvas; it does not push change notifications, so the picker
// polls. A pick resolves the first time the value differs from what it was
// when the pick started.
package picker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/tile"
)

// ErrPickPending is returned when a pick is started while another is waiting.
var ErrPickPending = errors.New("picker: pick already pending")

// Source exposes the shared coordinate. ok is false while no coordinate has
// been set yet.
type Source interface {
	Current() (c tile.Coordinate, ok bool)
}

// Picker waits for the user's next coordinate selection.
type Picker struct {
	Source Source

	// Interval between polls. Defaults to 250ms.
	Interval time.Duration

	mu      sync.Mutex
	pending bool
}

// Pick blocks until the source's coordinate changes from its value at call
// time, then returns the new coordinate. At most one pick may be pending;
// concurrent calls get ErrPickPending. Cancel via ctx.
func (p *Picker) Pick(ctx context.Context) (tile.Coordinate, error) {
	p.mu.Lock()
	if p.pending {
		p.mu.Unlock()
		return tile.Coordinate{}, ErrPickPending
	}
	p.pending = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.pending = false
		p.mu.Unlock()
	}()

	base, baseOK := p.Source.Current()

	interval := p.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return tile.Coordinate{}, ctx.Err()
		case <-ticker.C:
			cur, ok := p.Source.Current()
			if !ok {
				continue
			}
			if !baseOK || cur != base {
				return cur, nil
			}
		}
	}
}

// PickRegion runs two consecutive picks and returns the normalized region
// between them.
func (p *Picker) PickRegion(ctx context.Context) (tile.Region, error) {
	from, err := p.Pick(ctx)
	if err != nil {
		return tile.Region{}, err
	}
	to, err := p.Pick(ctx)
	if err != nil {
		return tile.Region{}, err
	}
	return tile.Region{From: from, To: to}.Normalize(), nil
}
