// Package canvas talks to the wplace backend: tile images and per-pixel
// painted-by lookups.
package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/tile"
)

const (
	DefaultBaseURL = "https://backend.wplace.live"

	defaultUserAgent = "wplace-extract/1.0 (+https://github.com/cubitt0/Wplace-SkirkMarble-art-extractor)"
	defaultTimeout   = 20 * time.Second
	defaultRateLimit = 500 * time.Millisecond // 2 req/s
	defaultRetries   = 4
)

// Options configures a Client. The zero value gets sensible defaults from New.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RateLimit  time.Duration // min delay between requests; <0 disables
	MaxRetries int

	// CacheDir, when set, caches downloaded tiles as <dir>/<x>/<y>.png.
	CacheDir string

	// Cloudflare clearance and session cookies, needed when the backend is
	// behind a challenge. Both optional.
	CFClearance string
	JCookie     string
}

// Client fetches tiles and pixel metadata from the wplace backend.
type Client struct {
	http    *http.Client
	opts    Options
	limiter *time.Ticker
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	c := &Client{
		http: &http.Client{Timeout: opts.Timeout},
		opts: opts,
	}
	if opts.RateLimit > 0 {
		c.limiter = time.NewTicker(opts.RateLimit)
	}
	return c
}

// Close releases the rate limiter.
func (c *Client) Close() {
	if c.limiter != nil {
		c.limiter.Stop()
	}
}

// Tile fetches one 1000x1000 canvas tile. Tiles the backend has never served
// a paint on come back 404; those are returned as a fully transparent tile
// rather than an error.
func (c *Client) Tile(ctx context.Context, tileX, tileY int) (image.Image, error) {
	if img, ok := c.cachedTile(tileX, tileY); ok {
		return img, nil
	}

	url := fmt.Sprintf("%s/files/s0/tiles/%d/%d.png", c.opts.BaseURL, tileX, tileY)

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		img, retryIn, err := c.fetchTileOnce(ctx, url, tileX, tileY)
		if err == nil {
			return img, nil
		}
		lastErr = err
		if retryIn < 0 {
			return nil, err
		}
		// the server's Retry-After wins over our own backoff
		if retryIn == 0 {
			retryIn = backoff(attempt)
		}
		if err := sleepCtx(ctx, retryIn); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("tile %d/%d: %w", tileX, tileY, lastErr)
}

// fetchTileOnce makes a single attempt. On failure, retryIn tells the caller
// how to proceed: <0 means permanent, 0 means retry after the usual backoff,
// >0 is a server-mandated wait (Retry-After).
func (c *Client) fetchTileOnce(ctx context.Context, url string, tileX, tileY int) (img image.Image, retryIn time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, -1, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// decode below
	case http.StatusNotFound:
		// never-painted tile
		return BlankTile(), 0, nil
	case http.StatusTooManyRequests:
		wait := 5 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, e := strconv.Atoi(ra); e == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		if wait < time.Millisecond {
			// "retry now" must stay a positive hint, or the caller would
			// mistake it for no hint and back off anyway
			wait = time.Millisecond
		}
		return nil, wait, fmt.Errorf("http 429")
	default:
		return nil, 0, fmt.Errorf("http %d", resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	img, err = png.Decode(io.TeeReader(resp.Body, buf))
	if err != nil {
		return nil, 0, fmt.Errorf("decode: %w", err)
	}
	c.storeTile(tileX, tileY, buf.Bytes())
	return img, 0, nil
}

// BlankTile returns a fully transparent tile-sized image.
func BlankTile() image.Image {
	return image.NewNRGBA(image.Rect(0, 0, tile.Size, tile.Size))
}

// PaintedBy identifies the user who last painted a pixel.
type PaintedBy struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	AllianceID   int    `json:"allianceId"`
	AllianceName string `json:"allianceName"`
	EquippedFlag int    `json:"equippedFlag"`
}

type pixelResponse struct {
	PaintedBy PaintedBy `json:"paintedBy"`
}

// Pixel looks up who painted the given pixel.
func (c *Client) Pixel(ctx context.Context, at tile.Coordinate) (PaintedBy, error) {
	if err := at.Valid(); err != nil {
		return PaintedBy{}, err
	}
	url := fmt.Sprintf("%s/s0/pixel/%d/%d?x=%d&y=%d", c.opts.BaseURL, at.TileX, at.TileY, at.PxX, at.PxY)

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if err := c.wait(ctx); err != nil {
			return PaintedBy{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return PaintedBy{}, err
		}
		req.Header.Set("Accept", "application/json")
		c.setHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request error: %w", err)
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("read error: %w", readErr)
			case resp.StatusCode != http.StatusOK:
				lastErr = fmt.Errorf("http %d", resp.StatusCode)
			default:
				var pr pixelResponse
				if err := json.Unmarshal(body, &pr); err != nil {
					lastErr = fmt.Errorf("json error: %w", err)
				} else {
					return pr.PaintedBy, nil
				}
			}
		}
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return PaintedBy{}, err
		}
	}
	return PaintedBy{}, fmt.Errorf("pixel %s: %w", at, lastErr)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.CFClearance != "" || c.opts.JCookie != "" {
		var b bytes.Buffer
		if c.opts.CFClearance != "" {
			b.WriteString("cf_clearance=")
			b.WriteString(c.opts.CFClearance)
		}
		if c.opts.JCookie != "" {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString("j=")
			b.WriteString(c.opts.JCookie)
		}
		req.Header.Set("Cookie", b.String())
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case <-c.limiter.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) cachePath(tileX, tileY int) string {
	return filepath.Join(c.opts.CacheDir, strconv.Itoa(tileX), fmt.Sprintf("%d.png", tileY))
}

func (c *Client) cachedTile(tileX, tileY int) (image.Image, bool) {
	if c.opts.CacheDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.cachePath(tileX, tileY))
	if err != nil {
		return nil, false
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		// corrupted cache entry, fall back to download
		return nil, false
	}
	return img, true
}

func (c *Client) storeTile(tileX, tileY int, data []byte) {
	if c.opts.CacheDir == "" {
		return
	}
	p := c.cachePath(tileX, tileY)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(p, data, 0o644)
}

// backoff keeps retries gentle: 150ms, 300ms, 450ms, ...
func backoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * 150 * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
