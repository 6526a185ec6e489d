package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/disintegration/imaging"

	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/canvas"
	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/snapshot"
	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/stitch"
	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/tile"
	"github.com/cubitt0/Wplace-SkirkMarble-art-extractor/timelapse"
)

const desc = `Extracts rectangular regions of the wplace canvas into single images.

Coordinates accept either the site's location readout, e.g.
"(Tl X: 742, Tl Y: 1148, Px X: 318, Px Y: 484)", or a bare
"tileX,tileY,pxX,pxY" quadruple.`

var cli struct {
	BaseURL     string        `default:"https://backend.wplace.live" env:"WPLACE_BASE_URL" help:"Backend base URL."`
	UserAgent   string        `env:"WPLACE_USER_AGENT" help:"Override the HTTP User-Agent."`
	CacheDir    string        `env:"WPLACE_CACHE_DIR" help:"Directory to cache downloaded tiles."`
	RateLimit   time.Duration `default:"500ms" help:"Minimum delay between backend requests."`
	Retries     int           `default:"4" help:"Retry attempts per request."`
	Workers     int           `default:"4" help:"Concurrent tile downloads."`
	CFClearance string        `env:"WPLACE_CF_CLEARANCE" help:"cf_clearance cookie value."`
	JCookie     string        `env:"WPLACE_J_COOKIE" help:"j session cookie value."`

	Extract   ExtractCmd   `cmd:"" help:"Extract a region to a PNG."`
	Pixel     PixelCmd     `cmd:"" help:"Look up who painted a pixel."`
	Snapshot  SnapshotCmd  `cmd:"" help:"Capture a region repeatedly on an interval."`
	Timelapse TimelapseCmd `cmd:"" help:"Assemble snapshots into an animated GIF."`
	Stats     StatsCmd     `cmd:"" help:"Color census of an extracted image."`
}

func newClient() *canvas.Client {
	return canvas.New(canvas.Options{
		BaseURL:     cli.BaseURL,
		UserAgent:   cli.UserAgent,
		CacheDir:    cli.CacheDir,
		RateLimit:   cli.RateLimit,
		MaxRetries:  cli.Retries,
		CFClearance: cli.CFClearance,
		JCookie:     cli.JCookie,
	})
}

func parseRegion(from, to string) (tile.Region, error) {
	f, err := tile.ParseCoordinate(from)
	if err != nil {
		return tile.Region{}, fmt.Errorf("--from: %w", err)
	}
	t, err := tile.ParseCoordinate(to)
	if err != nil {
		return tile.Region{}, fmt.Errorf("--to: %w", err)
	}
	r := tile.Region{From: f, To: t}.Normalize()
	if err := r.Validate(); err != nil {
		return tile.Region{}, err
	}
	return r, nil
}

type ExtractCmd struct {
	From string `required:"" help:"First corner of the region."`
	To   string `required:"" help:"Opposite corner of the region."`
	Out  string `short:"o" default:"extract.png" help:"Output PNG path."`
}

func (c *ExtractCmd) Run(ctx context.Context) error {
	r, err := parseRegion(c.From, c.To)
	if err != nil {
		return err
	}

	client := newClient()
	defer client.Close()

	ex := &stitch.Extractor{Fetcher: client, Workers: cli.Workers}
	blob, err := ex.ExtractBlob(ctx, r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Out, blob, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%dx%d, %d bytes)\n", c.Out, r.Width(), r.Height(), len(blob))
	return nil
}

type PixelCmd struct {
	At string `arg:"" help:"Pixel coordinate."`
}

func (c *PixelCmd) Run(ctx context.Context) error {
	at, err := tile.ParseCoordinate(c.At)
	if err != nil {
		return err
	}

	client := newClient()
	defer client.Close()

	pb, err := client.Pixel(ctx, at)
	if err != nil {
		return err
	}
	if pb.ID == 0 {
		fmt.Printf("%s: unpainted\n", at)
		return nil
	}
	fmt.Printf("%s: painted by %s (id %d)", at, pb.Name, pb.ID)
	if pb.AllianceName != "" {
		fmt.Printf(", alliance %s", pb.AllianceName)
	}
	fmt.Println()
	return nil
}

type SnapshotCmd struct {
	From     string        `required:"" help:"First corner of the region."`
	To       string        `required:"" help:"Opposite corner of the region."`
	Dir      string        `default:"snapshots" help:"Output directory."`
	Interval time.Duration `default:"5m" help:"Time between captures."`
	Count    int           `help:"Stop after N captures (0 = until interrupted)."`
}

func (c *SnapshotCmd) Run(ctx context.Context) error {
	r, err := parseRegion(c.From, c.To)
	if err != nil {
		return err
	}

	client := newClient()
	defer client.Close()

	rec := &snapshot.Recorder{
		Extractor: &stitch.Extractor{Fetcher: client, Workers: cli.Workers},
		Dir:       c.Dir,
		Region:    r,
		Interval:  c.Interval,
		Count:     c.Count,
	}
	if err := rec.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

type TimelapseCmd struct {
	Dir      string `arg:"" help:"Directory of snapshot images."`
	Out      string `short:"o" default:"timelapse.gif" help:"Output GIF path."`
	Delay    int    `default:"200" help:"Frame delay in ms."`
	Colors   int    `default:"64" help:"Max palette size (<=256)."`
	Loop     int    `default:"0" help:"Loop count (0 = forever)."`
	NoDither bool   `help:"Disable Floyd-Steinberg dithering."`
	NoCrop   bool   `help:"Disable inter-frame cropping."`
}

func (c *TimelapseCmd) Run(ctx context.Context) error {
	err := timelapse.Build(c.Dir, c.Out, timelapse.Options{
		DelayMS:  c.Delay,
		Colors:   c.Colors,
		Loop:     c.Loop,
		NoDither: c.NoDither,
		NoCrop:   c.NoCrop,
	})
	if err != nil {
		return err
	}
	fmt.Println(c.Out)
	return nil
}

type StatsCmd struct {
	Path string `arg:"" help:"Image to analyze."`
}

func (c *StatsCmd) Run(ctx context.Context) error {
	img, err := imaging.Open(c.Path)
	if err != nil {
		return err
	}
	st := stitch.Census(img)
	fmt.Printf("%s: %dx%d, %d painted px, %d unique colors\n",
		c.Path, st.Width, st.Height, st.Painted, st.UniqueColors)
	if st.ModeCount > 0 {
		fmt.Printf("dominant color #%02X%02X%02X (%d px)\n",
			st.Mode.R, st.Mode.G, st.Mode.B, st.ModeCount)
	}
	return nil
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("wplace-extract"),
		kong.Description(desc),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run())
}
