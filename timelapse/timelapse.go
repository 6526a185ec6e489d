// Package timelapse turns a directory of region snapshots into an animated GIF.
package timelapse

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/ericpauley/go-quantize/quantize"
	"github.com/maruel/natural"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Options controls GIF assembly. Zero fields get defaults from Build.
type Options struct {
	DelayMS     int // per-frame delay, default 200
	Colors      int // palette size cap, default 64, max 256
	SampleEvery int // use every Nth frame for the global palette, default 3
	SampleWidth int // downscale width for palette sampling, default 320
	Workers     int // decode concurrency, default NumCPU
	Loop        int // 0 = loop forever
	NoDither    bool
	NoCrop      bool // disable inter-frame diff cropping
}

func (o *Options) defaults() {
	if o.DelayMS <= 0 {
		o.DelayMS = 200
	}
	if o.Colors < 2 {
		o.Colors = 64
	}
	if o.Colors > 256 {
		o.Colors = 256
	}
	if o.SampleEvery < 1 {
		o.SampleEvery = 3
	}
	if o.SampleWidth < 1 {
		o.SampleWidth = 320
	}
	if o.Workers < 1 {
		o.Workers = runtime.NumCPU()
	}
}

// Build reads every snapshot image in dir (natural order, so frame 10 sorts
// after frame 9) and writes an animated GIF to out.
func Build(dir, out string, opts Options) error {
	opts.defaults()

	paths, err := collectFrames(dir)
	if err != nil {
		return err
	}

	frames, err := decodeFrames(paths, opts.Workers)
	if err != nil {
		return err
	}

	pal := buildPalette(frames, opts)
	if len(pal) < 2 {
		return fmt.Errorf("failed to build a palette")
	}

	g := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(frames)),
		Delay:     make([]int, 0, len(frames)),
		Disposal:  make([]byte, 0, len(frames)),
		LoopCount: opts.Loop,
	}

	var prev *image.Paletted
	for _, fr := range frames {
		pframe := toPaletted(fr, pal, !opts.NoDither)
		if opts.NoCrop {
			g.Image = append(g.Image, pframe)
		} else {
			g.Image = append(g.Image, cropPaletted(pframe, diffRect(prev, pframe)))
		}
		g.Delay = append(g.Delay, opts.DelayMS/10)
		g.Disposal = append(g.Disposal, gif.DisposalPrevious)
		prev = pframe
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return fmt.Errorf("encode gif: %w", err)
	}
	return os.WriteFile(out, buf.Bytes(), 0o644)
}

func isImage(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	default:
		return false
	}
}

func collectFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no input images in %s", dir)
	}
	sort.SliceStable(out, func(i, j int) bool { return natural.Less(out[i], out[j]) })
	return out, nil
}

func decodeFrames(paths []string, workers int) ([]*image.RGBA, error) {
	type job struct {
		idx  int
		path string
	}
	type result struct {
		idx  int
		rgba *image.RGBA
		err  error
	}

	jobs := make(chan job, workers*2)
	results := make(chan result, workers*2)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				rgba, err := decodeRGBA(j.path)
				results <- result{idx: j.idx, rgba: rgba, err: err}
			}
		}()
	}
	go func() {
		for i, p := range paths {
			jobs <- job{idx: i, path: p}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	frames := make([]*image.RGBA, len(paths))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("decode %s: %w", paths[r.idx], r.err)
			}
			continue
		}
		frames[r.idx] = r.rgba
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return frames, nil
}

func decodeRGBA(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba, nil
}

// buildPalette quantizes a downscaled composite of sampled frames into one
// global palette with a transparent entry at index 0.
func buildPalette(frames []*image.RGBA, opts Options) color.Palette {
	var composite *image.RGBA
	for i := 0; i < len(frames); i += opts.SampleEvery {
		down := downscale(frames[i], opts.SampleWidth)
		b := down.Bounds()
		if composite == nil {
			composite = image.NewRGBA(b)
		}
		draw.Draw(composite, b, down, b.Min, draw.Src)
	}
	if composite == nil {
		return color.Palette{color.RGBA{}}
	}

	q := quantize.MedianCutQuantizer{}
	raw := q.Quantize(make([]color.Color, 0, opts.Colors), composite)

	pal := color.Palette{color.RGBA{0, 0, 0, 0}}
	for _, c := range raw {
		if len(pal) >= opts.Colors {
			break
		}
		pal = append(pal, c)
	}
	return pal
}

func downscale(src image.Image, maxW int) image.Image {
	b := src.Bounds()
	if b.Dx() <= maxW {
		return src
	}
	h := int(float64(b.Dy()) * float64(maxW) / float64(b.Dx()))
	dst := image.NewRGBA(image.Rect(0, 0, maxW, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func toPaletted(src *image.RGBA, pal color.Palette, dither bool) *image.Paletted {
	b := src.Bounds()
	dst := image.NewPaletted(b, pal)
	if dither {
		draw.FloydSteinberg.Draw(dst, b, src, b.Min)
		return dst
	}
	// map transparent pixels straight to palette slot 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := src.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			if src.Pix[i+3] == 0 {
				dst.SetColorIndex(x, y, 0)
			} else {
				opaque := color.RGBA{src.Pix[i], src.Pix[i+1], src.Pix[i+2], 0xFF}
				dst.SetColorIndex(x, y, uint8(pal.Index(opaque)))
			}
			i += 4
		}
	}
	return dst
}

// diffRect returns the bounding box of pixels that changed between frames.
func diffRect(prev, curr *image.Paletted) image.Rectangle {
	if prev == nil {
		return curr.Bounds()
	}
	var changed image.Rectangle
	b := curr.Bounds().Intersect(prev.Bounds())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		pc := curr.Pix[curr.PixOffset(b.Min.X, y):]
		pp := prev.Pix[prev.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			if pc[x] != pp[x] {
				changed = changed.Union(image.Rect(b.Min.X+x, y, b.Min.X+x+1, y+1))
			}
		}
	}
	return changed
}

func cropPaletted(src *image.Paletted, r image.Rectangle) *image.Paletted {
	if r.Empty() {
		// nothing changed; emit a 1px transparent frame (slot 0)
		return image.NewPaletted(image.Rect(0, 0, 1, 1), src.Palette)
	}
	dst := image.NewPaletted(r, src.Palette)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := src.Pix[src.PixOffset(r.Min.X, y):]
		copy(dst.Pix[dst.PixOffset(r.Min.X, y):], row[:r.Dx()])
	}
	return dst
}
