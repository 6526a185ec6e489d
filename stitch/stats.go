package stitch

import (
	"image"
	"image/color"
	"image/draw"
)

// Stats summarizes an extracted image: how much of it is painted and which
// color dominates.
type Stats struct {
	Width        int
	Height       int
	Painted      int // pixels with nonzero alpha
	UniqueColors int
	Mode         color.NRGBA // most frequent opaque color
	ModeCount    int
}

// Census walks every pixel of an image and tallies paint coverage and color
// frequencies. Fully transparent pixels are unpainted canvas and are skipped.
// Walks by bounds, so sub-images are counted without their parent's padding.
func Census(img image.Image) Stats {
	nrgba := toNRGBA(img)
	b := nrgba.Bounds()

	st := Stats{Width: b.Dx(), Height: b.Dy()}
	counts := make(map[color.NRGBA]int)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := nrgba.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			if nrgba.Pix[i+3] != 0 {
				st.Painted++
				c := color.NRGBA{R: nrgba.Pix[i], G: nrgba.Pix[i+1], B: nrgba.Pix[i+2], A: 255}
				counts[c]++
			}
			i += 4
		}
	}

	st.UniqueColors = len(counts)
	for c, n := range counts {
		if n > st.ModeCount {
			st.ModeCount = n
			st.Mode = c
		}
	}
	return st
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(b)
	draw.Draw(n, b, img, b.Min, draw.Src)
	return n
}
