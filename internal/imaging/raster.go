package imaging

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/gift"
	"golang.org/x/image/draw"

	"bluecat/internal/protocol"
)

// Palette indexes of a monochrome image
const (
	Background uint8 = 0
	Dot        uint8 = 1
)

var monoPalette = color.Palette{color.White, color.Black}

// Options are the device parameters sent ahead of the bitmap
type Options struct {
	Mode    protocol.DrawingMode
	Energy  protocol.Energy
	Quality protocol.Quality
}

// DefaultOptions matches what the vendor app sends
func DefaultOptions() Options {
	return Options{
		Mode:    protocol.ImageMode,
		Energy:  protocol.EnergyMedium,
		Quality: protocol.QualityC,
	}
}

// Rasterize converts img into the full print sequence: setup frames, one
// DrawBitmap frame per row of a 384 dot canvas, and the closing lattice.
func Rasterize(img image.Image, opts Options) (protocol.Stream, error) {
	if err := checkSize(img.Bounds().Dx(), img.Bounds().Dy()); err != nil {
		return protocol.Stream{}, err
	}

	b := protocol.New().
		DrawingMode(opts.Mode).
		Energy(opts.Energy).
		Quality(opts.Quality).
		FeedRate(protocol.PrintRate).
		Lattice(protocol.LatticeStart)

	for _, row := range PackRows(Canvas(img)) {
		b.Bitmap(row)
	}

	return b.Lattice(protocol.LatticeFinish).Stream()
}

// Canvas is img exactly as the print head will lay it down
func Canvas(img image.Image) *image.Paletted {
	return Center(Monochrome(Scale(img, protocol.PrinterWidth)), protocol.PrinterWidth)
}

// ScaledSize returns the dimensions Scale produces for a w by h source
func ScaledSize(w, h, width int) (int, int) {
	switch {
	case w > width:
		return width, max(1, int(math.Round(float64(h)*float64(width)/float64(w))))
	case w > 0 && w < width/2:
		k := width / w
		return w * k, h * k
	}
	return w, h
}

// Scale fits img to the print head. Wider images shrink proportionally to
// exactly width; images under half of width grow by the largest whole factor
// using nearest-neighbour so pixel art stays sharp. Anything else is untouched.
func Scale(img image.Image, width int) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	w, h := ScaledSize(srcW, srcH, width)

	switch {
	case srcW > width:
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		return dst

	case w != srcW:
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		return dst
	}

	return img
}

// Monochrome flattens img onto white, converts it to grayscale and dithers it
// with Floyd-Steinberg to a two colour palette (Background, Dot).
func Monochrome(img image.Image) *image.Paletted {
	bounds := img.Bounds()
	rect := image.Rect(0, 0, bounds.Dx(), bounds.Dy())

	flat := image.NewRGBA(rect)
	draw.Draw(flat, rect, image.White, image.Point{}, draw.Src)
	draw.Draw(flat, rect, img, bounds.Min, draw.Over)

	gray := image.NewGray(rect)
	gift.New(gift.Grayscale()).Draw(gray, flat)

	mono := image.NewPaletted(rect, monoPalette)
	draw.FloydSteinberg.Draw(mono, rect, gray, image.Point{})
	return mono
}

// Center places mono in the middle of a canvas exactly width dots wide. The
// odd column of padding, if any, goes to the right.
func Center(mono *image.Paletted, width int) *image.Paletted {
	bounds := mono.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == width {
		return mono
	}

	canvas := image.NewPaletted(image.Rect(0, 0, width, h), monoPalette)
	pad := (width - w) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w && pad+x < width; x++ {
			canvas.SetColorIndex(pad+x, y, mono.ColorIndexAt(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return canvas
}

// PackRows packs each row 8 dots per byte, most significant bit first. The
// wire bit is the inverse of the 1-bit luminance: a dark dot is 1 and white
// paper is 0.
func PackRows(mono *image.Paletted) [][]byte {
	bounds := mono.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	stride := (w + 7) / 8

	rows := make([][]byte, h)
	for y := 0; y < h; y++ {
		row := make([]byte, stride)
		for x := 0; x < w; x++ {
			if mono.ColorIndexAt(bounds.Min.X+x, bounds.Min.Y+y) == Dot {
				row[x/8] |= 0x80 >> (x % 8)
			}
		}
		rows[y] = row
	}
	return rows
}

// Preview renders packed rows back into a viewable image
func Preview(rows [][]byte, width int) image.Image {
	img := image.NewGray(image.Rect(0, 0, width, len(rows)))

	for y, row := range rows {
		for x := 0; x < width; x++ {
			bit := (row[x/8] >> (7 - x%8)) & 1
			if bit == 1 {
				img.SetGray(x, y, color.Gray{0})
			} else {
				img.SetGray(x, y, color.Gray{255})
			}
		}
	}

	return img
}
