package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"bluecat/internal/protocol"
)

// printer resolution, dots per inch
const dpi = 203

const DefaultFontSize = 24

// TextOptions configures text rendering
type TextOptions struct {
	FontSize      float64
	Margin        int  // blank dots left and right of each line
	Invert        bool // white text on black background
	WordBreakOnly bool // only break lines on spaces, not mid-word
}

// DefaultTextOptions is a readable receipt size
func DefaultTextOptions() TextOptions {
	return TextOptions{
		FontSize:      DefaultFontSize,
		Margin:        8,
		WordBreakOnly: true,
	}
}

var regular *truetype.Font

func init() {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
	regular = f
}

// RenderText lays text out on a canvas as wide as the print head, growing
// downwards as far as the wrapped lines need.
func RenderText(text string, opts TextOptions) (image.Image, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", protocol.ErrMalformedInput)
	}
	if opts.FontSize <= 0 {
		return nil, fmt.Errorf("%w: font size %v", protocol.ErrMalformedInput, opts.FontSize)
	}

	width := protocol.PrinterWidth
	face := truetype.NewFace(regular, &truetype.Options{Size: opts.FontSize, DPI: dpi})
	defer face.Close()
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()

	lines := wrap(text, face, width-2*opts.Margin, opts.WordBreakOnly)

	bgColor := color.White
	fgColor := color.Black
	if opts.Invert {
		bgColor = color.Black
		fgColor = color.White
	}

	height := len(lines)*lineHeight + metrics.Descent.Ceil()
	if height > MaxRows {
		return nil, fmt.Errorf("%w: %d lines of text would print %d rows, limit %d",
			protocol.ErrMalformedInput, len(lines), height, MaxRows)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{bgColor}, image.Point{}, draw.Src)

	c := freetype.NewContext()
	c.SetDPI(dpi)
	c.SetFont(regular)
	c.SetFontSize(opts.FontSize)
	c.SetClip(img.Bounds())
	c.SetDst(img)
	c.SetSrc(&image.Uniform{fgColor})
	c.SetHinting(font.HintingFull)

	y := metrics.Ascent.Ceil()
	for _, line := range lines {
		if _, err := c.DrawString(line, freetype.Pt(opts.Margin, y)); err != nil {
			return nil, err
		}
		y += lineHeight
	}

	return img, nil
}

// wrap splits text into lines no wider than maxWidth. Explicit newlines
// always break. With wordsOnly, lines break between words and only a word
// that cannot fit on a line of its own is split.
func wrap(text string, face font.Face, maxWidth int, wordsOnly bool) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		if wordsOnly {
			lines = append(lines, wrapWords(para, face, maxWidth)...)
		} else {
			lines = append(lines, wrapRunes(para, face, maxWidth)...)
		}
	}
	return lines
}

func wrapWords(para string, face font.Face, maxWidth int) []string {
	words := strings.Fields(para)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	line := ""
	for _, word := range words {
		candidate := word
		if line != "" {
			candidate = line + " " + word
		}
		if textWidth(face, candidate) <= maxWidth {
			line = candidate
			continue
		}
		if line != "" {
			lines = append(lines, line)
		}
		// a word wider than the paper is split across lines
		parts := wrapRunes(word, face, maxWidth)
		lines = append(lines, parts[:len(parts)-1]...)
		line = parts[len(parts)-1]
	}
	return append(lines, line)
}

// wrapRunes breaks wherever the next rune would overflow
func wrapRunes(s string, face font.Face, maxWidth int) []string {
	var lines []string
	var line []rune
	for _, r := range s {
		if len(line) > 0 && textWidth(face, string(line)+string(r)) > maxWidth {
			lines = append(lines, string(line))
			line = line[:0]
		}
		line = append(line, r)
	}
	return append(lines, string(line))
}

func textWidth(face font.Face, s string) int {
	var w fixed.Int26_6
	for _, r := range s {
		if adv, ok := face.GlyphAdvance(r); ok {
			w += adv
		}
	}
	return w.Ceil()
}
