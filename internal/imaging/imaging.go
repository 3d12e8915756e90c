package imaging

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"bluecat/internal/protocol"
)

const (
	// MaxRows caps the printed length, a little over a metre of paper
	MaxRows = 10000
	// MaxPixels caps the decoded size of a source image
	MaxPixels = 40 << 20
)

// LoadImage loads an image from file. Undecodable content is reported as
// protocol.ErrMalformedInput since retrying cannot fix it.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode reads any registered image format from r. The header is checked
// with Probe first so oversized images are refused before allocating.
func Decode(r io.ReadSeeker) (image.Image, error) {
	if _, _, err := Probe(r); err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", protocol.ErrMalformedInput, err)
	}
	return img, nil
}

// Probe reads just enough of r to confirm it holds a supported image that
// fits within MaxPixels and prints within MaxRows.
func Probe(r io.Reader) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return cfg, "", fmt.Errorf("%w: %v", protocol.ErrMalformedInput, err)
	}
	if err := checkSize(cfg.Width, cfg.Height); err != nil {
		return cfg, format, fmt.Errorf("%s image: %w", format, err)
	}
	return cfg, format, nil
}

func checkSize(w, h int) error {
	switch {
	case w <= 0 || h <= 0:
		return fmt.Errorf("%w: empty image", protocol.ErrMalformedInput)
	case int64(w)*int64(h) > MaxPixels:
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", protocol.ErrMalformedInput, w, h, MaxPixels)
	}
	if _, rows := ScaledSize(w, h, protocol.PrinterWidth); rows > MaxRows {
		return fmt.Errorf("%w: %dx%d would print %d rows, limit %d", protocol.ErrMalformedInput, w, h, rows, MaxRows)
	}
	return nil
}
