package imaging

import (
	"strings"
	"testing"

	"github.com/golang/freetype/truetype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluecat/internal/protocol"
)

func TestRenderText(t *testing.T) {
	img, err := RenderText("hello cat", DefaultTextOptions())
	require.NoError(t, err)
	assert.Equal(t, protocol.PrinterWidth, img.Bounds().Dx())
	assert.Positive(t, img.Bounds().Dy())

	mono := Monochrome(img)
	dots := 0
	for _, idx := range mono.Pix {
		if idx == Dot {
			dots++
		}
	}
	assert.Positive(t, dots)
}

func TestRenderTextGrowsWithLines(t *testing.T) {
	one, err := RenderText("line", DefaultTextOptions())
	require.NoError(t, err)
	three, err := RenderText("line\nline\nline", DefaultTextOptions())
	require.NoError(t, err)
	assert.Greater(t, three.Bounds().Dy(), one.Bounds().Dy())
}

func TestRenderTextRejectsEmpty(t *testing.T) {
	_, err := RenderText("  \n ", DefaultTextOptions())
	assert.ErrorIs(t, err, protocol.ErrMalformedInput)

	_, err = RenderText("x", TextOptions{})
	assert.ErrorIs(t, err, protocol.ErrMalformedInput)
}

func TestWrap(t *testing.T) {
	face := truetype.NewFace(regular, &truetype.Options{Size: 24, DPI: dpi})
	defer face.Close()

	long := strings.Repeat("meow ", 40)
	lines := wrap(long, face, 300, true)
	require.Greater(t, len(lines), 1)
	for _, l := range lines {
		assert.LessOrEqual(t, textWidth(face, l), 300, l)
		assert.False(t, strings.HasPrefix(l, " "))
	}

	for _, wordsOnly := range []bool{true, false} {
		lines = wrap(strings.Repeat("x", 200), face, 300, wordsOnly)
		require.Greater(t, len(lines), 1)
		for _, l := range lines {
			assert.LessOrEqual(t, textWidth(face, l), 300)
		}
		assert.Equal(t, strings.Repeat("x", 200), strings.Join(lines, ""))
	}

	assert.Equal(t, []string{"a", "", "b"}, wrap("a\n\nb", face, 300, true))
}

func TestRenderTextRejectsTooLong(t *testing.T) {
	_, err := RenderText(strings.Repeat("line\n", MaxRows), DefaultTextOptions())
	assert.ErrorIs(t, err, protocol.ErrMalformedInput)
}
