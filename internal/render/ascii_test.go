package render

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x * 255) / max(1, w-1))
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

func TestGlyphRamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		lum  uint8
		want byte
	}{
		{0, '@'},
		{24, '@'},
		{25, '%'},
		{99, '*'},
		{124, '+'},
		{249, ' '},
		{250, ' '},
		{255, ' '},
	}
	for _, tc := range cases {
		require.Equalf(t, tc.want, Glyph(tc.lum), "lum=%d", tc.lum)
	}
}

func TestRenderShapeAndGlyphSet(t *testing.T) {
	t.Parallel()

	path := writePNG(t, gradient(200, 100))
	art, err := Render(path, 40)
	require.NoError(t, err)

	rows := strings.Split(art, "\n")
	require.Len(t, rows, 20)
	for _, r := range rows {
		require.Len(t, []rune(r), 40)
		for _, ch := range r {
			require.Contains(t, Ramp, string(ch))
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	t.Parallel()

	path := writePNG(t, gradient(123, 77))
	a, err := Render(path, 0)
	require.NoError(t, err)
	b, err := Render(path, 0)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, strings.SplitN(a, "\n", 2)[0], DefaultWidth)
}

func TestRenderSolidColors(t *testing.T) {
	t.Parallel()

	black := image.NewGray(image.Rect(0, 0, 10, 10))
	art, err := RenderImage(black, 5)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("@@@@@\n", 4)+"@@@@@", art)

	white := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	art, err = RenderImage(white, 5)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("     \n", 4)+"     ", art)
}

func TestRenderVeryWideImageKeepsOneRow(t *testing.T) {
	t.Parallel()

	art, err := RenderImage(image.NewGray(image.Rect(0, 0, 1000, 1)), 10)
	require.NoError(t, err)
	require.Equal(t, "@@@@@@@@@@", art)
}

func TestRenderOrSentinel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	var reported error
	out := RenderOrSentinel(path, 80, func(err error) { reported = err })
	require.Equal(t, Sentinel, out)
	require.Error(t, reported)

	out = RenderOrSentinel(filepath.Join(t.TempDir(), "missing.png"), 80, nil)
	require.Equal(t, Sentinel, out)
}

// hugePNG is a valid 1x1 PNG whose header claims w x h pixels.
func hugePNG(t *testing.T, w, h uint32) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	b := buf.Bytes()
	// 8-byte signature, 4-byte length, "IHDR", then width and height.
	binary.BigEndian.PutUint32(b[16:20], w)
	binary.BigEndian.PutUint32(b[20:24], h)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))

	path := filepath.Join(t.TempDir(), "huge.png")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestRenderRejectsOversizedImage(t *testing.T) {
	t.Parallel()

	path := hugePNG(t, 100000, 100000)
	_, err := Render(path, 80)
	require.ErrorIs(t, err, ErrTooLarge)

	var reported error
	require.Equal(t, Sentinel, RenderOrSentinel(path, 80, func(err error) { reported = err }))
	require.ErrorIs(t, reported, ErrTooLarge)
}

func TestLuminance(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint8(0), Luminance(color.Black))
	require.Equal(t, uint8(255), Luminance(color.White))
}
