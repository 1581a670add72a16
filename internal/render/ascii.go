// Package render turns images into fixed-width text art.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultWidth = 80

	// Ramp runs from darkest to lightest. Luminance L maps to Ramp[min(L/25, 9)].
	Ramp = "@%#*+=-:. "

	// Sentinel replaces the art when an image cannot be rendered.
	Sentinel = "[Image ASCII Conversion Failed]"

	// MaxPixels caps the declared size of an image Render will decode.
	MaxPixels = 64 << 20
)

var (
	ErrEmptyImage = errors.New("render: image has no pixels")
	ErrTooLarge   = errors.New("render: image too large")
)

// Render decodes the image at path and returns it as text art width glyphs
// wide. width <= 0 uses DefaultWidth. The output is deterministic for a given
// file and width.
func Render(path string, width int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", ErrEmptyImage
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return "", fmt.Errorf("%w: %s is %dx%d", ErrTooLarge, path, cfg.Width, cfg.Height)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	src, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return RenderImage(src, width)
}

// RenderImage is Render for an already decoded image.
func RenderImage(src image.Image, width int) (string, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return "", ErrEmptyImage
	}

	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)

	height := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
	if height < 1 {
		height = 1
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	var sb strings.Builder
	sb.Grow((width + 1) * height)
	for y := 0; y < height; y++ {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for x := 0; x < width; x++ {
			sb.WriteByte(Glyph(dst.GrayAt(x, y).Y))
		}
	}
	return sb.String(), nil
}

// Glyph maps an 8-bit luminance to its ramp character.
func Glyph(lum uint8) byte {
	i := int(lum) / 25
	if i > len(Ramp)-1 {
		i = len(Ramp) - 1
	}
	return Ramp[i]
}

// Luminance converts c with the ITU-R 601-2 weights used by color.GrayModel.
func Luminance(c color.Color) uint8 {
	return color.GrayModel.Convert(c).(color.Gray).Y
}

// RenderOrSentinel never fails: on error it reports through onErr (may be
// nil) and returns Sentinel.
func RenderOrSentinel(path string, width int, onErr func(error)) string {
	art, err := Render(path, width)
	if err != nil {
		if onErr != nil {
			onErr(err)
		}
		return Sentinel
	}
	return art
}
