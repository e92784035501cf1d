// Package render draws the location and date caption onto highlight images.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const (
	jpegQuality = 92
	dateLayout  = "Jan 2006"
)

var barColor = color.NRGBA{A: 140}

// FormatDate formats the capture date the way captions show it.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// Overlay decodes img, draws a translucent bar along the bottom edge holding
// location (bold) and date, and returns the result as JPEG. With both texts
// empty the image is only re-encoded.
func Overlay(img []byte, location, date string) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	location = strings.TrimSpace(location)
	date = strings.TrimSpace(date)
	if location != "" || date != "" {
		if err := caption(dst, location, date); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func caption(dst *image.RGBA, location, date string) error {
	bounds := dst.Bounds()
	// Text scales with the shorter side so portrait and landscape match.
	short := min(bounds.Dx(), bounds.Dy())
	size := max(float64(short)/28, 10)
	padding := int(size * 0.8)

	bold, err := newFace(gobold.TTF, size)
	if err != nil {
		return err
	}
	defer bold.Close()
	regular, err := newFace(goregular.TTF, size*0.8)
	if err != nil {
		return err
	}
	defer regular.Close()

	lines := 0
	if location != "" {
		lines++
	}
	if date != "" {
		lines++
	}
	lineHeight := int(size * 1.4)
	barHeight := lines*lineHeight + padding*2

	bar := image.Rect(bounds.Min.X, bounds.Max.Y-barHeight, bounds.Max.X, bounds.Max.Y)
	draw.Draw(dst, bar, image.NewUniform(barColor), image.Point{}, draw.Over)

	y := bar.Min.Y + padding
	for _, line := range []struct {
		text string
		face font.Face
	}{{location, bold}, {date, regular}} {
		if line.text == "" {
			continue
		}
		y += lineHeight
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.White,
			Face: line.face,
			Dot:  fixed.P(bar.Min.X+padding, y-lineHeight/4),
		}
		d.DrawString(line.text)
	}
	return nil
}

func newFace(ttf []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	return face, nil
}
