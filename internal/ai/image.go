package ai

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// jpegQuality is used for every image sent to a vision model.
const jpegQuality = 85

// PrepareImage decodes an image and returns it as JPEG no larger than
// maxSize on either side. Small JPEGs are passed through untouched.
func PrepareImage(data []byte, maxSize int) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if format == "jpeg" && cfg.Width <= maxSize && cfg.Height <= maxSize {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), maxSize)

	var out image.Image = img
	if width != bounds.Dx() || height != bounds.Dy() {
		resized := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales width and height down to maxSize, keeping aspect ratio.
func fitWithin(width, height, maxSize int) (int, int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width > height {
		return maxSize, max(1, height*maxSize/width)
	}
	return max(1, width*maxSize/height), maxSize
}
