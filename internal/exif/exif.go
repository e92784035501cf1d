// Package exif extracts capture metadata from image files.
package exif

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"time"

	goexif "github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned for zero-length input.
var ErrEmptyImage = errors.New("empty image data")

// Metadata is what the pipeline needs from a file's EXIF block and header.
type Metadata struct {
	TakenAt   time.Time // zero when the file carries no capture time
	Latitude  *float64
	Longitude *float64
	Altitude  string
	Make      string
	Model     string
	Width     int
	Height    int
	MimeType  string

	// IsScreenshot is set when the file looks like a screen capture rather
	// than a camera photo.
	IsScreenshot bool

	hasExposure bool
	hasAlpha    bool
}

// Extract reads metadata from image bytes. Missing or unreadable EXIF is not
// an error; the corresponding fields stay empty.
func Extract(data []byte) (*Metadata, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	meta := &Metadata{MimeType: http.DetectContentType(data)}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
		meta.hasAlpha = hasAlphaChannel(cfg.ColorModel)
	}

	if x, err := goexif.Decode(bytes.NewReader(data)); err == nil {
		readTags(x, meta)
	}

	meta.IsScreenshot = meta.missingCameraTags() && meta.hasAlpha && unusualResolution(meta.Width, meta.Height)
	return meta, nil
}

func readTags(x *goexif.Exif, meta *Metadata) {
	if t, err := x.DateTime(); err == nil {
		meta.TakenAt = t
	}

	if lat, lng, err := x.LatLong(); err == nil && ValidCoordinate(lat, lng) {
		meta.Latitude = &lat
		meta.Longitude = &lng
		meta.Altitude = altitude(x)
	}

	meta.Make = stringTag(x, goexif.Make)
	meta.Model = stringTag(x, goexif.Model)

	_, errExposure := x.Get(goexif.ExposureTime)
	_, errISO := x.Get(goexif.ISOSpeedRatings)
	meta.hasExposure = errExposure == nil || errISO == nil

	if meta.Width == 0 || meta.Height == 0 {
		meta.Width = intTag(x, goexif.PixelXDimension)
		meta.Height = intTag(x, goexif.PixelYDimension)
	}
}

func stringTag(x *goexif.Exif, name goexif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}

func intTag(x *goexif.Exif, name goexif.FieldName) int {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

func altitude(x *goexif.Exif) string {
	tag, err := x.Get(goexif.GPSAltitude)
	if err != nil {
		return ""
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return ""
	}
	alt := float64(num) / float64(den)
	if ref, err := x.Get(goexif.GPSAltitudeRef); err == nil {
		if v, err := ref.Int(0); err == nil && v == 1 {
			alt = -alt
		}
	}
	return fmt.Sprintf("%.1f m", alt)
}

// ValidCoordinate reports whether lat/lng are finite and within range.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func (m *Metadata) missingCameraTags() bool {
	return m.Make == "" && m.Model == "" && !m.hasExposure && m.Latitude == nil
}

func hasAlphaChannel(model color.Model) bool {
	switch model {
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		return true
	}
	return false
}

var commonAspectRatios = []float64{4.0 / 3.0, 16.0 / 9.0, 3.0 / 2.0, 1}

// unusualResolution flags sizes that are rare for camera sensors: odd
// dimensions, under 2 MP, or an uncommon ratio at an uncommon megapixel count.
func unusualResolution(width, height int) bool {
	if width == 0 || height == 0 {
		return true
	}

	megapixels := float64(width*height) / 1_000_000
	commonMegapixels := megapixels >= 8 && megapixels <= 108

	ratio := float64(width) / float64(height)
	standardRatio := false
	for _, r := range commonAspectRatios {
		if math.Abs(ratio-r) <= 0.05 {
			standardRatio = true
			break
		}
	}

	return (width%100 != 0 && height%100 != 0) ||
		megapixels < 2 ||
		(!standardRatio && !commonMegapixels)
}
