// Package source defines the file-sync backends photos are pulled from.
package source

import (
	"context"
	"path"
	"regexp"
	"strings"
	"time"
)

// Item is a file listed by a backend.
type Item struct {
	ID          string
	Path        string
	Name        string
	Size        int64
	Modified    time.Time
	ContentHash string
}

// Ext returns the lower-case extension without the dot.
func (i Item) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(i.Name), "."))
}

// Backend lists, downloads and uploads photos.
type Backend interface {
	Name() string
	// ListByDate returns the image files of folder (recursively) modified on
	// the calendar day of day, in day's location.
	ListByDate(ctx context.Context, folder string, day time.Time) ([]Item, error)
	Download(ctx context.Context, item Item) ([]byte, error)
	// Upload writes data to path, overwriting an existing file.
	Upload(ctx context.Context, path string, data []byte) error
}

var imageExt = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|bmp|webp)$`)

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	return imageExt.MatchString(name)
}

// DayBounds returns the first and last instant of day's calendar day.
func DayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// OnDay reports whether t falls within day's calendar day.
func OnDay(t, day time.Time) bool {
	start, end := DayBounds(day)
	return !t.Before(start) && !t.After(end)
}
