package photoprism

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/photo-curator/internal/source"
)

const searchPageSize = 500

// Backend adapts the client to source.Backend. Photos are selected by the
// date they were taken; uploads land in an album.
type Backend struct {
	pp    *PhotoPrism
	album string

	mu     sync.Mutex
	albums map[string]string // title -> UID
}

func NewBackend(pp *PhotoPrism, album string) *Backend {
	return &Backend{pp: pp, album: album, albums: make(map[string]string)}
}

func (b *Backend) Name() string {
	return "photoprism"
}

// ListByDate returns image files taken on day. A folder other than "/"
// restricts the search to that originals path.
func (b *Backend) ListByDate(ctx context.Context, folder string, day time.Time) ([]source.Item, error) {
	query := "taken:" + day.Format(time.DateOnly)
	if folder = strings.Trim(folder, "/"); folder != "" {
		query += " path:" + folder
	}

	var items []source.Item
	for offset := 0; ; offset += searchPageSize {
		photos, err := b.pp.SearchPhotos(ctx, query, searchPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to search photos: %w", err)
		}
		for _, p := range photos {
			name := p.DisplayName()
			if (p.Type != "" && p.Type != "image") || !source.IsImage(name) {
				continue
			}
			items = append(items, source.Item{
				ID:          p.UID,
				Path:        p.FileName,
				Name:        name,
				Size:        p.FileSize,
				Modified:    p.TakenAt,
				ContentHash: p.Hash,
			})
		}
		if len(photos) < searchPageSize {
			return items, nil
		}
	}
}

func (b *Backend) Download(ctx context.Context, item source.Item) ([]byte, error) {
	return b.pp.DownloadFile(ctx, item.ContentHash)
}

// Upload imports data as a new photo. The album is the configured one, or
// the directory part of p ("/Highlights/x.jpg" goes to "Highlights").
func (b *Backend) Upload(ctx context.Context, p string, data []byte) error {
	title := b.album
	if title == "" {
		title = strings.Trim(path.Dir(p), "/")
	}

	var albums []string
	if title != "" {
		uid, err := b.albumUID(ctx, title)
		if err != nil {
			return err
		}
		albums = append(albums, uid)
	}

	token, err := b.pp.UploadData(ctx, path.Base(p), data)
	if err != nil {
		return err
	}
	if err := b.pp.ProcessUpload(ctx, token, albums); err != nil {
		return fmt.Errorf("failed to import upload: %w", err)
	}
	return nil
}

func (b *Backend) albumUID(ctx context.Context, title string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if uid, ok := b.albums[title]; ok {
		return uid, nil
	}
	album, err := b.pp.EnsureAlbum(ctx, title)
	if err != nil {
		return "", fmt.Errorf("failed to resolve album %q: %w", title, err)
	}
	b.albums[title] = album.UID
	return album.UID, nil
}
