package photoprism

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// GetAlbums retrieves manual albums matching query.
func (pp *PhotoPrism) GetAlbums(ctx context.Context, query string, count int) ([]Album, error) {
	endpoint := fmt.Sprintf("albums?count=%d&offset=0&type=album", count)
	if query != "" {
		endpoint += "&q=" + url.QueryEscape(query)
	}

	result, err := doGetJSON[[]Album](ctx, pp, endpoint)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// CreateAlbum creates a new album with the given title
func (pp *PhotoPrism) CreateAlbum(ctx context.Context, title string) (*Album, error) {
	input := struct {
		Title string `json:"Title"`
	}{
		Title: title,
	}

	return doPostJSON[Album](ctx, pp, "albums", input)
}

// EnsureAlbum returns the album titled title, creating it when missing.
func (pp *PhotoPrism) EnsureAlbum(ctx context.Context, title string) (*Album, error) {
	albums, err := pp.GetAlbums(ctx, title, 100)
	if err != nil {
		return nil, fmt.Errorf("could not list albums: %w", err)
	}
	for i := range albums {
		if strings.EqualFold(albums[i].Title, title) {
			return &albums[i], nil
		}
	}
	return pp.CreateAlbum(ctx, title)
}
