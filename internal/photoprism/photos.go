package photoprism

import (
	"context"
	"crypto/sha1" //nolint:gosec // PhotoPrism identifies files by SHA1
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrHashMismatch is returned when downloaded bytes do not match the file hash.
var ErrHashMismatch = errors.New("file hash mismatch")

// SearchPhotos runs a photo search. Query examples: "taken:2024-07-14",
// "path:2024/07", "year:2024".
func (pp *PhotoPrism) SearchPhotos(ctx context.Context, query string, count, offset int) ([]Photo, error) {
	endpoint := fmt.Sprintf("photos?count=%d&offset=%d&merged=true&order=oldest", count, offset)
	if query != "" {
		endpoint += "&q=" + url.QueryEscape(query)
	}

	result, err := doGetJSON[[]Photo](ctx, pp, endpoint)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// DownloadFile downloads a file by its hash via the /dl/{hash} endpoint and
// checks the content against the hash.
func (pp *PhotoPrism) DownloadFile(ctx context.Context, fileHash string) ([]byte, error) {
	if fileHash == "" {
		return nil, errors.New("file hash is required")
	}
	dl := fmt.Sprintf("%s/dl/%s?t=%s", pp.Url, url.PathEscape(fileHash), url.QueryEscape(pp.downloadToken))

	data, err := pp.send(ctx, http.MethodGet, dl, "", nil, []int{http.StatusOK})
	if err != nil {
		return nil, err
	}

	sum := sha1.Sum(data) //nolint:gosec // PhotoPrism identifies files by SHA1
	if hex.EncodeToString(sum[:]) != fileHash {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, fileHash)
	}
	return data, nil
}
