package photoprism

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// UploadData uploads one file to the user's upload folder.
// Returns the upload token used for processing.
func (pp *PhotoPrism) UploadData(ctx context.Context, fileName string, data []byte) (string, error) {
	if pp.userUID == "" {
		return "", errors.New("user UID not available")
	}

	uploadToken := strconv.FormatInt(time.Now().UnixNano(), 10)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", fileName)
	if err != nil {
		return "", fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("could not copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("could not close writer: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/upload/%s", pp.Url, pp.userUID, uploadToken)
	if _, err := pp.send(ctx, http.MethodPost, url, writer.FormDataContentType(), body.Bytes(), []int{http.StatusOK}); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return uploadToken, nil
}

// ProcessUpload imports previously uploaded files and optionally adds them to albums
func (pp *PhotoPrism) ProcessUpload(ctx context.Context, uploadToken string, albumUIDs []string) error {
	if pp.userUID == "" {
		return errors.New("user UID not available")
	}

	options := struct {
		Albums []string `json:"albums,omitempty"`
	}{
		Albums: albumUIDs,
	}

	return doRequestRaw(ctx, pp, http.MethodPut, fmt.Sprintf("users/%s/upload/%s", pp.userUID, uploadToken), options)
}
