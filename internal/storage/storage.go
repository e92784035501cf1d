// Package storage uploads originals and derived images to object storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ObjectStore is a bucket addressed by keys.
type ObjectStore interface {
	// Put stores data under key and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Backend names accepted by Config.Backend.
const (
	BackendS3    = "s3"
	BackendMinIO = "minio"
)

type Config struct {
	Backend   string
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for S3-compatible services
	AccessKey string
	SecretKey string
	PathStyle bool
	UseSSL    bool
	PublicURL string // base for returned URLs; derived from bucket and region when empty
}

// New creates the store selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	switch cfg.Backend {
	case BackendS3, "":
		return NewS3Store(ctx, cfg)
	case BackendMinIO:
		return NewMinIOStore(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName makes a file name safe for object keys: diacritics are
// removed and spaces become underscores.
func NormalizeName(name string) string {
	out, _, err := transform.String(stripMarks, name)
	if err != nil {
		out = name
	}
	return strings.ReplaceAll(strings.TrimSpace(out), " ", "_")
}

// ImageKey is the key of an original: images/<file name>/original.<ext>.
func ImageKey(fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("images/%s/original.%s", NormalizeName(fileName), ext)
}

func publicURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + key
}
