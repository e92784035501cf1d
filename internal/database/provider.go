package database

import (
	"context"
	"errors"
)

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index from the store
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

var errNotInitialized = errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")

var (
	postgresPhotoRepository func() PhotoRepository
	postgresRunRepository   func() RunRepository
	postgresPhotoHNSW       HNSWRebuilder
	postgresInitialized     bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(photos func() PhotoRepository, runs func() RunRepository) {
	postgresPhotoRepository = photos
	postgresRunRepository = runs
	postgresInitialized = true
}

// RegisterPhotoHNSWRebuilder registers the HNSW rebuilder for the photo repository.
func RegisterPhotoHNSWRebuilder(rebuilder HNSWRebuilder) {
	postgresPhotoHNSW = rebuilder
}

// GetPhotoHNSWRebuilder returns the registered rebuilder, or nil if not registered.
func GetPhotoHNSWRebuilder() HNSWRebuilder {
	return postgresPhotoHNSW
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetPhotoRepository returns a PhotoRepository from the PostgreSQL backend
func GetPhotoRepository(ctx context.Context) (PhotoRepository, error) {
	if !postgresInitialized || postgresPhotoRepository == nil {
		return nil, errNotInitialized
	}
	return postgresPhotoRepository(), nil
}

// GetRunRepository returns a RunRepository from the PostgreSQL backend
func GetRunRepository(ctx context.Context) (RunRepository, error) {
	if !postgresInitialized || postgresRunRepository == nil {
		return nil, errNotInitialized
	}
	return postgresRunRepository(), nil
}
