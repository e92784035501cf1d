package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/logging"
)

// EnableHNSW turns on the in-memory index. A persisted index at path is
// reused when its metadata still matches the table; otherwise the index is
// rebuilt from the store.
func (r *PhotoRepository) EnableHNSW(ctx context.Context, path string) error {
	log := logging.From(ctx)

	r.hnswMu.Lock()
	r.hnswIndexPath = path
	r.hnswMu.Unlock()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			fresh, err := r.indexIsFresh(ctx, path)
			if err != nil {
				log.Warn("cannot validate HNSW index", "path", path, "error", err)
			}
			if fresh {
				idx := database.NewHNSWIndex()
				err := idx.Load(path)
				if err == nil {
					r.setIndex(idx)
					log.Info("loaded HNSW index", "path", path, "photos", idx.Count())
					return nil
				}
				log.Warn("failed to load HNSW index, rebuilding", "path", path, "error", err)
			}
		}
	}

	if err := r.RebuildHNSW(ctx); err != nil {
		return err
	}
	if err := r.SaveHNSWIndex(); err != nil {
		log.Warn("failed to save HNSW index", "path", path, "error", err)
	}
	return nil
}

func (r *PhotoRepository) indexIsFresh(ctx context.Context, path string) (bool, error) {
	meta, err := database.LoadHNSWMetadata(path)
	if err != nil {
		return false, err
	}
	var count, maxID int64
	err = r.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(MAX(id), 0) FROM photos WHERE embedding IS NOT NULL").Scan(&count, &maxID)
	if err != nil {
		return false, fmt.Errorf("query index metadata: %w", err)
	}
	return meta.PhotoCount == count && meta.MaxPhotoID == maxID, nil
}

func (r *PhotoRepository) setIndex(idx *database.HNSWIndex) {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswIndex = idx
	r.hnswEnabled = true
}

// RebuildHNSW rebuilds the in-memory index from every stored embedding
func (r *PhotoRepository) RebuildHNSW(ctx context.Context) error {
	rows, err := r.pool.Query(ctx, "SELECT "+photoColumns+" FROM photos WHERE embedding IS NOT NULL")
	if err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}
	photos, err := scanPhotos(rows)
	if err != nil {
		return err
	}

	idx := database.NewHNSWIndex()
	idx.Build(photos)
	r.setIndex(idx)
	logging.From(ctx).Info("built HNSW index", "photos", idx.Count())
	return nil
}

// HNSWCount returns the number of items in the HNSW index
func (r *PhotoRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// IsHNSWEnabled returns whether HNSW is enabled
func (r *PhotoRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// SaveHNSWIndex saves the current index to disk (if path configured)
func (r *PhotoRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	idx, path := r.hnswIndex, r.hnswIndexPath
	r.hnswMu.RUnlock()

	if idx == nil || path == "" {
		return nil
	}
	return idx.Save(path, idx.Metadata())
}

func (r *PhotoRepository) indexPhoto(p *curation.Photo) {
	r.hnswMu.RLock()
	idx := r.hnswIndex
	r.hnswMu.RUnlock()
	if idx != nil && r.IsHNSWEnabled() {
		idx.Add(p)
	}
}

func (r *PhotoRepository) findSimilarHNSW(embedding []float32, limit int) ([]database.SimilarPhoto, error) {
	r.hnswMu.RLock()
	idx := r.hnswIndex
	r.hnswMu.RUnlock()

	if idx == nil {
		return nil, errors.New("HNSW index not initialized")
	}
	results, err := idx.Search(embedding, limit)
	if errors.Is(err, database.ErrIndexEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("HNSW search: %w", err)
	}
	return results, nil
}
