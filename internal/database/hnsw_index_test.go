package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-curator/internal/curation"
)

func indexedPhoto(id int64, embedding ...float32) *curation.Photo {
	return &curation.Photo{ID: id, SourceID: "src-" + string(rune('a'+id)), Embedding: embedding}
}

func TestHNSWIndexSearch(t *testing.T) {
	idx := NewHNSWIndex()
	idx.Build([]*curation.Photo{
		indexedPhoto(1, 1, 0, 0),
		indexedPhoto(2, 0.9, 0.1, 0),
		indexedPhoto(3, 0, 0, 1),
		indexedPhoto(4), // no embedding
	})

	assert.Equal(t, 3, idx.Count())
	assert.Nil(t, idx.Get(4))

	results, err := idx.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].Photo.ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.Equal(t, int64(2), results[1].Photo.ID)
	assert.Less(t, results[1].Distance, 0.01)
}

func TestHNSWIndexEmpty(t *testing.T) {
	idx := NewHNSWIndex()
	_, err := idx.Search([]float32{1, 0}, 5)
	assert.ErrorIs(t, err, ErrIndexEmpty)

	idx.Build(nil)
	_, err = idx.Search([]float32{1, 0}, 5)
	assert.ErrorIs(t, err, ErrIndexEmpty)
}

func TestHNSWIndexAddReplaces(t *testing.T) {
	idx := NewHNSWIndex()
	idx.Add(indexedPhoto(7, 1, 0))
	idx.Add(indexedPhoto(7, 0, 1))
	idx.Add(indexedPhoto(8))

	assert.Equal(t, 1, idx.Count())
	results, err := idx.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
}

func TestHNSWIndexSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photos.hnsw")

	idx := NewHNSWIndex()
	idx.Build([]*curation.Photo{
		indexedPhoto(1, 1, 0, 0),
		indexedPhoto(5, 0, 1, 0),
	})
	meta := idx.Metadata()
	assert.Equal(t, int64(2), meta.PhotoCount)
	assert.Equal(t, int64(5), meta.MaxPhotoID)
	require.NoError(t, idx.Save(path, meta))

	loadedMeta, err := LoadHNSWMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, hnswMetadataVersion, loadedMeta.Version)
	assert.Equal(t, int64(5), loadedMeta.MaxPhotoID)

	loaded := NewHNSWIndex()
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.Count())
	results, err := loaded.Search([]float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(5), results[0].Photo.ID)
	assert.Equal(t, "src-f", results[0].Photo.SourceID)
}

func TestFieldsValidate(t *testing.T) {
	assert.NoError(t, DecisionFields(true, "https://x/1.jpg", false, nil).Validate())
	assert.NoError(t, Fields{FieldCity: "Prague", FieldTotalScore: 7.2}.Validate())

	err := Fields{FieldCity: "Prague", "source_id": "hack"}.Validate()
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.Contains(t, err.Error(), "source_id")
}

func TestFieldsNames(t *testing.T) {
	f := Fields{FieldTotalScore: 1.0, FieldCity: "x", FieldIsProcessed: true}
	assert.Equal(t, []string{FieldCity, FieldIsProcessed, FieldTotalScore}, f.Names())
}
