package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
)

func TestMockPhotoRepositoryUpsertKeepsDecisions(t *testing.T) {
	ctx := context.Background()
	repo := NewMockPhotoRepository()

	p, err := repo.Upsert(ctx, &curation.Photo{SourceID: "a", FileName: "a.jpg", TakenAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateFields(ctx, p.ID, database.Fields{
		database.FieldTotalScore: 8.1,
		database.FieldIsSelfie:   true,
	}))

	again, err := repo.Upsert(ctx, &curation.Photo{SourceID: "a", FileName: "renamed.jpg"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, "renamed.jpg", again.FileName)
	require.NotNil(t, again.TotalScore)
	assert.InDelta(t, 8.1, *again.TotalScore, 1e-9)
	assert.True(t, again.IsSelfie)
	assert.Len(t, repo.Updates, 1)
}

func TestMockPhotoRepositoryRejectsUnknownFields(t *testing.T) {
	repo := NewMockPhotoRepository()
	p := repo.AddPhoto(&curation.Photo{SourceID: "a"})

	err := repo.UpdateFields(context.Background(), p.ID, database.Fields{"source_id": "b"})
	assert.ErrorIs(t, err, database.ErrUnknownField)

	err = repo.UpdateFields(context.Background(), 99, database.Fields{database.FieldCity: "x"})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestMockPhotoRepositoryFindSimilar(t *testing.T) {
	repo := NewMockPhotoRepository()
	repo.AddPhoto(&curation.Photo{SourceID: "a", Embedding: []float32{1, 0}})
	repo.AddPhoto(&curation.Photo{SourceID: "b", Embedding: []float32{0.7, 0.7}})
	repo.AddPhoto(&curation.Photo{SourceID: "c"})

	results, err := repo.FindSimilar(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Photo.SourceID)
	assert.Equal(t, "b", results[1].Photo.SourceID)
}
