package curation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-curator/internal/fingerprint"
)

func TestMarkDuplicates_CloseCaptureScenario(t *testing.T) {
	sims := map[[2]int]float64{{0, 1}: 0.90, {0, 2}: 0.80, {1, 2}: 0.87}
	vecs := gramVectors(3, func(i, j int) float64 { return sims[[2]int{i, j}] })

	p1 := photoAt("p1", 0)
	p2 := photoAt("p2", 5*time.Second)
	p3 := photoAt("p3", 8*time.Minute)
	for i, p := range []*Photo{p1, p2, p3} {
		p.Embedding = vecs[i]
	}
	p1.TotalScore, p2.TotalScore, p3.TotalScore = score(9.0), score(8.0), score(7.0)

	result, err := NewDuplicateClusterer().MarkDuplicates([]*Photo{p3, p2, p1})
	require.NoError(t, err)

	require.Len(t, result.Groups, 1)
	assert.Equal(t, []*Photo{p1, p2}, result.Groups[0])
	assert.Equal(t, 1, result.Demoted)

	assert.False(t, p1.IsLesserDuplicate)
	assert.Empty(t, p1.BetterDuplicateRef)
	assert.True(t, p2.IsLesserDuplicate)
	assert.Equal(t, p1.Ref(), p2.BetterDuplicateRef)
	assert.False(t, p3.IsLesserDuplicate)
	assert.Empty(t, p3.BetterDuplicateRef)
}

func TestMarkDuplicates_ComparesAgainstEveryMember(t *testing.T) {
	sims := map[[2]int]float64{{0, 1}: 0.90, {0, 2}: 0.80, {1, 2}: 0.95}
	vecs := gramVectors(3, func(i, j int) float64 { return sims[[2]int{i, j}] })

	a := photoAt("a", 0)
	b := photoAt("b", time.Minute)
	c := photoAt("c", 2*time.Minute)
	for i, p := range []*Photo{a, b, c} {
		p.Embedding = vecs[i]
		p.TotalScore = score(5)
	}

	result, err := NewDuplicateClusterer().MarkDuplicates([]*Photo{a, b, c})
	require.NoError(t, err)

	require.Len(t, result.Groups, 1)
	assert.Len(t, result.Groups[0], 3)
	assert.Equal(t, 2, result.Demoted)
}

func TestMarkDuplicates_CloseGapThreshold(t *testing.T) {
	vecs := gramVectors(2, func(i, j int) float64 { return 0.86 })

	tests := []struct {
		name    string
		gap     time.Duration
		grouped bool
	}{
		{"within close gap", 10 * time.Second, true},
		{"exactly close gap", 12 * time.Second, true},
		{"beyond close gap", 30 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := photoAt("a", 0)
			b := photoAt("b", tt.gap)
			a.Embedding, b.Embedding = vecs[0], vecs[1]

			result, err := NewDuplicateClusterer().MarkDuplicates([]*Photo{a, b})
			require.NoError(t, err)
			assert.Equal(t, tt.grouped, len(result.Groups) == 1)
		})
	}
}

func TestMarkDuplicates_WindowIsAnchored(t *testing.T) {
	same := []float32{1, 0, 0}
	a := photoAt("a", 0)
	b := photoAt("b", 9*time.Minute)
	c := photoAt("c", 15*time.Minute)
	for _, p := range []*Photo{a, b, c} {
		p.Embedding = same
	}

	result, err := NewDuplicateClusterer().MarkDuplicates([]*Photo{a, b, c})
	require.NoError(t, err)

	require.Len(t, result.Groups, 1)
	assert.ElementsMatch(t, []*Photo{a, b}, result.Groups[0])
	assert.False(t, c.IsLesserDuplicate)
}

func TestMarkDuplicates_Ranking(t *testing.T) {
	same := []float32{0, 1, 0}

	t.Run("tie prefers newest", func(t *testing.T) {
		older := photoAt("older", 0)
		newer := photoAt("newer", 3*time.Second)
		older.TotalScore, newer.TotalScore = score(7), score(7)
		older.Embedding, newer.Embedding = same, same

		_, err := NewDuplicateClusterer().MarkDuplicates([]*Photo{older, newer})
		require.NoError(t, err)
		assert.False(t, newer.IsLesserDuplicate)
		assert.True(t, older.IsLesserDuplicate)
		assert.Equal(t, newer.Ref(), older.BetterDuplicateRef)
	})

	t.Run("missing score ranks lowest", func(t *testing.T) {
		unscored := photoAt("unscored", 5*time.Second)
		scored := photoAt("scored", 0)
		scored.TotalScore = score(0.5)
		unscored.Embedding, scored.Embedding = same, same

		_, err := NewDuplicateClusterer().MarkDuplicates([]*Photo{unscored, scored})
		require.NoError(t, err)
		assert.False(t, scored.IsLesserDuplicate)
		assert.True(t, unscored.IsLesserDuplicate)
	})
}

func TestMarkDuplicates_SkipsIncompletePhotos(t *testing.T) {
	noEmbedding := photoAt("no-embedding", 0)
	noTime := &Photo{SourceID: "no-time", Embedding: []float32{1, 0}}
	ok := photoAt("ok", time.Second)
	ok.Embedding = []float32{1, 0}

	result, err := NewDuplicateClusterer().MarkDuplicates([]*Photo{noEmbedding, noTime, ok})
	require.NoError(t, err)

	assert.ElementsMatch(t, []*Photo{noEmbedding, noTime}, result.Skipped)
	assert.Empty(t, result.Groups)
	assert.False(t, noEmbedding.IsLesserDuplicate)
	assert.False(t, noTime.IsLesserDuplicate)
}

func TestMarkDuplicates_DegenerateSimilarityAbortsPass(t *testing.T) {
	tests := []struct {
		name string
		bad  []float32
		want error
	}{
		{"zero vector", []float32{0, 0, 0}, fingerprint.ErrDegenerateVector},
		{"dimension mismatch", []float32{1, 0}, fingerprint.ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := photoAt("a", 0)
			b := photoAt("b", time.Second)
			a.Embedding, b.Embedding = []float32{1, 0, 0}, []float32{1, 0, 0}
			a.TotalScore, b.TotalScore = score(9), score(3)

			broken := photoAt("broken", time.Hour)
			other := photoAt("other", time.Hour+time.Second)
			broken.Embedding, other.Embedding = tt.bad, []float32{1, 0, 0}

			result, err := NewDuplicateClusterer().MarkDuplicates([]*Photo{a, b, broken, other})
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, result)
			assert.False(t, b.IsLesserDuplicate, "no annotation after an aborted pass")
			assert.Empty(t, b.BetterDuplicateRef)
		})
	}
}

func TestMarkDuplicates_Invariants(t *testing.T) {
	// two bursts of near-identical captures plus noise
	var photos []*Photo
	for i := range 12 {
		p := photoAt(string(rune('a'+i)), time.Duration(i)*4*time.Second)
		if i < 6 {
			p.Embedding = []float32{1, 0.01 * float32(i), 0}
		} else {
			p.Embedding = []float32{0, 1, 0.01 * float32(i)}
		}
		if i%3 != 0 {
			p.TotalScore = score(float64(i % 7))
		}
		photos = append(photos, p)
	}

	clusterer := NewDuplicateClusterer()
	first, err := clusterer.MarkDuplicates(photos)
	require.NoError(t, err)
	require.NotEmpty(t, first.Groups)

	reps := make(map[string]bool)
	for _, group := range first.Groups {
		representatives := 0
		best := group[0]
		for _, p := range group {
			if !p.IsLesserDuplicate {
				representatives++
				assert.Same(t, best, p)
				continue
			}
			assert.NotEmpty(t, p.BetterDuplicateRef)
			assert.Equal(t, best.Ref(), p.BetterDuplicateRef)
			assert.LessOrEqual(t, scoreOrLowest(p), scoreOrLowest(best))
		}
		assert.Equal(t, 1, representatives)
		reps[best.Ref()] = true
	}

	// a second pass over the annotated input keeps the same representatives
	second, err := clusterer.MarkDuplicates(photos)
	require.NoError(t, err)
	require.Len(t, second.Groups, len(first.Groups))
	for _, group := range second.Groups {
		assert.True(t, reps[group[0].Ref()])
	}
}
