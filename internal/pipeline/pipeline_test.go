package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/database/mock"
	"github.com/kozaktomas/photo-curator/internal/geocode"
	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/scheduler"
	"github.com/kozaktomas/photo-curator/internal/scoring"
	"github.com/kozaktomas/photo-curator/internal/source"
)

var testDay = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func jpegImage(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := range 64 {
		for y := range 48 {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func screenshotImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 301, 651))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeSource struct {
	mu       sync.Mutex
	items    []source.Item
	data     map[string][]byte
	listErr  error
	failIDs  map[string]bool
	uploads  map[string][]byte
	listDays []time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		data:    make(map[string][]byte),
		failIDs: make(map[string]bool),
		uploads: make(map[string][]byte),
	}
}

func (s *fakeSource) add(id string, modified time.Time, data []byte) {
	s.items = append(s.items, source.Item{
		ID:       id,
		Path:     "/Camera Uploads/" + id + ".jpg",
		Name:     id + ".jpg",
		Size:     int64(len(data)),
		Modified: modified,
	})
	s.data[id] = data
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) ListByDate(ctx context.Context, folder string, day time.Time) ([]source.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listDays = append(s.listDays, day)
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []source.Item
	for _, item := range s.items {
		if source.OnDay(item.Modified, day) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *fakeSource) Download(ctx context.Context, item source.Item) ([]byte, error) {
	if s.failIDs[item.ID] {
		return nil, errors.New("download failed")
	}
	return s.data[item.ID], nil
}

func (s *fakeSource) Upload(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[path] = data
	return nil
}

type fakeScreener struct {
	mu      sync.Mutex
	reject  map[string]string
	calls   int
	failing bool
}

func (s *fakeScreener) Screen(ctx context.Context, image []byte) (*scoring.Screening, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing {
		return nil, errors.New("vision unavailable")
	}
	if reason, ok := s.reject[string(image)]; ok {
		return &scoring.Screening{RejectionReason: reason}, nil
	}
	return &scoring.Screening{RejectionReason: constants.RejectionNone}, nil
}

// fakeHighlighter scores by image content and records the technical dimension.
type fakeHighlighter struct {
	scores map[string]float64
}

func (h *fakeHighlighter) Highlight(ctx context.Context, photo *curation.Photo, image []byte, record scoring.ScoreRecorder) (float64, error) {
	total := h.scores[string(image)]
	result := &scoring.Result{Dimension: scoring.Technical, Score: total, Reasoning: "fake"}
	if err := record(ctx, photo, result); err != nil {
		return 0, err
	}
	photo.TechnicalScore = &total
	photo.TotalScore = &total
	return total, nil
}

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (e *fakeEmbedder) ComputeEmbedding(ctx context.Context, image []byte) ([]float32, error) {
	v, ok := e.vectors[string(image)]
	if !ok {
		return nil, errors.New("no embedding")
	}
	return v, nil
}

type fakeGeocoder struct {
	loc *geocode.Location
	err error
}

func (g *fakeGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (*geocode.Location, error) {
	return g.loc, g.err
}

type fakeStore struct {
	mu   sync.Mutex
	puts map[string]int
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[key] = len(data)
	return "https://cdn.example.com/" + key, nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.puts[key]
	return ok, nil
}

type fixture struct {
	source   *fakeSource
	photos   *mock.MockPhotoRepository
	runs     *mock.MockRunRepository
	screener *fakeScreener
	scores   *fakeHighlighter
	embedder *fakeEmbedder
	geocoder *fakeGeocoder
	store    *fakeStore
}

func newFixture() *fixture {
	return &fixture{
		source:   newFakeSource(),
		photos:   mock.NewMockPhotoRepository(),
		runs:     mock.NewMockRunRepository(),
		screener: &fakeScreener{reject: map[string]string{}},
		scores:   &fakeHighlighter{scores: map[string]float64{}},
		embedder: &fakeEmbedder{vectors: map[string][]float32{}},
		geocoder: &fakeGeocoder{err: geocode.ErrNoResults},
		store:    &fakeStore{puts: map[string]int{}},
	}
}

func (f *fixture) driver(opts Options) *Driver {
	noSleep := func(ctx context.Context, d time.Duration) error { return nil }
	opts.SchedulerOptions = append(opts.SchedulerOptions, scheduler.WithSleep(noSleep))
	return New(Deps{
		Source:      f.source,
		Photos:      f.photos,
		Runs:        f.runs,
		Screener:    f.screener,
		Highlighter: f.scores,
		Geocoder:    f.geocoder,
		Embedder:    f.embedder,
		Store:       f.store,
		Logger:      logging.Discard(),
	}, opts)
}

// photo adds a JPEG with the given score and embedding to the source.
func (f *fixture) photo(t *testing.T, id string, at time.Time, c color.Color, score float64, vec []float32) []byte {
	t.Helper()
	data := jpegImage(t, c)
	f.source.add(id, at, data)
	f.scores.scores[string(data)] = score
	if vec != nil {
		f.embedder.vectors[string(data)] = vec
	}
	return data
}

func stored(t *testing.T, repo *mock.MockPhotoRepository, sourceID string) *curation.Photo {
	t.Helper()
	p, err := repo.GetBySourceID(context.Background(), sourceID)
	require.NoError(t, err)
	return p
}

func TestRun_FullFlow(t *testing.T) {
	f := newFixture()
	noon := testDay.Add(12 * time.Hour)
	f.photo(t, "a", noon, color.RGBA{R: 200, A: 255}, 8, []float32{1, 0, 0})
	f.photo(t, "b", noon.Add(5*time.Second), color.RGBA{G: 200, A: 255}, 7, []float32{1, 0, 0})
	f.photo(t, "c", noon.Add(time.Hour), color.RGBA{B: 200, A: 255}, 5, []float32{0, 1, 0})

	d := f.driver(Options{})
	stats, err := d.Run(context.Background(), testDay, testDay)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Listed)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.DuplicateDemoted)
	assert.Equal(t, 1, stats.Uploaded)
	assert.Zero(t, stats.Failed)

	a := stored(t, f.photos, "a")
	b := stored(t, f.photos, "b")
	c := stored(t, f.photos, "c")

	assert.Equal(t, "https://cdn.example.com/images/a/original.jpg", a.URL)
	assert.Len(t, f.store.puts, 3)
	require.NotNil(t, a.TotalScore)
	assert.InDelta(t, 8, *a.TotalScore, 1e-9)
	assert.Equal(t, "fake", a.TechnicalReason)

	assert.False(t, a.IsLesserDuplicate)
	assert.True(t, b.IsLesserDuplicate)
	assert.Equal(t, a.URL, b.BetterDuplicateRef)
	assert.False(t, c.IsLesserInEvent, "two-photo bursts are never demoted")

	for _, p := range []*curation.Photo{a, b, c} {
		assert.True(t, p.IsProcessed, p.SourceID)
		assert.Equal(t, constants.RejectionNone, p.RejectionReason)
	}

	require.Len(t, f.source.uploads, 1)
	assert.Contains(t, f.source.uploads, "/Highlights/a.jpg")

	runs, err := f.runs.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunFinished, runs[0].Status)
	assert.Equal(t, KindRun, runs[0].Kind)
	assert.Equal(t, 3, runs[0].Stats.Processed)
}

func TestRun_SecondRunSkipsProcessed(t *testing.T) {
	f := newFixture()
	f.photo(t, "a", testDay.Add(time.Hour), color.White, 9, []float32{1, 0})

	_, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)

	stats, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Processed)
	assert.Equal(t, 1, f.screener.calls)
	assert.Len(t, f.source.uploads, 1)
}

func TestRun_Screenshot(t *testing.T) {
	f := newFixture()
	f.source.add("shot", testDay.Add(time.Hour), screenshotImage(t))

	stats, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Rejected)
	assert.Zero(t, f.screener.calls)
	p := stored(t, f.photos, "shot")
	assert.Equal(t, constants.RejectionScreenshot, p.RejectionReason)
	assert.True(t, p.IsProcessed)
	assert.Empty(t, f.store.puts)
}

func TestRun_ScreenerRejects(t *testing.T) {
	f := newFixture()
	data := f.photo(t, "blurry", testDay.Add(time.Hour), color.Black, 9, []float32{1, 0})
	f.screener.reject[string(data)] = "blurry"

	stats, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Rejected)
	assert.Zero(t, stats.Processed)
	p := stored(t, f.photos, "blurry")
	assert.Equal(t, "blurry", p.RejectionReason)
	assert.True(t, p.IsProcessed)
	assert.Nil(t, p.TotalScore)
	assert.Empty(t, f.store.puts)
	assert.Empty(t, f.source.uploads)
}

func TestRun_PreviouslyRejectedIsNotRescreened(t *testing.T) {
	f := newFixture()
	f.photo(t, "old", testDay.Add(time.Hour), color.Black, 9, nil)
	f.photos.AddPhoto(&curation.Photo{SourceID: "old", RejectionReason: "nsfw"})

	stats, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.Zero(t, f.screener.calls)
}

func TestRun_Geocodes(t *testing.T) {
	f := newFixture()
	f.photo(t, "geo", testDay.Add(time.Hour), color.White, 5, []float32{1, 0})
	lat, lng := 50.08, 14.42
	f.photos.AddPhoto(&curation.Photo{SourceID: "geo", Latitude: &lat, Longitude: &lng, RejectionReason: constants.RejectionNone})
	f.geocoder.err = nil
	f.geocoder.loc = &geocode.Location{City: "Prague", Sublocality: "Prague 1", Neighborhood: "Old Town"}

	_, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)

	p := stored(t, f.photos, "geo")
	assert.Equal(t, "Prague", p.City)
	assert.Equal(t, "Prague 1", p.State)
	assert.Equal(t, "Old Town", p.Neighborhood)
	assert.Zero(t, f.screener.calls)
}

func TestRun_GeocodeFailureFailsPhoto(t *testing.T) {
	f := newFixture()
	f.photo(t, "geo", testDay.Add(time.Hour), color.White, 5, []float32{1, 0})
	lat, lng := 50.08, 14.42
	f.photos.AddPhoto(&curation.Photo{SourceID: "geo", Latitude: &lat, Longitude: &lng, RejectionReason: constants.RejectionNone})
	f.geocoder.err = errors.New("quota exceeded")

	stats, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.False(t, stored(t, f.photos, "geo").IsProcessed)
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture()
	noon := testDay.Add(12 * time.Hour)
	f.photo(t, "a", noon, color.White, 9, []float32{1, 0})
	f.photo(t, "b", noon.Add(time.Second), color.Black, 8, []float32{1, 0})

	stats, err := f.driver(Options{DryRun: true}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.DuplicateDemoted)
	assert.Empty(t, f.store.puts)
	assert.Empty(t, f.source.uploads)
	for _, id := range []string{"a", "b"} {
		p := stored(t, f.photos, id)
		assert.False(t, p.IsProcessed)
		assert.False(t, p.IsLesserDuplicate)
		assert.NotNil(t, p.TotalScore)
	}
}

func TestRun_PerPhotoFailureIsCounted(t *testing.T) {
	f := newFixture()
	f.photo(t, "ok", testDay.Add(time.Hour), color.White, 5, []float32{1, 0})
	f.photo(t, "broken", testDay.Add(2*time.Hour), color.Black, 5, []float32{0, 1})
	f.source.failIDs["broken"] = true

	stats, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Processed)
	assert.True(t, stored(t, f.photos, "ok").IsProcessed)
}

func TestRun_EmbeddingFailureKeepsPhoto(t *testing.T) {
	f := newFixture()
	f.photo(t, "noembed", testDay.Add(time.Hour), color.White, 9, nil)

	stats, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Contains(t, f.source.uploads, "/Highlights/noembed.jpg")
}

func TestRun_ScreeningErrorFailsPhoto(t *testing.T) {
	f := newFixture()
	f.photo(t, "a", testDay.Add(time.Hour), color.White, 9, []float32{1, 0})
	f.screener.failing = true

	stats, err := f.driver(Options{}).Run(context.Background(), testDay, testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, stored(t, f.photos, "a").RejectionReason)
}

func TestRun_ListingFailure(t *testing.T) {
	f := newFixture()
	f.source.listErr = errors.New("dropbox down")

	_, err := f.driver(Options{RunID: "run-1"}).Run(context.Background(), testDay, testDay.AddDate(0, 0, 1))
	require.Error(t, err)

	var taskErr *scheduler.TaskError
	assert.ErrorAs(t, err, &taskErr)

	run, err := f.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, database.RunFailed, run.Status)
	assert.Contains(t, run.Error, "dropbox down")
}

func TestRun_CoversEveryDay(t *testing.T) {
	f := newFixture()
	_, err := f.driver(Options{}).Run(context.Background(), testDay, testDay.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, f.source.listDays, 3)
}

func TestRun_SnapshotListsTasks(t *testing.T) {
	f := newFixture()
	f.photo(t, "a", testDay.Add(time.Hour), color.White, 5, []float32{1, 0})

	d := f.driver(Options{})
	_, err := d.Run(context.Background(), testDay, testDay)
	require.NoError(t, err)

	names := map[string]scheduler.Status{}
	for _, info := range d.Snapshot() {
		names[info.Name] = info.Status
	}
	assert.Contains(t, names, "date 2026-03-01")
	assert.Contains(t, names, "image a.jpg")
}

func TestDays(t *testing.T) {
	loc := time.FixedZone("CET", 3600)

	days := Days(time.Date(2026, 3, 28, 23, 0, 0, 0, loc), time.Date(2026, 3, 30, 1, 0, 0, 0, loc), loc)
	require.Len(t, days, 3)
	assert.Equal(t, "2026-03-28", days[0].Format(time.DateOnly))
	assert.Equal(t, "2026-03-30", days[2].Format(time.DateOnly))

	assert.Len(t, Days(testDay, testDay, time.UTC), 1)
	assert.Empty(t, Days(testDay, testDay.AddDate(0, 0, -1), time.UTC))
}

func TestLocationLabel(t *testing.T) {
	tests := []struct {
		name  string
		photo curation.Photo
		want  string
	}{
		{"city and state", curation.Photo{City: "Seattle", State: "WA"}, "Seattle, WA"},
		{"neighborhood fallback", curation.Photo{Neighborhood: "Vinohrady", State: "Prague"}, "Vinohrady, Prague"},
		{"city only", curation.Photo{City: "Brno"}, "Brno"},
		{"state only", curation.Photo{State: "CA"}, "CA"},
		{"nothing", curation.Photo{}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LocationLabel(&tc.photo))
		})
	}
}

func TestRecluster(t *testing.T) {
	f := newFixture()
	noon := testDay.Add(12 * time.Hour)
	s9, s6 := 9.0, 6.0
	f.photos.AddPhoto(&curation.Photo{SourceID: "a", URL: "u/a", TakenAt: noon, TotalScore: &s9,
		Embedding: []float32{1, 0}, RejectionReason: constants.RejectionNone, IsProcessed: true})
	f.photos.AddPhoto(&curation.Photo{SourceID: "b", URL: "u/b", TakenAt: noon.Add(3 * time.Second), TotalScore: &s6,
		Embedding: []float32{1, 0}, RejectionReason: constants.RejectionNone, IsProcessed: true,
		IsLesserInEvent: true, BetterEventRefs: []string{"stale"}})
	f.photos.AddPhoto(&curation.Photo{SourceID: "c", TakenAt: noon, RejectionReason: "blurry"})

	stats, err := f.driver(Options{}).Recluster(context.Background(), testDay, testDay)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Listed)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.DuplicateDemoted)

	b := stored(t, f.photos, "b")
	assert.True(t, b.IsLesserDuplicate)
	assert.Equal(t, "u/a", b.BetterDuplicateRef)
	assert.False(t, b.IsLesserInEvent)
	assert.Empty(t, b.BetterEventRefs)
	assert.Empty(t, f.source.listDays)

	runs, err := f.runs.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, KindRecluster, runs[0].Kind)
}
