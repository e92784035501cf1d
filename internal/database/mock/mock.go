// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/fingerprint"
)

// MockPhotoRepository is an in-memory implementation of database.PhotoRepository
type MockPhotoRepository struct {
	mu       sync.RWMutex
	photos   map[int64]*curation.Photo
	bySource map[string]int64
	nextID   int64

	// Updates records every UpdateFields call in order.
	Updates []Update

	// Error injection
	UpsertError       error
	UpdateFieldsError error
	GetError          error
	ListError         error
	FindSimilarError  error
}

// Update is one recorded UpdateFields call.
type Update struct {
	ID     int64
	Fields database.Fields
}

// NewMockPhotoRepository creates a new mock photo repository
func NewMockPhotoRepository() *MockPhotoRepository {
	return &MockPhotoRepository{
		photos:   make(map[int64]*curation.Photo),
		bySource: make(map[string]int64),
	}
}

func clonePhoto(p *curation.Photo) *curation.Photo {
	c := *p
	c.Embedding = slices.Clone(p.Embedding)
	c.BetterEventRefs = slices.Clone(p.BetterEventRefs)
	return &c
}

// AddPhoto stores a photo as-is, assigning an id when missing.
func (m *MockPhotoRepository) AddPhoto(p *curation.Photo) *curation.Photo {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := clonePhoto(p)
	if c.ID == 0 {
		m.nextID++
		c.ID = m.nextID
	}
	m.nextID = max(m.nextID, c.ID)
	m.photos[c.ID] = c
	m.bySource[c.SourceID] = c.ID
	return clonePhoto(c)
}

// Upsert inserts the photo or refreshes the file metadata of an existing one
func (m *MockPhotoRepository) Upsert(ctx context.Context, photo *curation.Photo) (*curation.Photo, error) {
	if m.UpsertError != nil {
		return nil, m.UpsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySource[photo.SourceID]
	if !ok {
		m.nextID++
		c := clonePhoto(photo)
		c.ID = m.nextID
		c.CreatedAt = time.Now()
		c.UpdatedAt = c.CreatedAt
		m.photos[c.ID] = c
		m.bySource[c.SourceID] = c.ID
		return clonePhoto(c), nil
	}

	stored := m.photos[id]
	stored.SourcePath = photo.SourcePath
	stored.FileName = photo.FileName
	stored.Size = photo.Size
	if photo.MimeType != "" {
		stored.MimeType = photo.MimeType
	}
	if !photo.TakenAt.IsZero() {
		stored.TakenAt = photo.TakenAt
	}
	if photo.Latitude != nil {
		stored.Latitude = photo.Latitude
	}
	if photo.Longitude != nil {
		stored.Longitude = photo.Longitude
	}
	if photo.Altitude != "" {
		stored.Altitude = photo.Altitude
	}
	if photo.DeviceMake != "" {
		stored.DeviceMake = photo.DeviceMake
	}
	if photo.DeviceModel != "" {
		stored.DeviceModel = photo.DeviceModel
	}
	stored.UpdatedAt = time.Now()
	return clonePhoto(stored), nil
}

// UpdateFields applies a whitelisted partial update
func (m *MockPhotoRepository) UpdateFields(ctx context.Context, id int64, fields database.Fields) error {
	if m.UpdateFieldsError != nil {
		return m.UpdateFieldsError
	}
	if err := fields.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.photos[id]
	if !ok {
		return fmt.Errorf("photo %d: %w", id, database.ErrNotFound)
	}
	for _, name := range fields.Names() {
		if err := applyField(p, name, fields[name]); err != nil {
			return err
		}
	}
	p.UpdatedAt = time.Now()
	m.Updates = append(m.Updates, Update{ID: id, Fields: fields})
	return nil
}

func floatPtr(v any) (*float64, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &val, nil
	case *float64:
		return val, nil
	default:
		return nil, fmt.Errorf("expected float, got %T", v)
	}
}

func applyField(p *curation.Photo, name string, value any) error {
	var err error
	switch name {
	case database.FieldURL:
		p.URL, _ = value.(string)
	case database.FieldMimeType:
		p.MimeType, _ = value.(string)
	case database.FieldLatitude:
		p.Latitude, err = floatPtr(value)
	case database.FieldLongitude:
		p.Longitude, err = floatPtr(value)
	case database.FieldAltitude:
		p.Altitude, _ = value.(string)
	case database.FieldDeviceMake:
		p.DeviceMake, _ = value.(string)
	case database.FieldDeviceModel:
		p.DeviceModel, _ = value.(string)
	case database.FieldCity:
		p.City, _ = value.(string)
	case database.FieldState:
		p.State, _ = value.(string)
	case database.FieldNeighborhood:
		p.Neighborhood, _ = value.(string)
	case database.FieldTechnicalScore:
		p.TechnicalScore, err = floatPtr(value)
	case database.FieldTechnicalReason:
		p.TechnicalReason, _ = value.(string)
	case database.FieldContentScore:
		p.ContentScore, err = floatPtr(value)
	case database.FieldContentReason:
		p.ContentReason, _ = value.(string)
	case database.FieldEmotionalScore:
		p.EmotionalScore, err = floatPtr(value)
	case database.FieldEmotionalReason:
		p.EmotionalReason, _ = value.(string)
	case database.FieldTotalScore:
		p.TotalScore, err = floatPtr(value)
	case database.FieldIsSelfie:
		p.IsSelfie, _ = value.(bool)
	case database.FieldRejectionReason:
		p.RejectionReason, _ = value.(string)
	case database.FieldEmbedding:
		v, _ := value.([]float32)
		p.Embedding = slices.Clone(v)
	case database.FieldIsLesserDuplicate:
		p.IsLesserDuplicate, _ = value.(bool)
	case database.FieldBetterDuplicateRef:
		p.BetterDuplicateRef, _ = value.(string)
	case database.FieldIsLesserInEvent:
		p.IsLesserInEvent, _ = value.(bool)
	case database.FieldBetterEventRefs:
		v, _ := value.([]string)
		p.BetterEventRefs = slices.Clone(v)
	case database.FieldIsProcessed:
		p.IsProcessed, _ = value.(bool)
	}
	if err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	return nil
}

// Get retrieves a photo by id
func (m *MockPhotoRepository) Get(ctx context.Context, id int64) (*curation.Photo, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.photos[id]
	if !ok {
		return nil, fmt.Errorf("photo %d: %w", id, database.ErrNotFound)
	}
	return clonePhoto(p), nil
}

// GetBySourceID retrieves a photo by source id
func (m *MockPhotoRepository) GetBySourceID(ctx context.Context, sourceID string) (*curation.Photo, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySource[sourceID]
	if !ok {
		return nil, fmt.Errorf("photo %s: %w", sourceID, database.ErrNotFound)
	}
	return clonePhoto(m.photos[id]), nil
}

// SelectUnprocessedIDs returns ids of photos not yet processed
func (m *MockPhotoRepository) SelectUnprocessedIDs(ctx context.Context) ([]int64, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for id, p := range m.photos {
		if !p.IsProcessed {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ListProcessedSourceIDs returns source ids of processed photos
func (m *MockPhotoRepository) ListProcessedSourceIDs(ctx context.Context) ([]string, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, p := range m.photos {
		if p.IsProcessed {
			ids = append(ids, p.SourceID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ListByDateRange returns photos taken in [from, to) in capture order
func (m *MockPhotoRepository) ListByDateRange(ctx context.Context, from, to time.Time) ([]*curation.Photo, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*curation.Photo
	for _, p := range m.photos {
		if !p.TakenAt.Before(from) && p.TakenAt.Before(to) {
			out = append(out, clonePhoto(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TakenAt.Equal(out[j].TakenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].TakenAt.Before(out[j].TakenAt)
	})
	return out, nil
}

// FindSimilar ranks every stored embedding by exact cosine distance
func (m *MockPhotoRepository) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.SimilarPhoto, error) {
	if m.FindSimilarError != nil {
		return nil, m.FindSimilarError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.SimilarPhoto
	for _, p := range m.photos {
		if len(p.Embedding) == 0 {
			continue
		}
		sim, err := fingerprint.CosineSimilarity(embedding, p.Embedding)
		if err != nil {
			continue
		}
		out = append(out, database.SimilarPhoto{Photo: clonePhoto(p), Distance: 1 - sim})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored photos
func (m *MockPhotoRepository) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.photos), nil
}

// MockRunRepository is an in-memory implementation of database.RunRepository
type MockRunRepository struct {
	mu   sync.RWMutex
	runs map[string]*database.Run

	CreateError error
	FinishError error
}

// NewMockRunRepository creates a new mock run repository
func NewMockRunRepository() *MockRunRepository {
	return &MockRunRepository{runs: make(map[string]*database.Run)}
}

// CreateRun stores a run in the running state
func (m *MockRunRepository) CreateRun(ctx context.Context, run *database.Run) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Status = database.RunRunning
	run.StartedAt = time.Now()
	c := *run
	m.runs[run.ID] = &c
	return nil
}

// FinishRun records the final state of a run
func (m *MockRunRepository) FinishRun(ctx context.Context, id string, status string, stats curation.RunStats, runErr error) error {
	if m.FinishError != nil {
		return m.FinishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, database.ErrNotFound)
	}
	now := time.Now()
	run.Status = status
	run.Stats = stats
	run.FinishedAt = &now
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return nil
}

// GetRun returns a run by id
func (m *MockRunRepository) GetRun(ctx context.Context, id string) (*database.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, database.ErrNotFound)
	}
	c := *run
	return &c, nil
}

// ListRuns returns runs, most recent first
func (m *MockRunRepository) ListRuns(ctx context.Context, limit int) ([]database.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ database.PhotoRepository = (*MockPhotoRepository)(nil)
	_ database.RunRepository   = (*MockRunRepository)(nil)
)
