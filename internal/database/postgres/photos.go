package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
)

const photoColumns = `id, source_id, source_path, file_name, mime_type, url, size, taken_at,
	latitude, longitude, altitude, device_make, device_model, city, state, neighborhood,
	technical_score, technical_reason, content_score, content_reason, emotional_score, emotional_reason,
	total_score, is_selfie, rejection_reason, embedding,
	is_lesser_duplicate, better_duplicate_ref, is_lesser_in_event, better_event_refs,
	is_processed, created_at, updated_at`

// PhotoRepository provides PostgreSQL-backed photo storage with an optional
// in-memory HNSW index for similar-photo search.
type PhotoRepository struct {
	pool          *Pool
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string
	hnswMu        sync.RWMutex
}

// NewPhotoRepository creates a new PostgreSQL photo repository
func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*curation.Photo, error) {
	var p curation.Photo
	var takenAt sql.NullTime
	var vec *pgvector.Vector

	err := row.Scan(
		&p.ID, &p.SourceID, &p.SourcePath, &p.FileName, &p.MimeType, &p.URL, &p.Size, &takenAt,
		&p.Latitude, &p.Longitude, &p.Altitude, &p.DeviceMake, &p.DeviceModel, &p.City, &p.State, &p.Neighborhood,
		&p.TechnicalScore, &p.TechnicalReason, &p.ContentScore, &p.ContentReason, &p.EmotionalScore, &p.EmotionalReason,
		&p.TotalScore, &p.IsSelfie, &p.RejectionReason, &vec,
		&p.IsLesserDuplicate, &p.BetterDuplicateRef, &p.IsLesserInEvent, pq.Array(&p.BetterEventRefs),
		&p.IsProcessed, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if takenAt.Valid {
		p.TakenAt = takenAt.Time
	}
	if vec != nil {
		p.Embedding = vec.Slice()
	}
	if len(p.BetterEventRefs) == 0 {
		p.BetterEventRefs = nil
	}
	return &p, nil
}

func scanPhotos(rows *sql.Rows) ([]*curation.Photo, error) {
	defer rows.Close()

	var photos []*curation.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}

// vectorArg converts an embedding into a query argument; nil stays NULL.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func timeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// Upsert inserts the photo or refreshes the file and EXIF columns of the
// record with the same source id. Scores, screening and clustering decisions
// already stored are left untouched.
func (r *PhotoRepository) Upsert(ctx context.Context, photo *curation.Photo) (*curation.Photo, error) {
	query := `
		INSERT INTO photos (
			source_id, source_path, file_name, mime_type, url, size, taken_at,
			latitude, longitude, altitude, device_make, device_model, city, state, neighborhood,
			technical_score, technical_reason, content_score, content_reason, emotional_score, emotional_reason,
			total_score, is_selfie, rejection_reason, embedding,
			is_lesser_duplicate, better_duplicate_ref, is_lesser_in_event, better_event_refs, is_processed
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30
		)
		ON CONFLICT (source_id) DO UPDATE SET
			source_path  = EXCLUDED.source_path,
			file_name    = EXCLUDED.file_name,
			mime_type    = COALESCE(NULLIF(EXCLUDED.mime_type, ''), photos.mime_type),
			size         = EXCLUDED.size,
			taken_at     = COALESCE(EXCLUDED.taken_at, photos.taken_at),
			latitude     = COALESCE(EXCLUDED.latitude, photos.latitude),
			longitude    = COALESCE(EXCLUDED.longitude, photos.longitude),
			altitude     = COALESCE(NULLIF(EXCLUDED.altitude, ''), photos.altitude),
			device_make  = COALESCE(NULLIF(EXCLUDED.device_make, ''), photos.device_make),
			device_model = COALESCE(NULLIF(EXCLUDED.device_model, ''), photos.device_model),
			updated_at   = NOW()
		RETURNING ` + photoColumns

	refs := photo.BetterEventRefs
	if refs == nil {
		refs = []string{}
	}

	stored, err := scanPhoto(r.pool.QueryRow(ctx, query,
		photo.SourceID, photo.SourcePath, photo.FileName, photo.MimeType, photo.URL, photo.Size, timeArg(photo.TakenAt),
		photo.Latitude, photo.Longitude, photo.Altitude, photo.DeviceMake, photo.DeviceModel, photo.City, photo.State, photo.Neighborhood,
		photo.TechnicalScore, photo.TechnicalReason, photo.ContentScore, photo.ContentReason, photo.EmotionalScore, photo.EmotionalReason,
		photo.TotalScore, photo.IsSelfie, photo.RejectionReason, vectorArg(photo.Embedding),
		photo.IsLesserDuplicate, photo.BetterDuplicateRef, photo.IsLesserInEvent, pq.Array(refs), photo.IsProcessed,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert photo %s: %w", photo.SourceID, err)
	}

	r.indexPhoto(stored)
	return stored, nil
}

// buildUpdate renders a whitelisted partial update as SQL with positional args.
func buildUpdate(id int64, fields database.Fields) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, errors.New("no fields to update")
	}
	if err := fields.Validate(); err != nil {
		return "", nil, err
	}

	names := fields.Names()
	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+1)
	for i, name := range names {
		sets = append(sets, fmt.Sprintf("%s = $%d", name, i+1))
		args = append(args, fieldArg(fields[name]))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE photos SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return query, args, nil
}

func fieldArg(v any) any {
	switch val := v.(type) {
	case []float32:
		return vectorArg(val)
	case []string:
		if val == nil {
			val = []string{}
		}
		return pq.Array(val)
	default:
		return v
	}
}

// UpdateFields applies a partial update restricted to the field whitelist
func (r *PhotoRepository) UpdateFields(ctx context.Context, id int64, fields database.Fields) error {
	query, args, err := buildUpdate(id, fields)
	if err != nil {
		return err
	}

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update photo %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update photo %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("photo %d: %w", id, database.ErrNotFound)
	}

	if _, ok := fields[database.FieldEmbedding]; ok && r.IsHNSWEnabled() {
		photo, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		r.indexPhoto(photo)
	}
	return nil
}

// Get retrieves a photo by id
func (r *PhotoRepository) Get(ctx context.Context, id int64) (*curation.Photo, error) {
	p, err := scanPhoto(r.pool.QueryRow(ctx, "SELECT "+photoColumns+" FROM photos WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("photo %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query photo %d: %w", id, err)
	}
	return p, nil
}

// GetBySourceID retrieves a photo by its file-sync identifier
func (r *PhotoRepository) GetBySourceID(ctx context.Context, sourceID string) (*curation.Photo, error) {
	p, err := scanPhoto(r.pool.QueryRow(ctx, "SELECT "+photoColumns+" FROM photos WHERE source_id = $1", sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("photo %s: %w", sourceID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query photo %s: %w", sourceID, err)
	}
	return p, nil
}

// SelectUnprocessedIDs returns ids of photos not yet marked processed
func (r *PhotoRepository) SelectUnprocessedIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, "SELECT id FROM photos WHERE NOT is_processed ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query unprocessed photos: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan photo id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo ids: %w", err)
	}
	return ids, nil
}

// ListProcessedSourceIDs returns the source ids of every processed photo
func (r *PhotoRepository) ListProcessedSourceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, "SELECT source_id FROM photos WHERE is_processed")
	if err != nil {
		return nil, fmt.Errorf("query processed photos: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan source id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source ids: %w", err)
	}
	return ids, nil
}

// ListByDateRange returns photos taken in [from, to), ordered by capture time
func (r *PhotoRepository) ListByDateRange(ctx context.Context, from, to time.Time) ([]*curation.Photo, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+photoColumns+" FROM photos WHERE taken_at >= $1 AND taken_at < $2 ORDER BY taken_at, id",
		from, to)
	if err != nil {
		return nil, fmt.Errorf("query photos by date: %w", err)
	}
	return scanPhotos(rows)
}

// Count returns the number of stored photos
func (r *PhotoRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM photos").Scan(&count); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return count, nil
}

// FindSimilar finds the most similar photos using cosine distance.
// Uses the in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *PhotoRepository) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.SimilarPhoto, error) {
	if limit <= 0 {
		limit = constants.DefaultSimilarLimit
	}
	if r.IsHNSWEnabled() {
		return r.findSimilarHNSW(embedding, limit)
	}
	return r.findSimilarPostgres(ctx, embedding, limit)
}

// findSimilarPostgres uses the pgvector HNSW index with a raised ef_search
func (r *PhotoRepository) findSimilarPostgres(ctx context.Context, embedding []float32, limit int) ([]database.SimilarPhoto, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := `
		SELECT ` + photoColumns + `, embedding <=> $1::vector AS distance
		FROM photos
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`
	rows, err := tx.QueryContext(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar photos: %w", err)
	}
	defer rows.Close()

	var results []database.SimilarPhoto
	for rows.Next() {
		var distance float64
		p, err := scanPhoto(distanceScanner{rows: rows, distance: &distance})
		if err != nil {
			return nil, fmt.Errorf("scan similar photo: %w", err)
		}
		results = append(results, database.SimilarPhoto{Photo: p, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar photos: %w", err)
	}
	return results, nil
}

// distanceScanner appends the trailing distance column to a photo scan.
type distanceScanner struct {
	rows     *sql.Rows
	distance *float64
}

func (s distanceScanner) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.distance)...)
}
