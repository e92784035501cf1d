package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-curator/internal/constants"
	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
)

// PhotosHandler serves stored photo records.
type PhotosHandler struct {
	photos database.PhotoReader
	log    *slog.Logger
}

// NewPhotosHandler creates a photos handler.
func NewPhotosHandler(photos database.PhotoReader, log *slog.Logger) *PhotosHandler {
	return &PhotosHandler{photos: photos, log: log}
}

// SimilarPhotoResponse is one neighbour of a photo.
type SimilarPhotoResponse struct {
	Photo      *curation.Photo `json:"photo"`
	Distance   float64         `json:"distance"`
	Similarity float64         `json:"similarity"`
}

// SimilarResponse is the answer of the similar-photo endpoint.
type SimilarResponse struct {
	Source  *curation.Photo        `json:"source"`
	Results []SimilarPhotoResponse `json:"results"`
}

// Get returns one photo.
func (h *PhotosHandler) Get(w http.ResponseWriter, r *http.Request) {
	photo, ok := h.load(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, photo)
}

// Similar returns the nearest photos by embedding, excluding the photo itself.
func (h *PhotosHandler) Similar(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", constants.DefaultSimilarLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	photo, ok := h.load(w, r)
	if !ok {
		return
	}
	if len(photo.Embedding) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "photo has no embedding")
		return
	}

	similar, err := h.photos.FindSimilar(r.Context(), photo.Embedding, limit+1)
	if err != nil {
		h.log.Error("similar search failed", "id", photo.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "similar search failed")
		return
	}

	resp := SimilarResponse{Source: photo, Results: make([]SimilarPhotoResponse, 0, limit)}
	for _, s := range similar {
		if s.Photo.ID == photo.ID || len(resp.Results) == limit {
			continue
		}
		resp.Results = append(resp.Results, SimilarPhotoResponse{
			Photo:      s.Photo,
			Distance:   s.Distance,
			Similarity: 1 - s.Distance,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *PhotosHandler) load(w http.ResponseWriter, r *http.Request) (*curation.Photo, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid photo id")
		return nil, false
	}

	photo, err := h.photos.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "photo not found")
		return nil, false
	}
	if err != nil {
		h.log.Error("loading photo failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load photo")
		return nil, false
	}
	return photo, true
}
