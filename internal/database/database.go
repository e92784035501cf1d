// Package database defines the photo and run repositories, the in-memory
// similarity index and the registry the PostgreSQL backend plugs into.
package database

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	// ErrNotFound is returned when a photo or run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownField is returned for an update outside the column whitelist.
	ErrUnknownField = errors.New("unknown field")
)

// Column names accepted by UpdateFields.
const (
	FieldURL                = "url"
	FieldMimeType           = "mime_type"
	FieldLatitude           = "latitude"
	FieldLongitude          = "longitude"
	FieldAltitude           = "altitude"
	FieldDeviceMake         = "device_make"
	FieldDeviceModel        = "device_model"
	FieldCity               = "city"
	FieldState              = "state"
	FieldNeighborhood       = "neighborhood"
	FieldTechnicalScore     = "technical_score"
	FieldTechnicalReason    = "technical_reason"
	FieldContentScore       = "content_score"
	FieldContentReason      = "content_reason"
	FieldEmotionalScore     = "emotional_score"
	FieldEmotionalReason    = "emotional_reason"
	FieldTotalScore         = "total_score"
	FieldIsSelfie           = "is_selfie"
	FieldRejectionReason    = "rejection_reason"
	FieldEmbedding          = "embedding"
	FieldIsLesserDuplicate  = "is_lesser_duplicate"
	FieldBetterDuplicateRef = "better_duplicate_ref"
	FieldIsLesserInEvent    = "is_lesser_in_event"
	FieldBetterEventRefs    = "better_event_refs"
	FieldIsProcessed        = "is_processed"
)

var updatableFields = map[string]struct{}{
	FieldURL: {}, FieldMimeType: {}, FieldLatitude: {}, FieldLongitude: {}, FieldAltitude: {},
	FieldDeviceMake: {}, FieldDeviceModel: {}, FieldCity: {}, FieldState: {}, FieldNeighborhood: {},
	FieldTechnicalScore: {}, FieldTechnicalReason: {}, FieldContentScore: {}, FieldContentReason: {},
	FieldEmotionalScore: {}, FieldEmotionalReason: {}, FieldTotalScore: {}, FieldIsSelfie: {},
	FieldRejectionReason: {}, FieldEmbedding: {}, FieldIsLesserDuplicate: {}, FieldBetterDuplicateRef: {},
	FieldIsLesserInEvent: {}, FieldBetterEventRefs: {}, FieldIsProcessed: {},
}

// Fields is a partial update of a photo record keyed by column name.
type Fields map[string]any

// Validate rejects columns outside the whitelist.
func (f Fields) Validate() error {
	for name := range f {
		if _, ok := updatableFields[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
	}
	return nil
}

// Names returns the column names in a stable order.
func (f Fields) Names() []string {
	return slices.Sorted(maps.Keys(f))
}

// DecisionFields is the update persisting the four derived clustering fields.
func DecisionFields(isLesserDuplicate bool, betterDuplicateRef string, isLesserInEvent bool, betterEventRefs []string) Fields {
	return Fields{
		FieldIsLesserDuplicate:  isLesserDuplicate,
		FieldBetterDuplicateRef: betterDuplicateRef,
		FieldIsLesserInEvent:    isLesserInEvent,
		FieldBetterEventRefs:    betterEventRefs,
	}
}
