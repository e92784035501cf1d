package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/photo-curator/internal/config"
	"github.com/kozaktomas/photo-curator/internal/database"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse is the non-secret part of the configuration.
type ConfigResponse struct {
	Providers          []ProviderInfo `json:"providers"`
	VisionProvider     string         `json:"vision_provider"`
	SourceBackend      string         `json:"source_backend"`
	SourceFolder       string         `json:"source_folder"`
	HighlightsFolder   string         `json:"highlights_folder"`
	TimeZone           string         `json:"time_zone"`
	HighlightThreshold float64        `json:"highlight_threshold"`
	DuplicateThreshold float64        `json:"duplicate_threshold"`
	EventMaxGap        string         `json:"event_max_gap"`
	ImageConcurrency   int            `json:"image_concurrency"`
	DateConcurrency    int            `json:"date_concurrency"`
	PhotoPrismDomain   string         `json:"photoprism_domain,omitempty"`
	DatabaseReady      bool           `json:"database_ready"`
}

// ProviderInfo represents information about a vision provider
type ProviderInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Get returns the available configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	c := h.config
	providers := []ProviderInfo{
		{Name: "openai", Available: c.OpenAI.Token != ""},
		{Name: "gemini", Available: c.Gemini.APIKey != ""},
		{Name: "ollama", Available: true}, // local
	}

	respondJSON(w, http.StatusOK, ConfigResponse{
		Providers:          providers,
		VisionProvider:     c.Vision.Provider,
		SourceBackend:      c.Source.Backend,
		SourceFolder:       c.Source.Folder,
		HighlightsFolder:   c.Source.HighlightsFolder,
		TimeZone:           c.Source.Location().String(),
		HighlightThreshold: c.Curation.HighlightThreshold,
		DuplicateThreshold: c.Curation.DuplicateThreshold,
		EventMaxGap:        c.Curation.EventMaxGap.Round(time.Second).String(),
		ImageConcurrency:   c.Scheduler.ImageConcurrency,
		DateConcurrency:    c.Scheduler.DateConcurrency,
		PhotoPrismDomain:   c.PhotoPrism.Domain,
		DatabaseReady:      database.IsInitialized(),
	})
}
