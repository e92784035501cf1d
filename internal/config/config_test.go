package config

import (
	"strings"
	"testing"
	"time"
)

func TestPhotoURL_EmptyDomain(t *testing.T) {
	cfg := PhotoPrismConfig{}

	if result := cfg.PhotoURL("photo123"); result != "" {
		t.Errorf("expected empty string for empty domain, got '%s'", result)
	}
}

func TestPhotoURL_Format(t *testing.T) {
	cfg := PhotoPrismConfig{Domain: "https://photos.example.com"}

	result := cfg.PhotoURL("pt8abc123xyz")

	want := "\x1b]8;;https://photos.example.com/library/browse?view=cards&order=oldest&q=uid:pt8abc123xyz\x1b\\pt8abc123xyz\x1b]8;;\x1b\\"
	if result != want {
		t.Errorf("expected %q, got %q", want, result)
	}
}

func TestGetModelPricing(t *testing.T) {
	cfg := Load()

	tests := []struct {
		model         string
		input, output float64
	}{
		{"gpt-4.1-mini", 0.40, 1.60},
		{"gemini-2.5-flash", 0.30, 2.50},
		{"llama3.2-vision:11b", 0, 0},
		{"unknown-model-xyz", 0, 0},
	}

	for _, tc := range tests {
		pricing := cfg.GetModelPricing(tc.model)
		if pricing.Input != tc.input || pricing.Output != tc.output {
			t.Errorf("%s: expected %v/%v, got %v/%v", tc.model, tc.input, tc.output, pricing.Input, pricing.Output)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"EMBEDDING_DIM", "SOURCE_FOLDER", "IMAGE_CONCURRENCY", "IMAGE_DELAY_FLOOR", "DUPLICATE_THRESHOLD", "VISION_PROVIDER"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Embedding.Dim != 1024 {
		t.Errorf("expected default embedding dim 1024, got %d", cfg.Embedding.Dim)
	}
	if cfg.Source.Folder != "/Camera Uploads" {
		t.Errorf("expected default folder '/Camera Uploads', got '%s'", cfg.Source.Folder)
	}
	if cfg.Scheduler.ImageConcurrency != 10 {
		t.Errorf("expected image concurrency 10, got %d", cfg.Scheduler.ImageConcurrency)
	}
	if cfg.Scheduler.ImageDelayFloor != 300*time.Millisecond || cfg.Scheduler.ImageDelayCeiling != 500*time.Millisecond {
		t.Errorf("unexpected image delays %s-%s", cfg.Scheduler.ImageDelayFloor, cfg.Scheduler.ImageDelayCeiling)
	}
	if cfg.Curation.DuplicateThreshold != 0.885 {
		t.Errorf("expected duplicate threshold 0.885, got %f", cfg.Curation.DuplicateThreshold)
	}
	if cfg.Vision.Provider != "openai" {
		t.Errorf("expected vision provider openai, got %s", cfg.Vision.Provider)
	}
}

func TestEnvHelpers_InvalidFallsBack(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "invalid")
	t.Setenv("IMAGE_CONCURRENCY", "-3")
	t.Setenv("EVENT_MAX_GAP", "soon")
	t.Setenv("EVENT_KEEP_SCORE", "-1")
	t.Setenv("STORAGE_PATH_STYLE", "maybe")

	cfg := Load()

	if cfg.Embedding.Dim != 1024 {
		t.Errorf("expected fallback embedding dim 1024, got %d", cfg.Embedding.Dim)
	}
	if cfg.Scheduler.ImageConcurrency != 10 {
		t.Errorf("expected fallback concurrency 10, got %d", cfg.Scheduler.ImageConcurrency)
	}
	if cfg.Curation.EventMaxGap != 30*time.Minute {
		t.Errorf("expected fallback gap 30m, got %s", cfg.Curation.EventMaxGap)
	}
	if cfg.Curation.EventKeepScore != 7.9 {
		t.Errorf("expected fallback keep score 7.9, got %f", cfg.Curation.EventKeepScore)
	}
	if cfg.Storage.PathStyle {
		t.Error("expected path style to stay false")
	}
}

func TestEnvHelpers_Overrides(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "512")
	t.Setenv("DATE_DELAY_CEILING", "2s")
	t.Setenv("HIGHLIGHT_THRESHOLD", "7.5")
	t.Setenv("STORAGE_PATH_STYLE", "true")
	t.Setenv("SOURCE_BACKEND", "PhotoPrism")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	cfg := Load()

	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected embedding dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Scheduler.DateDelayCeiling != 2*time.Second {
		t.Errorf("expected ceiling 2s, got %s", cfg.Scheduler.DateDelayCeiling)
	}
	if cfg.Curation.HighlightThreshold != 7.5 {
		t.Errorf("expected highlight threshold 7.5, got %f", cfg.Curation.HighlightThreshold)
	}
	if !cfg.Storage.PathStyle {
		t.Error("expected path style true")
	}
	if cfg.Source.Backend != "photoprism" {
		t.Errorf("expected backend photoprism, got %s", cfg.Source.Backend)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected allowed origins %v", cfg.Web.AllowedOrigins)
	}
}

func TestLoad_FallbackKeys(t *testing.T) {
	t.Setenv("OPENAI_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "sk-from-api-key")
	t.Setenv("STORAGE_ACCESS_KEY", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA123")

	cfg := Load()

	if cfg.OpenAI.Token != "sk-from-api-key" {
		t.Errorf("expected token from OPENAI_API_KEY, got '%s'", cfg.OpenAI.Token)
	}
	if cfg.Storage.AccessKey != "AKIA123" {
		t.Errorf("expected access key from AWS_ACCESS_KEY_ID, got '%s'", cfg.Storage.AccessKey)
	}
}

func validConfig() *Config {
	cfg := Load()
	cfg.Database.URL = "postgres://localhost/curator"
	cfg.Vision.Provider = "openai"
	cfg.OpenAI.Token = "sk"
	cfg.Embedding.Provider = "local"
	cfg.Source.Backend = "dropbox"
	cfg.Dropbox.RefreshToken = "rt"
	cfg.Dropbox.AppKey = "app"
	cfg.Geocoding.APIKey = "maps"
	cfg.Storage.Bucket = "photos"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		needSource bool
		wantErr    string
	}{
		{"valid", func(*Config) {}, true, ""},
		{"missing database", func(c *Config) { c.Database.URL = "" }, false, "DATABASE_URL"},
		{"gemini without key", func(c *Config) { c.Vision.Provider = "gemini"; c.Gemini.APIKey = "" }, false, "GEMINI_API_KEY"},
		{"unknown provider", func(c *Config) { c.Vision.Provider = "claude" }, false, "VISION_PROVIDER"},
		{"jina without key", func(c *Config) { c.Embedding.Provider = "jina"; c.Embedding.APIKey = "" }, false, "EMBEDDING_API_KEY"},
		{"source skipped offline", func(c *Config) { c.Storage.Bucket = "" }, false, ""},
		{"missing bucket", func(c *Config) { c.Storage.Bucket = "" }, true, "STORAGE_BUCKET"},
		{"dropbox without tokens", func(c *Config) { c.Dropbox.RefreshToken = ""; c.Dropbox.AccessToken = "" }, true, "DROPBOX_REFRESH_TOKEN"},
		{"photoprism without url", func(c *Config) { c.Source.Backend = "photoprism"; c.PhotoPrism.URL = "" }, true, "PHOTOPRISM_URL"},
		{"delay floor above ceiling", func(c *Config) { c.Scheduler.ImageDelayFloor = time.Second }, true, "floor exceeds ceiling"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := cfg.Validate(tc.needSource)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSourceLocation(t *testing.T) {
	cfg := SourceConfig{TimeZone: "Europe/Prague"}
	if cfg.Location().String() != "Europe/Prague" {
		t.Errorf("expected Europe/Prague, got %s", cfg.Location())
	}

	cfg.TimeZone = "Nowhere/Special"
	if cfg.Location() != time.UTC {
		t.Errorf("expected UTC fallback, got %s", cfg.Location())
	}
}
