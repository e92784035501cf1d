package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/photo-curator/internal/constants"
)

//go:embed prices.yaml
var pricesYAML []byte

type Config struct {
	Log        LogConfig
	Vision     VisionConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	Ollama     OllamaConfig
	Embedding  EmbeddingConfig
	Geocoding  GeocodingConfig
	Source     SourceConfig
	Dropbox    DropboxConfig
	PhotoPrism PhotoPrismConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	Scheduler  SchedulerConfig
	Retry      RetryConfig
	Curation   CurationConfig
	Web        WebConfig
	Prices     PricesConfig
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // console or json
}

type VisionConfig struct {
	Provider string // openai, gemini or ollama
}

type OpenAIConfig struct {
	Token string
	Model string // defaults to gpt-4.1-mini
}

type GeminiConfig struct {
	APIKey string
	Model  string // defaults to gemini-2.5-flash
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to llama3.2-vision:11b
}

type EmbeddingConfig struct {
	Provider string // local or jina
	URL      string // defaults per provider
	APIKey   string
	Model    string
	Dim      int // defaults to 1024
}

type GeocodingConfig struct {
	APIKey string
}

type SourceConfig struct {
	Backend          string // dropbox or photoprism
	Folder           string // listed recursively
	HighlightsFolder string // highlight uploads land here
	TimeZone         string // calendar days are cut in this zone
}

// Location returns the configured time zone, UTC when unset or unknown.
func (c *SourceConfig) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type DropboxConfig struct {
	AppKey       string
	AppSecret    string
	AccessToken  string
	RefreshToken string
}

type PhotoPrismConfig struct {
	URL      string
	Username string
	Password string
	Domain   string // public domain for generating photo links (e.g., https://photos.example.com)
	Album    string // album receiving highlights; defaults to the highlights folder name
}

// PhotoURL returns an OSC 8 hyperlink for terminal emulators (iTerm2, etc.)
// Displays the UID but makes it clickable to open the photo in PhotoPrism
// Returns empty string if Domain is not set
func (c *PhotoPrismConfig) PhotoURL(uid string) string {
	if c.Domain == "" {
		return ""
	}
	url := c.Domain + "/library/browse?view=cards&order=oldest&q=uid:" + uid
	// OSC 8 hyperlink format: \e]8;;URL\e\\TEXT\e]8;;\e\\
	return "\x1b]8;;" + url + "\x1b\\" + uid + "\x1b]8;;\x1b\\"
}

type StorageConfig struct {
	Backend   string // s3 or minio
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	UseSSL    bool
	PublicURL string
}

type WebConfig struct {
	Token          string   // bearer token for the API; open when empty
	AllowedOrigins []string // CORS whitelist, localhost is always allowed
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the embedding HNSW index (optional, rebuilt on startup when empty)
}

type SchedulerConfig struct {
	DateConcurrency   int
	DateDelayFloor    time.Duration
	DateDelayCeiling  time.Duration
	ImageConcurrency  int
	ImageDelayFloor   time.Duration
	ImageDelayCeiling time.Duration
}

type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	Timeout        time.Duration
}

type CurationConfig struct {
	DuplicateWindow         time.Duration
	DuplicateCloseGap       time.Duration
	DuplicateCloseThreshold float64
	DuplicateThreshold      float64
	EventMaxGap             time.Duration
	EventKeepScore          float64
	HighlightThreshold      float64
}

type PricesConfig struct {
	Models map[string]RequestPricing `yaml:"models"`
}

type RequestPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// envString returns the value of key or defaultVal when unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat parses a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration parses a Go duration ("500ms", "30m"), falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var prices PricesConfig
	if err := yaml.Unmarshal(pricesYAML, &prices); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded prices.yaml: " + err.Error())
	}

	return &Config{
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "console"),
		},
		Vision: VisionConfig{
			Provider: strings.ToLower(envString("VISION_PROVIDER", "openai")),
		},
		OpenAI: OpenAIConfig{
			Token: envString("OPENAI_TOKEN", os.Getenv("OPENAI_API_KEY")),
			Model: os.Getenv("OPENAI_MODEL"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  os.Getenv("GEMINI_MODEL"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		Embedding: EmbeddingConfig{
			Provider: strings.ToLower(envString("EMBEDDING_PROVIDER", "local")),
			URL:      os.Getenv("EMBEDDING_URL"),
			APIKey:   envString("EMBEDDING_API_KEY", os.Getenv("EMBEDDINGS_API_KEY")),
			Model:    os.Getenv("EMBEDDING_MODEL"),
			Dim:      envInt("EMBEDDING_DIM", 1024),
		},
		Geocoding: GeocodingConfig{
			APIKey: os.Getenv("GOOGLE_MAPS_API_KEY"),
		},
		Source: SourceConfig{
			Backend:          strings.ToLower(envString("SOURCE_BACKEND", "dropbox")),
			Folder:           envString("SOURCE_FOLDER", "/Camera Uploads"),
			HighlightsFolder: envString("HIGHLIGHTS_FOLDER", "/Highlights"),
			TimeZone:         os.Getenv("SOURCE_TIMEZONE"),
		},
		Dropbox: DropboxConfig{
			AppKey:       os.Getenv("DROPBOX_CLIENT_ID"),
			AppSecret:    os.Getenv("DROPBOX_APP_SECRET"),
			AccessToken:  os.Getenv("DROPBOX_ACCESS_TOKEN"),
			RefreshToken: os.Getenv("DROPBOX_REFRESH_TOKEN"),
		},
		PhotoPrism: PhotoPrismConfig{
			URL:      os.Getenv("PHOTOPRISM_URL"),
			Username: os.Getenv("PHOTOPRISM_USERNAME"),
			Password: os.Getenv("PHOTOPRISM_PASSWORD"),
			Domain:   os.Getenv("PHOTOPRISM_DOMAIN"),
			Album:    os.Getenv("PHOTOPRISM_ALBUM"),
		},
		Storage: StorageConfig{
			Backend:   strings.ToLower(envString("STORAGE_BACKEND", "s3")),
			Bucket:    os.Getenv("STORAGE_BUCKET"),
			Region:    envString("STORAGE_REGION", "us-west-1"),
			Endpoint:  os.Getenv("STORAGE_ENDPOINT"),
			AccessKey: envString("STORAGE_ACCESS_KEY", os.Getenv("AWS_ACCESS_KEY_ID")),
			SecretKey: envString("STORAGE_SECRET_KEY", os.Getenv("AWS_SECRET_ACCESS_KEY")),
			PathStyle: envBool("STORAGE_PATH_STYLE", false),
			UseSSL:    envBool("STORAGE_USE_SSL", true),
			PublicURL: os.Getenv("STORAGE_PUBLIC_URL"),
		},
		Web: WebConfig{
			Token:          os.Getenv("WEB_API_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Scheduler: SchedulerConfig{
			DateConcurrency:   envInt("DATE_CONCURRENCY", constants.DateConcurrency),
			DateDelayFloor:    envDuration("DATE_DELAY_FLOOR", constants.DateDelayFloor),
			DateDelayCeiling:  envDuration("DATE_DELAY_CEILING", constants.DateDelayCeiling),
			ImageConcurrency:  envInt("IMAGE_CONCURRENCY", constants.ImageConcurrency),
			ImageDelayFloor:   envDuration("IMAGE_DELAY_FLOOR", constants.ImageDelayFloor),
			ImageDelayCeiling: envDuration("IMAGE_DELAY_CEILING", constants.ImageDelayCeiling),
		},
		Retry: RetryConfig{
			MaxAttempts:    envInt("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay:   envDuration("RETRY_INITIAL_DELAY", time.Second),
			MaxDelay:       envDuration("RETRY_MAX_DELAY", 30*time.Second),
			RateLimitDelay: envDuration("RETRY_RATE_LIMIT_DELAY", 60*time.Second),
			Timeout:        envDuration("RETRY_TIMEOUT", 60*time.Second),
		},
		Curation: CurationConfig{
			DuplicateWindow:         envDuration("DUPLICATE_WINDOW", constants.DuplicateWindow),
			DuplicateCloseGap:       envDuration("DUPLICATE_CLOSE_GAP", constants.DuplicateCloseGap),
			DuplicateCloseThreshold: envFloat("DUPLICATE_CLOSE_THRESHOLD", constants.DuplicateCloseThreshold),
			DuplicateThreshold:      envFloat("DUPLICATE_THRESHOLD", constants.DuplicateThreshold),
			EventMaxGap:             envDuration("EVENT_MAX_GAP", constants.EventMaxGap),
			EventKeepScore:          envFloat("EVENT_KEEP_SCORE", constants.EventKeepScore),
			HighlightThreshold:      envFloat("HIGHLIGHT_THRESHOLD", constants.HighlightThreshold),
		},
		Prices: prices,
	}
}

// GetModelPricing returns pricing for a specific model, zero when unknown.
func (c *Config) GetModelPricing(modelName string) RequestPricing {
	if pricing, ok := c.Prices.Models[modelName]; ok {
		return pricing
	}
	return RequestPricing{}
}

// Validate reports missing settings for the selected backends. With
// needSource false only the settings used by offline commands are checked.
func (c *Config) Validate(needSource bool) error {
	var errs []error
	missing := func(name string) {
		errs = append(errs, fmt.Errorf("%s is not set", name))
	}

	if c.Database.URL == "" {
		missing("DATABASE_URL")
	}

	switch c.Vision.Provider {
	case "openai":
		if c.OpenAI.Token == "" {
			missing("OPENAI_TOKEN")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			missing("GEMINI_API_KEY")
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("unknown VISION_PROVIDER %q", c.Vision.Provider))
	}

	switch c.Embedding.Provider {
	case "local":
	case "jina":
		if c.Embedding.APIKey == "" {
			missing("EMBEDDING_API_KEY")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider))
	}

	if !needSource {
		return errors.Join(errs...)
	}

	switch c.Source.Backend {
	case "dropbox":
		if c.Dropbox.AccessToken == "" && c.Dropbox.RefreshToken == "" {
			missing("DROPBOX_REFRESH_TOKEN or DROPBOX_ACCESS_TOKEN")
		}
		if c.Dropbox.RefreshToken != "" && c.Dropbox.AppKey == "" {
			missing("DROPBOX_CLIENT_ID")
		}
	case "photoprism":
		if c.PhotoPrism.URL == "" {
			missing("PHOTOPRISM_URL")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SOURCE_BACKEND %q", c.Source.Backend))
	}

	if c.Geocoding.APIKey == "" {
		missing("GOOGLE_MAPS_API_KEY")
	}
	if c.Storage.Bucket == "" {
		missing("STORAGE_BUCKET")
	}
	if c.Scheduler.DateDelayFloor > c.Scheduler.DateDelayCeiling || c.Scheduler.ImageDelayFloor > c.Scheduler.ImageDelayCeiling {
		errs = append(errs, errors.New("scheduler delay floor exceeds ceiling"))
	}

	return errors.Join(errs...)
}
