package cmd

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/kozaktomas/photo-curator/internal/ai"
	"github.com/kozaktomas/photo-curator/internal/config"
	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/database"
	"github.com/kozaktomas/photo-curator/internal/database/postgres"
	"github.com/kozaktomas/photo-curator/internal/dropbox"
	"github.com/kozaktomas/photo-curator/internal/fingerprint"
	"github.com/kozaktomas/photo-curator/internal/geocode"
	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/photoprism"
	"github.com/kozaktomas/photo-curator/internal/pipeline"
	"github.com/kozaktomas/photo-curator/internal/retry"
	"github.com/kozaktomas/photo-curator/internal/scoring"
	"github.com/kozaktomas/photo-curator/internal/source"
	"github.com/kozaktomas/photo-curator/internal/storage"
)

// newExecutor builds the retry executor shared by every remote client.
func newExecutor(ctx context.Context, cfg *config.Config) *retry.Executor {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.InitialDelay = cfg.Retry.InitialDelay
	policy.MaxDelay = cfg.Retry.MaxDelay
	policy.RateLimitDelay = cfg.Retry.RateLimitDelay
	policy.Timeout = cfg.Retry.Timeout
	return retry.New(policy, retry.WithLogger(logging.From(ctx)))
}

// newVisionProvider returns the provider selected by VISION_PROVIDER.
func newVisionProvider(ctx context.Context, cfg *config.Config, executor *retry.Executor) (ai.Provider, error) {
	switch cfg.Vision.Provider {
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		model := cfg.OpenAI.Model
		return ai.NewOpenAIProvider(cfg.OpenAI.Token, model, pricing(cfg, model), executor), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		model := cfg.Gemini.Model
		return ai.NewGeminiProvider(ctx, cfg.Gemini.APIKey, model, pricing(cfg, model), executor)
	case "ollama":
		return ai.NewOllamaProvider(cfg.Ollama.URL, cfg.Ollama.Model, executor), nil
	default:
		return nil, fmt.Errorf("unknown vision provider: %s", cfg.Vision.Provider)
	}
}

func pricing(cfg *config.Config, model string) ai.RequestPricing {
	p := cfg.GetModelPricing(model)
	return ai.RequestPricing{Input: p.Input, Output: p.Output}
}

func newEmbedder(cfg *config.Config, executor *retry.Executor) *fingerprint.EmbeddingClient {
	return fingerprint.NewEmbeddingClient(fingerprint.EmbeddingConfig{
		Mode:       cfg.Embedding.Provider,
		URL:        cfg.Embedding.URL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dim,
	}, executor)
}

// newSource connects to the file-sync backend named by backend.
func newSource(ctx context.Context, cfg *config.Config, backend string, executor *retry.Executor) (source.Backend, error) {
	switch backend {
	case "dropbox":
		return dropbox.New(ctx, dropbox.Config{
			AppKey:       cfg.Dropbox.AppKey,
			AppSecret:    cfg.Dropbox.AppSecret,
			AccessToken:  cfg.Dropbox.AccessToken,
			RefreshToken: cfg.Dropbox.RefreshToken,
		}, executor)
	case "photoprism":
		pp, err := photoprism.NewPhotoPrism(ctx, cfg.PhotoPrism.URL, cfg.PhotoPrism.Username, cfg.PhotoPrism.Password, executor)
		if err != nil {
			return nil, fmt.Errorf("connecting to PhotoPrism: %w", err)
		}
		album := cfg.PhotoPrism.Album
		if album == "" {
			album = path.Base(cfg.Source.HighlightsFolder)
		}
		return photoprism.NewBackend(pp, album), nil
	default:
		return nil, fmt.Errorf("unknown source backend: %s", backend)
	}
}

func newStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	return storage.New(ctx, storage.Config{
		Backend:   cfg.Storage.Backend,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		PathStyle: cfg.Storage.PathStyle,
		UseSSL:    cfg.Storage.UseSSL,
		PublicURL: cfg.Storage.PublicURL,
	})
}

// openDatabase connects to PostgreSQL and returns the registered repositories.
func openDatabase(ctx context.Context, cfg *config.Config, enableHNSW bool) (*postgres.Pool, database.PhotoRepository, database.RunRepository, error) {
	if cfg.Database.URL == "" {
		return nil, nil, nil, errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Initialize(ctx, &cfg.Database, enableHNSW)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	photos, err := database.GetPhotoRepository(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, nil, nil, err
	}
	runs, err := database.GetRunRepository(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, nil, nil, err
	}
	return pool, photos, runs, nil
}

// driverSettings are the per-invocation knobs on top of the configuration.
type driverSettings struct {
	RunID            string
	Backend          string
	DryRun           bool
	DateConcurrency  int
	ImageConcurrency int
	OnItem           func()
	// StoreOnly builds a driver that only reads and writes stored photos,
	// enough for reclustering.
	StoreOnly bool
}

// newDriver wires a pipeline driver from the configuration.
func newDriver(ctx context.Context, cfg *config.Config, photos database.PhotoRepository, runs database.RunRepository, s driverSettings) (*pipeline.Driver, error) {
	deps := pipeline.Deps{
		Photos: photos,
		Runs:   runs,
		Logger: logging.From(ctx),
	}

	if !s.StoreOnly {
		executor := newExecutor(ctx, cfg)

		backend := s.Backend
		if backend == "" {
			backend = cfg.Source.Backend
		}
		src, err := newSource(ctx, cfg, backend, executor)
		if err != nil {
			return nil, err
		}
		deps.Source = src

		provider, err := newVisionProvider(ctx, cfg, executor)
		if err != nil {
			return nil, err
		}
		deps.Screener = scoring.NewScreener(provider)
		deps.Highlighter = scoring.NewHighlighter(scoring.NewAnalyzer(provider))
		deps.Embedder = newEmbedder(cfg, executor)

		geocoder, err := geocode.NewClient(cfg.Geocoding.APIKey, executor)
		if err != nil {
			return nil, err
		}
		deps.Geocoder = geocoder

		if !s.DryRun {
			store, err := newStore(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("creating object store: %w", err)
			}
			deps.Store = store
		}
	}

	dateConcurrency := cfg.Scheduler.DateConcurrency
	if s.DateConcurrency > 0 {
		dateConcurrency = s.DateConcurrency
	}
	imageConcurrency := cfg.Scheduler.ImageConcurrency
	if s.ImageConcurrency > 0 {
		imageConcurrency = s.ImageConcurrency
	}

	duplicates := curation.NewDuplicateClusterer()
	duplicates.Window = cfg.Curation.DuplicateWindow
	duplicates.CloseGap = cfg.Curation.DuplicateCloseGap
	duplicates.CloseThreshold = cfg.Curation.DuplicateCloseThreshold
	duplicates.Threshold = cfg.Curation.DuplicateThreshold

	events := curation.NewEventSegmenter()
	events.MaxGap = cfg.Curation.EventMaxGap
	events.KeepScore = cfg.Curation.EventKeepScore

	return pipeline.New(deps, pipeline.Options{
		Folder:             cfg.Source.Folder,
		HighlightsFolder:   cfg.Source.HighlightsFolder,
		Location:           cfg.Source.Location(),
		DateConcurrency:    dateConcurrency,
		DateDelayFloor:     cfg.Scheduler.DateDelayFloor,
		DateDelayCeiling:   cfg.Scheduler.DateDelayCeiling,
		ImageConcurrency:   imageConcurrency,
		ImageDelayFloor:    cfg.Scheduler.ImageDelayFloor,
		ImageDelayCeiling:  cfg.Scheduler.ImageDelayCeiling,
		HighlightThreshold: cfg.Curation.HighlightThreshold,
		Duplicates:         duplicates,
		Events:             events,
		DryRun:             s.DryRun,
		RunID:              s.RunID,
		OnItem:             s.OnItem,
	}), nil
}
