package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sapphir-health/sapphir-gateway/internal/canned"
	"github.com/sapphir-health/sapphir-gateway/internal/config"
	"github.com/sapphir-health/sapphir-gateway/internal/gateway"
	"github.com/sapphir-health/sapphir-gateway/internal/interaction"
	"github.com/sapphir-health/sapphir-gateway/internal/metrics"
	"github.com/sapphir-health/sapphir-gateway/internal/ocr"
	"github.com/sapphir-health/sapphir-gateway/internal/session"
	"github.com/sapphir-health/sapphir-gateway/internal/storage"
	"github.com/sapphir-health/sapphir-gateway/internal/storage/memory"
	"github.com/sapphir-health/sapphir-gateway/internal/storage/sqlite"
	"github.com/sapphir-health/sapphir-gateway/internal/tokens"
	"github.com/sapphir-health/sapphir-gateway/internal/upstream"
)

// app holds the components shared by the serve and analyze commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	canned   *canned.Table
	store    storage.InteractionStore
	metrics  *metrics.Metrics
	sessions *session.Store
	client   *upstream.Client
	service  *gateway.Service
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := ocr.ValidateExtensions(cfg.OCR.Extensions...); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	table := canned.Default()

	sessions := session.New(gateway.SystemPrompt,
		session.WithIdleTTL(cfg.Sessions.IdleTTL),
		session.WithLogger(logger),
	)
	m.RegisterSessionGauge(sessions.Len)

	client := upstream.NewClient(cfg.Upstream.APIKey,
		upstream.WithBaseURL(cfg.Upstream.BaseURL),
		upstream.WithModel(cfg.Upstream.Model),
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithLogger(logger),
	)

	extractorOpts := []ocr.Option{ocr.WithLogger(logger)}
	if len(cfg.OCR.Extensions) > 0 {
		extractorOpts = append(extractorOpts, ocr.WithExtensions(cfg.OCR.Extensions...))
	}
	extractor := ocr.New(ocr.NewTesseract(cfg.OCR.Languages...), extractorOpts...)

	temperature := cfg.Upstream.Temperature
	opts := upstream.Options{Temperature: &temperature}
	if cfg.Upstream.MaxTokens > 0 {
		maxTokens := cfg.Upstream.MaxTokens
		opts.MaxTokens = &maxTokens
	}

	var recorder *interaction.Recorder
	if store != nil {
		recorder = interaction.NewRecorder(store, logger)
	}

	svc, err := gateway.New(gateway.Config{
		Canned:     table,
		Sessions:   sessions,
		Extractor:  extractor,
		Upstream:   client,
		Options:    opts,
		Model:      client.Model(),
		DefaultKey: cfg.Sessions.DefaultKey,
		Tokens:     tokens.NewCounter(logger),
		Recorder:   recorder,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		canned:   table,
		store:    store,
		metrics:  m,
		sessions: sessions,
		client:   client,
		service:  svc,
	}, nil
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// openStore returns nil for storage type "none".
func openStore(cfg config.StorageConfig) (storage.InteractionStore, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "", "memory":
		return memory.New(memory.WithMaxRecords(cfg.Memory.MaxRecords)), nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, errors.New("unknown storage type: " + cfg.Type)
	}
}
