package cmd

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"imageocr/internal/cache"
	"imageocr/internal/config"
	"imageocr/internal/extract"
	"imageocr/internal/logger"
	"imageocr/internal/ocr/engines"
	"imageocr/internal/preprocess"
)

// container owns the long-lived collaborators shared by the commands.
type container struct {
	cfg        *config.Config
	cache      cache.Cache
	engines    *engines.Engines
	dispatcher *extract.Dispatcher
	log        zerolog.Logger
}

func newContainer(ctx context.Context, cfg *config.Config) (*container, error) {
	c := &container{
		cfg: cfg,
		log: logger.WithComponent("container"),
	}

	c.cache = openCache(ctx, cfg, c.log)

	eng, err := engines.New(ctx, cfg.EngineConfig())
	if err != nil {
		c.cache.Close()
		return nil, err
	}
	c.engines = eng

	pre := preprocess.New(cfg.PreprocessOptions(), cfg.Upscaler())
	pipeline := extract.NewImagePipeline(pre, cfg.Validator(), eng.Primary, eng.Fusion)

	c.dispatcher = extract.New(cfg.ExtractOptions(), extract.Deps{
		Image:      pipeline,
		Page:       eng.Page,
		Sampler:    extract.NewFFmpegSampler(cfg.FFmpegPath, cfg.FFprobePath),
		PDFOCR:     eng.PDF,
		Rasterizer: extract.PDFToPPM{Path: cfg.PDFToPPMPath, DPI: cfg.PDFRasterDPI},
		Cache:      c.cache,
	})

	c.log.Debug().
		Str("cache", cfg.CacheType).
		Bool("cache_enabled", cfg.CacheEnabled).
		Int("workers", cfg.Workers).
		Msg("Container initialized")
	return c, nil
}

// openCache falls back to no caching when the backend is unavailable, so a
// missing redis never blocks extraction.
func openCache(ctx context.Context, cfg *config.Config, log zerolog.Logger) cache.Cache {
	if !cfg.CacheEnabled {
		return cache.Nop{}
	}
	c, err := cache.Open(ctx, cfg.CacheConfig())
	if err != nil {
		log.Warn().Err(err).Str("type", cfg.CacheType).Msg("Cache unavailable, continuing without cache")
		return cache.Nop{}
	}
	return c
}

func (c *container) Close() error {
	return errors.Join(c.engines.Close(), c.cache.Close())
}
