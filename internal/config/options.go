package config

import (
	"imageocr/internal/cache"
	"imageocr/internal/extract"
	"imageocr/internal/ocr"
	"imageocr/internal/ocr/docai"
	"imageocr/internal/ocr/engines"
	"imageocr/internal/preprocess"
	"imageocr/internal/quality"
	"imageocr/internal/server"
)

// CacheConfig projects the content cache settings.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Type:          c.CacheType,
		Dir:           c.CacheDir,
		TTL:           c.CacheTTL,
		RedisAddr:     c.RedisAddr(),
		RedisDB:       c.RedisDB,
		RedisPassword: c.RedisPassword,
	}
}

// EngineConfig projects the recognition engine settings.
func (c *Config) EngineConfig() engines.Config {
	return engines.Config{
		Primary:             c.PrimaryEngine,
		PDFBackend:          c.PDFOCRBackend,
		Languages:           c.Languages(),
		ConfidenceThreshold: c.ConfidenceThreshold,
		Policy: ocr.Policy{
			MinSimilarity: c.FusionSimilarityThreshold,
			LengthMargin:  c.FusionLengthMargin,
		},
		DocumentAI: docai.Config{
			ProjectID:        c.GoogleCloudProject,
			Location:         c.GoogleCloudLocation,
			ProcessorID:      c.DocumentAIProcessorID,
			ProcessorVersion: c.DocumentAIProcessorVersion,
		},
	}
}

// PreprocessOptions projects the optional preprocessing stages.
func (c *Config) PreprocessOptions() preprocess.Options {
	return preprocess.Options{
		UseSuperResolution: c.UseSuperResolution,
		UseDeskew:          c.UseDeskew,
		BlurThreshold:      c.BlurThreshold,
	}
}

// Upscaler returns the super-resolution stage configured by SUPER_RES_FACTOR.
func (c *Config) Upscaler() preprocess.BicubicUpscaler {
	return preprocess.BicubicUpscaler{Factor: c.SuperResFactor}
}

// Validator returns the quality gate thresholds.
func (c *Config) Validator() quality.Validator {
	return quality.Validator{
		BlurThreshold:     c.BlurThreshold,
		ContrastThreshold: c.ContrastThreshold,
		MinHeight:         c.MinResolutionHeight,
	}
}

// ExtractOptions projects the dispatcher settings.
func (c *Config) ExtractOptions() extract.Options {
	return extract.Options{
		CacheEnabled:       c.CacheEnabled,
		VideoFrameInterval: c.VideoFrameInterval,
		PDFBatchSize:       c.PDFBatchSize,
		ExcelChunkSize:     c.ExcelChunkSize,
		MaxFileSize:        c.MaxFileSize,
		Timeout:            c.ExtractTimeout,
		Workers:            c.Workers,
	}
}

// ServerConfig projects the HTTP server settings. Uploads may carry several
// files, so the body limit allows a handful of maximum-size documents.
func (c *Config) ServerConfig(version string) server.Config {
	return server.Config{
		Addr:        c.ListenAddr(),
		BodyLimit:   int(c.MaxFileSize) * 4,
		CORSOrigins: c.CORSOrigins,
		Version:     version,
	}
}
