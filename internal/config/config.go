package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"imageocr/internal/logger"
)

// ConfigFileEnv names the environment variable pointing at an optional YAML config file.
const ConfigFileEnv = "IMAGEOCR_CONFIG"

type Config struct {
	// Recognition
	PrimaryEngine             string  `yaml:"primary_engine"`
	PDFOCRBackend             string  `yaml:"pdf_ocr_backend"`
	OCRLanguages              string  `yaml:"ocr_languages"`
	ConfidenceThreshold       float64 `yaml:"confidence_threshold"`
	FusionSimilarityThreshold float64 `yaml:"fusion_similarity_threshold"`
	FusionLengthMargin        int     `yaml:"fusion_length_margin"`

	// Preprocessing and quality gates
	UseSuperResolution  bool    `yaml:"use_super_resolution"`
	SuperResFactor      int     `yaml:"super_res_factor"`
	UseDeskew           bool    `yaml:"use_deskew"`
	BlurThreshold       float64 `yaml:"blur_threshold"`
	ContrastThreshold   float64 `yaml:"low_contrast_threshold"`
	MinResolutionHeight int     `yaml:"min_resolution_height"`

	// Content cache
	CacheEnabled  bool          `yaml:"enable_cache"`
	CacheType     string        `yaml:"cache_type"`
	CacheDir      string        `yaml:"cache_dir"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	RedisHost     string        `yaml:"redis_host"`
	RedisPort     int           `yaml:"redis_port"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPassword string        `yaml:"redis_password"`

	// Format branches
	VideoFrameInterval time.Duration `yaml:"video_frame_interval"`
	PDFBatchSize       int           `yaml:"pdf_batch_size"`
	PDFRasterDPI       int           `yaml:"pdf_raster_dpi"`
	ExcelChunkSize     int           `yaml:"excel_chunk_size"`
	MaxFileSize        int64         `yaml:"max_file_size"`

	// External tools
	FFmpegPath   string `yaml:"ffmpeg_path"`
	FFprobePath  string `yaml:"ffprobe_path"`
	PDFToPPMPath string `yaml:"pdftoppm_path"`

	// Google Cloud Configuration
	GoogleCloudProject         string `yaml:"google_cloud_project"`
	GoogleCloudLocation        string `yaml:"google_cloud_location"`
	DocumentAIProcessorID      string `yaml:"document_ai_processor_id"`
	DocumentAIProcessorVersion string `yaml:"document_ai_processor_version"`

	// Runtime
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
	Workers        int           `yaml:"workers"`
	AppHost        string        `yaml:"app_host"`
	AppPort        int           `yaml:"app_port"`
	CORSOrigins    string        `yaml:"cors_origins"`

	// Logging Configuration
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogTimeFormat string `yaml:"log_time_format"`
	LogOutput     string `yaml:"log_output"`
}

// Default returns the configuration used when neither a file nor the environment override a value.
func Default() *Config {
	return &Config{
		PrimaryEngine:             "tesseract",
		PDFOCRBackend:             "tesseract",
		OCRLanguages:              "eng",
		ConfidenceThreshold:       0.75,
		FusionSimilarityThreshold: 0.85,
		FusionLengthMargin:        3,
		UseSuperResolution:        true,
		SuperResFactor:            2,
		UseDeskew:                 true,
		BlurThreshold:             100.0,
		ContrastThreshold:         15.0,
		MinResolutionHeight:       500,
		CacheEnabled:              true,
		CacheType:                 "file",
		CacheDir:                  ".ocr_cache",
		CacheTTL:                  24 * time.Hour,
		RedisHost:                 "localhost",
		RedisPort:                 6379,
		VideoFrameInterval:        time.Second,
		PDFBatchSize:              5,
		PDFRasterDPI:              200,
		ExcelChunkSize:            1000,
		MaxFileSize:               50 * 1024 * 1024,
		FFmpegPath:                "ffmpeg",
		FFprobePath:               "ffprobe",
		PDFToPPMPath:              "pdftoppm",
		GoogleCloudLocation:       "us",
		ExtractTimeout:            5 * time.Minute,
		Workers:                   runtime.NumCPU(),
		AppHost:                   "0.0.0.0",
		AppPort:                   8000,
		CORSOrigins:               "*",
		LogLevel:                  "info",
		LogFormat:                 "console",
		LogTimeFormat:             "2006-01-02T15:04:05Z07:00",
		LogOutput:                 "stderr",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// IMAGEOCR_CONFIG and finally the environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile is Load with an explicit YAML file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("config environment invalid: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	p := envParser{}

	p.str(&c.PrimaryEngine, "PRIMARY_ENGINE")
	p.str(&c.PDFOCRBackend, "PDF_OCR_BACKEND")
	p.str(&c.OCRLanguages, "OCR_LANGUAGES")
	p.float(&c.ConfidenceThreshold, "CONFIDENCE_THRESHOLD")
	p.float(&c.FusionSimilarityThreshold, "FUSION_SIMILARITY_THRESHOLD")
	p.int(&c.FusionLengthMargin, "FUSION_LENGTH_MARGIN")

	p.bool(&c.UseSuperResolution, "USE_SUPER_RESOLUTION")
	p.int(&c.SuperResFactor, "SUPER_RES_FACTOR")
	p.bool(&c.UseDeskew, "USE_DESKEW")
	p.float(&c.BlurThreshold, "BLUR_THRESHOLD")
	p.float(&c.ContrastThreshold, "LOW_CONTRAST_THRESHOLD")
	p.int(&c.MinResolutionHeight, "MIN_RESOLUTION_HEIGHT")

	p.bool(&c.CacheEnabled, "ENABLE_CACHE")
	p.str(&c.CacheType, "CACHE_TYPE")
	p.str(&c.CacheDir, "CACHE_DIR")
	p.seconds(&c.CacheTTL, "CACHE_TTL")
	p.str(&c.RedisHost, "REDIS_HOST")
	p.int(&c.RedisPort, "REDIS_PORT")
	p.int(&c.RedisDB, "REDIS_DB")
	p.str(&c.RedisPassword, "REDIS_PASSWORD")

	p.seconds(&c.VideoFrameInterval, "VIDEO_FRAME_INTERVAL_SEC")
	p.int(&c.PDFBatchSize, "PDF_BATCH_SIZE")
	p.int(&c.PDFRasterDPI, "PDF_RASTER_DPI")
	p.int(&c.ExcelChunkSize, "EXCEL_CHUNK_SIZE")
	p.int64(&c.MaxFileSize, "MAX_FILE_SIZE")

	p.str(&c.FFmpegPath, "FFMPEG_PATH")
	p.str(&c.FFprobePath, "FFPROBE_PATH")
	p.str(&c.PDFToPPMPath, "PDFTOPPM_PATH")

	p.str(&c.GoogleCloudProject, "GOOGLE_CLOUD_PROJECT")
	p.str(&c.GoogleCloudLocation, "GOOGLE_CLOUD_LOCATION")
	p.str(&c.DocumentAIProcessorID, "DOCUMENT_AI_PROCESSOR_ID")
	p.str(&c.DocumentAIProcessorVersion, "DOCUMENT_AI_PROCESSOR_VERSION")

	p.seconds(&c.ExtractTimeout, "EXTRACT_TIMEOUT")
	p.int(&c.Workers, "WORKERS")
	p.str(&c.AppHost, "APP_HOST")
	p.int(&c.AppPort, "APP_PORT")
	p.str(&c.CORSOrigins, "CORS_ORIGINS")

	p.str(&c.LogLevel, "LOG_LEVEL")
	p.str(&c.LogFormat, "LOG_FORMAT")
	p.str(&c.LogTimeFormat, "LOG_TIME_FORMAT")
	p.str(&c.LogOutput, "LOG_FILE")
	p.str(&c.LogOutput, "LOG_OUTPUT")

	return p.err
}

func (c *Config) validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.FusionSimilarityThreshold < 0 || c.FusionSimilarityThreshold > 1 {
		return fmt.Errorf("FUSION_SIMILARITY_THRESHOLD must be within [0,1], got %v", c.FusionSimilarityThreshold)
	}
	if c.SuperResFactor < 1 {
		return fmt.Errorf("SUPER_RES_FACTOR must be at least 1, got %d", c.SuperResFactor)
	}
	if c.MinResolutionHeight < 0 {
		return fmt.Errorf("MIN_RESOLUTION_HEIGHT must not be negative")
	}
	switch c.PrimaryEngine {
	case "tesseract", "vision":
	default:
		return fmt.Errorf("PRIMARY_ENGINE must be tesseract or vision, got %q", c.PrimaryEngine)
	}
	switch c.PDFOCRBackend {
	case "tesseract":
	case "documentai":
		if c.GoogleCloudProject == "" || c.DocumentAIProcessorID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID are required for PDF_OCR_BACKEND=documentai")
		}
	default:
		return fmt.Errorf("PDF_OCR_BACKEND must be tesseract or documentai, got %q", c.PDFOCRBackend)
	}
	switch c.CacheType {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("CACHE_TYPE must be file, redis or memory, got %q", c.CacheType)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.VideoFrameInterval <= 0 {
		return fmt.Errorf("VIDEO_FRAME_INTERVAL_SEC must be positive")
	}
	if c.PDFBatchSize < 1 || c.ExcelChunkSize < 1 {
		return fmt.Errorf("PDF_BATCH_SIZE and EXCEL_CHUNK_SIZE must be at least 1")
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// Languages splits OCR_LANGUAGES ("eng+deu" or "eng,deu") into tesseract language codes.
func (c *Config) Languages() []string {
	fields := strings.FieldsFunc(c.OCRLanguages, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return []string{"eng"}
	}
	return fields
}

// RedisAddr returns host:port of the redis cache backend.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.AppHost, c.AppPort)
}

// envParser applies set environment variables onto typed fields and keeps the first parse error.
type envParser struct {
	err error
}

func (p *envParser) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (p *envParser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s=%q: %w", key, value, err)
	}
}

func (p *envParser) str(dst *string, key string) {
	if value, ok := p.lookup(key); ok {
		*dst = value
	}
}

func (p *envParser) bool(dst *bool, key string) {
	if value, ok := p.lookup(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			p.fail(key, value, err)
			return
		}
		*dst = b
	}
}

func (p *envParser) int(dst *int, key string) {
	if value, ok := p.lookup(key); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			p.fail(key, value, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) int64(dst *int64, key string) {
	if value, ok := p.lookup(key); ok {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			p.fail(key, value, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) float(dst *float64, key string) {
	if value, ok := p.lookup(key); ok {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			p.fail(key, value, err)
			return
		}
		*dst = f
	}
}

// seconds accepts either a plain number of seconds ("86400", "0.5") or a Go duration ("24h").
func (p *envParser) seconds(dst *time.Duration, key string) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		*dst = time.Duration(f * float64(time.Second))
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, err)
		return
	}
	*dst = d
}
