package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Artifact storage
	DataDir string

	// Claude recognition
	AnthropicAPIKey string
	AnthropicModel  string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// Reader automation
	Headless          bool
	UserDataDir       string
	NavTimeout        time.Duration
	FindReaderTimeout time.Duration
	LoadTimeout       time.Duration
	StabilityWindow   time.Duration
	PageDelay         time.Duration
	StartPage         int
	Resume            bool
	MaxPages          int
	MaxAdvanceRetries int

	// Recognition pipeline
	OCRConcurrency   int
	OCRMaxRetries    int
	OCRBackoffBase   time.Duration
	OCRBackoffCap    time.Duration
	OCREscalateAfter int
	OCRRateLimit     float64
	OCRRateBurst     int

	// PDF import
	PDFFallbackPdftotext bool
	PDFMinCharsPerPage   int
	PDFRenderDPI         float64
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8080"),

		APIKey: os.Getenv("PAGETURNER_API_KEY"),

		DataDir: envOr("DATA_DIR", "./data"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 32),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 104857600), // 100MB

		JobTTL: envDuration("JOB_TTL", 24*time.Hour),

		Headless:          envBool("IA_HEADLESS", true),
		UserDataDir:       os.Getenv("IA_USER_DATA_DIR"),
		NavTimeout:        envDuration("IA_NAV_TIMEOUT", 45*time.Second),
		FindReaderTimeout: envDuration("IA_FIND_READER_TIMEOUT", 30*time.Second),
		LoadTimeout:       envDuration("IA_LOAD_TIMEOUT", 20*time.Second),
		StabilityWindow:   envDuration("IA_STABILITY_WINDOW", 1*time.Second),
		PageDelay:         envDuration("IA_PAGE_DELAY", 500*time.Millisecond),
		StartPage:         envInt("IA_START_PAGE", 0),
		Resume:            envBool("IA_RESUME", false),
		MaxPages:          envInt("IA_MAX_PAGES", 0),
		MaxAdvanceRetries: envInt("IA_MAX_RETRIES", 10),

		OCRConcurrency:   envInt("OCR_CONCURRENCY", 4),
		OCRMaxRetries:    envInt("OCR_MAX_RETRIES", 6),
		OCRBackoffBase:   envDuration("OCR_BACKOFF_BASE", 500*time.Millisecond),
		OCRBackoffCap:    envDuration("OCR_BACKOFF_CAP", 5*time.Second),
		OCREscalateAfter: envInt("OCR_ESCALATE_AFTER", 3),
		OCRRateLimit:     envFloat("OCR_RATE_LIMIT", 2.0),
		OCRRateBurst:     envInt("OCR_RATE_BURST", 4),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
		PDFMinCharsPerPage:   envInt("PDF_MIN_CHARS_PER_PAGE", 64),
		PDFRenderDPI:         envFloat("PDF_RENDER_DPI", 150),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 32
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 104857600
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	if cfg.MaxAdvanceRetries <= 0 {
		cfg.MaxAdvanceRetries = 10
	}
	if cfg.OCRConcurrency <= 0 {
		cfg.OCRConcurrency = 4
	}
	if cfg.OCRMaxRetries <= 0 {
		cfg.OCRMaxRetries = 6
	}
	if cfg.OCRBackoffBase <= 0 {
		cfg.OCRBackoffBase = 500 * time.Millisecond
	}
	if cfg.OCRBackoffCap < cfg.OCRBackoffBase {
		cfg.OCRBackoffCap = 5 * time.Second
	}
	if cfg.OCRRateLimit <= 0 {
		cfg.OCRRateLimit = 2.0
	}
	if cfg.OCRRateBurst <= 0 {
		cfg.OCRRateBurst = 4
	}
	if cfg.PDFRenderDPI <= 0 {
		cfg.PDFRenderDPI = 150
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("PAGETURNER_API_KEY is required")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
