package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	keys := []string{
		"PORT", "DATA_DIR", "WORKER_COUNT", "MAX_QUEUE_SIZE", "JOB_TTL",
		"IA_HEADLESS", "IA_STABILITY_WINDOW", "IA_PAGE_DELAY", "IA_MAX_RETRIES",
		"OCR_CONCURRENCY", "OCR_MAX_RETRIES", "OCR_RATE_LIMIT", "PDF_RENDER_DPI",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want 2", cfg.WorkerCount)
	}
	if cfg.MaxQueueSize != 32 {
		t.Errorf("MaxQueueSize = %d, want 32", cfg.MaxQueueSize)
	}
	if cfg.JobTTL != 24*time.Hour {
		t.Errorf("JobTTL = %v, want 24h", cfg.JobTTL)
	}
	if !cfg.Headless {
		t.Error("Headless should default to true")
	}
	if cfg.StabilityWindow != time.Second {
		t.Errorf("StabilityWindow = %v, want 1s", cfg.StabilityWindow)
	}
	if cfg.MaxAdvanceRetries != 10 {
		t.Errorf("MaxAdvanceRetries = %d, want 10", cfg.MaxAdvanceRetries)
	}
	if cfg.OCRConcurrency != 4 {
		t.Errorf("OCRConcurrency = %d, want 4", cfg.OCRConcurrency)
	}
	if cfg.OCRMaxRetries != 6 {
		t.Errorf("OCRMaxRetries = %d, want 6", cfg.OCRMaxRetries)
	}
	if cfg.OCRRateLimit != 2.0 {
		t.Errorf("OCRRateLimit = %v, want 2.0", cfg.OCRRateLimit)
	}
	if cfg.PDFRenderDPI != 150 {
		t.Errorf("PDFRenderDPI = %v, want 150", cfg.PDFRenderDPI)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("WORKER_COUNT", "5")
	t.Setenv("IA_HEADLESS", "false")
	t.Setenv("IA_STABILITY_WINDOW", "250ms")
	t.Setenv("IA_MAX_PAGES", "30")
	t.Setenv("OCR_RATE_LIMIT", "0.5")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.WorkerCount != 5 {
		t.Errorf("WorkerCount = %d, want 5", cfg.WorkerCount)
	}
	if cfg.Headless {
		t.Error("Headless should be overridden to false")
	}
	if cfg.StabilityWindow != 250*time.Millisecond {
		t.Errorf("StabilityWindow = %v, want 250ms", cfg.StabilityWindow)
	}
	if cfg.MaxPages != 30 {
		t.Errorf("MaxPages = %d, want 30", cfg.MaxPages)
	}
	if cfg.OCRRateLimit != 0.5 {
		t.Errorf("OCRRateLimit = %v, want 0.5", cfg.OCRRateLimit)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("JOB_TTL", "soon")
	t.Setenv("IA_HEADLESS", "yep")
	t.Setenv("PDF_RENDER_DPI", "high")

	cfg := Load()

	if cfg.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want fallback 2", cfg.WorkerCount)
	}
	if cfg.JobTTL != 24*time.Hour {
		t.Errorf("JobTTL = %v, want fallback 24h", cfg.JobTTL)
	}
	if !cfg.Headless {
		t.Error("Headless should fall back to true")
	}
	if cfg.PDFRenderDPI != 150 {
		t.Errorf("PDFRenderDPI = %v, want fallback 150", cfg.PDFRenderDPI)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{APIKey: "k", AnthropicAPIKey: "a", DataDir: "./d"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(*Config){
		"missing api key":       func(c *Config) { c.APIKey = "" },
		"missing anthropic key": func(c *Config) { c.AnthropicAPIKey = "" },
		"missing data dir":      func(c *Config) { c.DataDir = "" },
	}
	for name, mutate := range cases {
		c := valid
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}
