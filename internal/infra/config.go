package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv    string
	Port      string
	OutputDir string

	NarrationProvider string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string

	TTSBaseURL   string
	MediaBaseURL string

	TemplatesDir     string
	TemplateManifest string
	BGMPath          string

	FFmpegBin  string
	FFprobeBin string

	StageTimeout       time.Duration
	StageAttempts      int
	MaxConcurrentTasks int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		OutputDir: getEnv("OUTPUT_DIR", "output"),

		NarrationProvider: getEnv("NARRATION_PROVIDER", "gemini"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		TTSBaseURL:   getEnv("TTS_BASE_URL", "http://localhost:8188"),
		MediaBaseURL: getEnv("MEDIA_BASE_URL", "http://localhost:8188"),

		TemplatesDir:     getEnv("TEMPLATES_DIR", "templates"),
		TemplateManifest: getEnv("TEMPLATE_MANIFEST", "templates/templates.yaml"),
		BGMPath:          os.Getenv("BGM_PATH"),

		FFmpegBin:  getEnv("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin: getEnv("FFPROBE_BIN", "ffprobe"),

		StageTimeout:       time.Second * time.Duration(getEnvInt("STAGE_TIMEOUT_SECONDS", 300)),
		StageAttempts:      getEnvInt("STAGE_ATTEMPTS", 2),
		MaxConcurrentTasks: getEnvInt("MAX_CONCURRENT_TASKS", 3),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("OUTPUT_DIR is required")
	}

	if cfg.StageAttempts < 1 {
		return nil, fmt.Errorf("STAGE_ATTEMPTS must be at least 1, got %d", cfg.StageAttempts)
	}

	if cfg.MaxConcurrentTasks < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_TASKS must be at least 1, got %d", cfg.MaxConcurrentTasks)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
