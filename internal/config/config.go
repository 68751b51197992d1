package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTPMLimit applies to any model missing from the limit table.
const DefaultTPMLimit = 5000

// DefaultModelLimits holds the provider-side tokens-per-minute ceilings of the models the crew uses.
var DefaultModelLimits = map[string]int{
	"groq/llama-3.1-8b-instant":                      6000,
	"groq/meta-llama/llama-4-scout-17b-16e-instruct": 30000,
	"groq/groq/compound":                             70000,
	"gemini/gemini-2.5-flash":                        250000,
}

// Config holds runtime configuration for the API server and the research CLI.
type Config struct {
	Env       string
	HTTPPort  string
	LogLevel  string
	LogFormat string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64

	PostgresDSN string

	DefaultTPMLimit   int
	ModelLimits       map[string]int
	MaxConcurrentJobs int

	Providers    map[string]Provider
	LLMTimeout   time.Duration
	LLMMaxTokens int

	ManagerModel  string
	WebModel      string
	AcademicModel string
	WriterModel   string

	BraveAPIKey     string
	BraveBaseURL    string
	ArxivBaseURL    string
	ArxivMaxResults int

	ReportOutputDir   string
	ReportS3Bucket    string
	ReportS3Region    string
	ReportS3Endpoint  string
	ReportS3PathStyle bool
}

// Provider is an OpenAI-compatible chat completions endpoint.
type Provider struct {
	BaseURL string
	APIKey  string
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() (Config, error) {
	cfg := Config{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPPort:          getEnv("HTTP_PORT", "8000"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 10),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 0.2),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		DefaultTPMLimit:   getEnvInt("DEFAULT_TPM_LIMIT", DefaultTPMLimit),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 0),
		Providers: map[string]Provider{
			"groq": {
				BaseURL: getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
				APIKey:  getEnv("GROQ_API_KEY", ""),
			},
			"gemini": {
				BaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
				APIKey:  getEnv("GEMINI_API_KEY", ""),
			},
		},
		LLMTimeout:        getEnvDuration("LLM_TIMEOUT", 2*time.Minute),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 1024),
		ManagerModel:      getEnv("MANAGER_MODEL", "groq/groq/compound"),
		WebModel:          getEnv("WEB_MODEL", "groq/llama-3.1-8b-instant"),
		AcademicModel:     getEnv("ACADEMIC_MODEL", "groq/meta-llama/llama-4-scout-17b-16e-instruct"),
		WriterModel:       getEnv("WRITER_MODEL", "groq/meta-llama/llama-4-scout-17b-16e-instruct"),
		BraveAPIKey:       getEnv("BRAVE_SEARCH_API_KEY", ""),
		BraveBaseURL:      getEnv("BRAVE_BASE_URL", "https://api.search.brave.com/res/v1/web/search"),
		ArxivBaseURL:      getEnv("ARXIV_BASE_URL", "http://export.arxiv.org/api/query"),
		ArxivMaxResults:   getEnvInt("ARXIV_MAX_RESULTS", 10),
		ReportOutputDir:   getEnv("REPORT_OUTPUT_DIR", ""),
		ReportS3Bucket:    getEnv("REPORT_S3_BUCKET", ""),
		ReportS3Region:    getEnv("REPORT_S3_REGION", "us-east-1"),
		ReportS3Endpoint:  getEnv("REPORT_S3_ENDPOINT", ""),
		ReportS3PathStyle: getEnvBool("REPORT_S3_PATH_STYLE", false),
	}

	cfg.ModelLimits = make(map[string]int, len(DefaultModelLimits))
	for model, limit := range DefaultModelLimits {
		cfg.ModelLimits[model] = limit
	}
	if path := getEnv("MODEL_LIMITS_FILE", ""); path != "" {
		fromFile, err := LoadModelLimits(path)
		if err != nil {
			return Config{}, err
		}
		for model, limit := range fromFile {
			cfg.ModelLimits[model] = limit
		}
	}
	for model, limit := range getEnvLimits("MODEL_TPM_LIMITS") {
		cfg.ModelLimits[model] = limit
	}
	return cfg, nil
}

// modelLimitsFile is the YAML layout accepted by LoadModelLimits:
//
//	models:
//	  groq/llama-3.1-8b-instant: 6000
type modelLimitsFile struct {
	Models map[string]int `yaml:"models"`
}

// LoadModelLimits reads a YAML tokens-per-minute table and expands environment variables in it.
func LoadModelLimits(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model limits: %w", err)
	}
	var f modelLimitsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse model limits: %w", err)
	}
	out := make(map[string]int, len(f.Models))
	for model, limit := range f.Models {
		if limit <= 0 {
			return nil, fmt.Errorf("model limits: %q must be positive, got %d", model, limit)
		}
		out[model] = limit
	}
	return out, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getEnvLimits parses "model=limit,model=limit". Malformed pairs are skipped.
func getEnvLimits(key string) map[string]int {
	out := map[string]int{}
	v := os.Getenv(key)
	if v == "" {
		return out
	}
	for _, pair := range strings.Split(v, ",") {
		model, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		limit, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || limit <= 0 {
			continue
		}
		out[strings.TrimSpace(model)] = limit
	}
	return out
}
