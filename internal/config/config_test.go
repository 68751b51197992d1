package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "8000" {
		t.Fatalf("expected default port 8000, got %s", cfg.HTTPPort)
	}
	if cfg.DefaultTPMLimit != DefaultTPMLimit {
		t.Fatalf("expected default tpm %d, got %d", DefaultTPMLimit, cfg.DefaultTPMLimit)
	}
	if cfg.ModelLimits["groq/llama-3.1-8b-instant"] != 6000 {
		t.Fatalf("expected built-in limit for llama-3.1-8b-instant, got %d", cfg.ModelLimits["groq/llama-3.1-8b-instant"])
	}
	if cfg.LLMTimeout != 2*time.Minute {
		t.Fatalf("unexpected llm timeout %s", cfg.LLMTimeout)
	}
	if cfg.Providers["groq"].BaseURL == "" {
		t.Fatalf("expected groq provider base url")
	}
}

func TestLoadModelLimitOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	yml := "models:\n  groq/llama-3.1-8b-instant: 1200\n  local/tiny: ${TINY_LIMIT}\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TINY_LIMIT", "300")
	t.Setenv("MODEL_LIMITS_FILE", path)
	t.Setenv("MODEL_TPM_LIMITS", "local/tiny=400, broken, bad=abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ModelLimits["groq/llama-3.1-8b-instant"]; got != 1200 {
		t.Fatalf("file override not applied, got %d", got)
	}
	if got := cfg.ModelLimits["local/tiny"]; got != 400 {
		t.Fatalf("env override should win over file, got %d", got)
	}
	if _, ok := cfg.ModelLimits["bad"]; ok {
		t.Fatalf("malformed env pair should be skipped")
	}
}

func TestLoadModelLimitsRejectsNonPositive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	if err := os.WriteFile(path, []byte("models:\n  m: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadModelLimits(path); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
