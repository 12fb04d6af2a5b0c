package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GPT_API_KEY", "sk-test")
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("PORT", "")
	t.Setenv("SCHEDULE_INTERVAL", "")

	c := Load("does-not-exist.env")
	if c.Port != "3000" {
		t.Errorf("expected default port 3000, got %q", c.Port)
	}
	if c.Provider != ProviderOpenAI {
		t.Errorf("expected openai provider, got %q", c.Provider)
	}
	if c.Model != "gpt-4o-mini" {
		t.Errorf("expected gpt-4o-mini, got %q", c.Model)
	}
	if c.ScheduleInterval != 30*time.Second {
		t.Errorf("expected 30s interval, got %s", c.ScheduleInterval)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateMissingKey(t *testing.T) {
	t.Setenv("GPT_API_KEY", "")
	t.Setenv("AI_PROVIDER", "openai")

	c := Load("does-not-exist.env")
	if err := c.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestOllamaNeedsNoKey(t *testing.T) {
	t.Setenv("GPT_API_KEY", "")
	t.Setenv("AI_PROVIDER", "ollama")
	t.Setenv("AI_MODEL", "")

	c := Load("does-not-exist.env")
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Model != "llama3:latest" {
		t.Errorf("expected llama3 default, got %q", c.Model)
	}
}

func TestDurationParsing(t *testing.T) {
	t.Setenv("GPT_API_KEY", "k")
	t.Setenv("SCHEDULE_INTERVAL", "5")
	t.Setenv("AI_TIMEOUT", "2m")

	c := Load("does-not-exist.env")
	if c.ScheduleInterval != 5*time.Second {
		t.Errorf("expected 5s, got %s", c.ScheduleInterval)
	}
	if c.AITimeout != 2*time.Minute {
		t.Errorf("expected 2m, got %s", c.AITimeout)
	}

	t.Setenv("SCHEDULE_INTERVAL", "soon")
	c = Load("does-not-exist.env")
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for bad interval")
	}
}

func TestLocationFallback(t *testing.T) {
	c := &Config{ScheduleTZ: "Nowhere/Special"}
	loc := c.Location()
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	if offset != -3*60*60 {
		t.Errorf("expected UTC-3 fallback, got offset %d", offset)
	}
}

func TestValidateRejectsUnknownZone(t *testing.T) {
	t.Setenv("GPT_API_KEY", "k")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("SCHEDULE_TZ", "America/Sao_Paolo")

	c := Load("does-not-exist.env")
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for misspelled SCHEDULE_TZ")
	}

	t.Setenv("SCHEDULE_TZ", "America/Sao_Paulo")
	c = Load("does-not-exist.env")
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
