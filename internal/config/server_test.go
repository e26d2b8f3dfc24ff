package config

import "testing"

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg := LoadServerConfig()

	if cfg.Environment != EnvDevelopment {
		t.Errorf("Environment = %v, want %v", cfg.Environment, EnvDevelopment)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.RateLimit != "60-M" {
		t.Errorf("RateLimit = %q, want 60-M", cfg.RateLimit)
	}
	if cfg.TrialTTL != 300 {
		t.Errorf("TrialTTL = %d, want 300", cfg.TrialTTL)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.RetentionDays)
	}
}

func TestLoadServerConfig_FromEnv(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT", "120-M")
	t.Setenv("TRIAL_CACHE_TTL", "600")
	t.Setenv("RETENTION_DAYS", "30")
	t.Setenv("DATABASE_URL", "postgres://localhost/pawkeeper")

	cfg := LoadServerConfig()

	if cfg.Environment != EnvProduction {
		t.Errorf("Environment = %v, want %v", cfg.Environment, EnvProduction)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.RateLimit != "120-M" {
		t.Errorf("RateLimit = %q, want 120-M", cfg.RateLimit)
	}
	if cfg.TrialTTL != 600 {
		t.Errorf("TrialTTL = %d, want 600", cfg.TrialTTL)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.RetentionDays)
	}
	if cfg.DatabaseURL != "postgres://localhost/pawkeeper" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.LogPretty {
		t.Error("LogPretty should default to false in production")
	}
}

func TestLoadServerConfig_InvalidValues(t *testing.T) {
	t.Setenv("ENV", "bogus")
	t.Setenv("PORT", "not-a-number")
	t.Setenv("TRIAL_CACHE_TTL", "-5")

	cfg := LoadServerConfig()

	if cfg.Environment != EnvDevelopment {
		t.Errorf("Environment = %v, want fallback %v", cfg.Environment, EnvDevelopment)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want fallback 8080", cfg.Port)
	}
	if cfg.TrialTTL != 300 {
		t.Errorf("TrialTTL = %d, want fallback 300", cfg.TrialTTL)
	}
}
