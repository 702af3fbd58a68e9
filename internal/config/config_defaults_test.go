package config

import "testing"

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.App.Name != "flowcore" {
		t.Errorf("expected default app name, got %s", cfg.App.Name)
	}
	if cfg.App.Environment != "production" {
		t.Errorf("expected default environment, got %s", cfg.App.Environment)
	}
	if cfg.Sinks == nil {
		t.Error("expected Sinks map to be initialized")
	}
}

func TestApplyDefaultsDoesNotOverrideExisting(t *testing.T) {
	cfg := &Config{App: AppConfig{Name: "custom"}}
	applyDefaults(cfg)

	if cfg.App.Name != "custom" {
		t.Errorf("expected custom app name preserved, got %s", cfg.App.Name)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWCORE_APP_NAME", "from-env")
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if cfg.App.Name != "from-env" {
		t.Errorf("expected env override to win, got %s", cfg.App.Name)
	}
}
