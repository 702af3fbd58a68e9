package config

import (
	"strings"
	"testing"
)

func TestValidConfigPasses(t *testing.T) {
	cfg := &Config{
		App:   AppConfig{Name: "test-app"},
		Rules: RulesConfig{PDLFiles: []string{"rules.pdl"}},
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config to pass, got %v", err)
	}
}

func TestMissingAppNameFails(t *testing.T) {
	cfg := &Config{Rules: RulesConfig{PDLFiles: []string{"rules.pdl"}}}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "app.name") {
		t.Errorf("expected app.name validation error, got %v", err)
	}
}

func TestMissingPDLFilesFails(t *testing.T) {
	cfg := &Config{App: AppConfig{Name: "test-app"}}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "pdl_files") {
		t.Errorf("expected pdl_files validation error, got %v", err)
	}
}

func TestUnknownSinkTransportFails(t *testing.T) {
	cfg := &Config{
		App:   AppConfig{Name: "test-app"},
		Rules: RulesConfig{PDLFiles: []string{"rules.pdl"}},
		Sinks: map[string]SinkConfig{"bad": {Transport: "carrier-pigeon"}},
	}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown transport") {
		t.Errorf("expected unknown transport validation error, got %v", err)
	}
}
