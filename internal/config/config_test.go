package config

import (
	"strings"
	"testing"
)

func TestFromYAMLDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("resources:\n  default_in_service: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.NewResourceInService() {
		t.Fatal("expected default_in_service false")
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("addr default: %s", cfg.Server.Addr)
	}
	if cfg.Stream.Backlog != 64 {
		t.Fatalf("backlog default: %d", cfg.Stream.Backlog)
	}
}

func TestValidateRequiresInServicePolicy(t *testing.T) {
	_, err := FromYAML([]byte("server:\n  addr: \"0.0.0.0:9090\"\n"))
	if err == nil || !strings.Contains(err.Error(), "default_in_service") {
		t.Fatalf("expected default_in_service error, got %v", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.NewResourceInService() {
		t.Fatal("default config should put new resources in service")
	}
}
