package main

import (
	"log/slog"
	"testing"

	"bondhon/backend/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		Port:                "8080",
		DeleteConfirmPhrase: "DELETE",
		RemoteEndpoint:      "https://script.google.com/macros/s/abc/exec",
		LogLevel:            "info",
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	if err := validateConfig(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfigRejectsUnusableValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"port":    func(c *config.Config) { c.Port = "http" },
		"phrase":  func(c *config.Config) { c.DeleteConfirmPhrase = "   " },
		"remote":  func(c *config.Config) { c.RemoteEndpoint = "script.google.com/exec" },
		"loglvl":  func(c *config.Config) { c.LogLevel = "verbose" },
		"bigport": func(c *config.Config) { c.Port = "70000" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
}

func TestLogLevel(t *testing.T) {
	if logLevel("debug") != slog.LevelDebug || logLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}
