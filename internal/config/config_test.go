package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(testContext *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		testContext.Fatalf("expected default database path, got %q", cfg.DatabasePath)
	}
	if cfg.SyncInterval != 20*time.Second {
		testContext.Fatalf("expected 20s sync interval, got %s", cfg.SyncInterval)
	}
	if cfg.ProbeURL != "http://127.0.0.1:8080/healthz" {
		testContext.Fatalf("expected derived probe url, got %q", cfg.ProbeURL)
	}
	if cfg.StrictAcknowledgment {
		testContext.Fatalf("expected lenient acknowledgment by default")
	}
}

func TestLoadReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("DRIVERHELPER_SYNC_ENDPOINT", "https://cloud.example.com/v1/sync")
	testContext.Setenv("DRIVERHELPER_SYNC_API_KEY", "device-key")
	testContext.Setenv("DRIVERHELPER_SYNC_INTERVAL", "45s")

	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SyncEndpoint != "https://cloud.example.com/v1/sync" {
		testContext.Fatalf("unexpected endpoint %q", cfg.SyncEndpoint)
	}
	if cfg.SyncAPIKey != "device-key" {
		testContext.Fatalf("unexpected api key %q", cfg.SyncAPIKey)
	}
	if cfg.SyncInterval != 45*time.Second {
		testContext.Fatalf("unexpected interval %s", cfg.SyncInterval)
	}
	if cfg.ProbeURL != "https://cloud.example.com/healthz" {
		testContext.Fatalf("unexpected probe url %q", cfg.ProbeURL)
	}
}

func TestLoadRejectsInvalidValues(testContext *testing.T) {
	testCases := []struct {
		name    string
		key     string
		value   any
		message string
	}{
		{name: "empty database path", key: "database.path", value: " ", message: "database.path is required"},
		{name: "relative endpoint", key: "sync.endpoint", value: "/api/sync", message: "sync.endpoint must be an http(s) URL"},
		{name: "zero interval", key: "sync.interval", value: 0, message: "sync.interval must be positive"},
		{name: "bad upstream", key: "relay.upstream_url", value: "ftp://upstream", message: "relay.upstream_url must be an http(s) URL"},
	}

	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), testCase.message) {
				t.Fatalf("expected %q in error, got %v", testCase.message, err)
			}
		})
	}
}
