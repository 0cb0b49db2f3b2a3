package internal

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
	if cfg.App.HTTP.Address() != ":8090" {
		t.Errorf("address = %q", cfg.App.HTTP.Address())
	}
	if !cfg.Database.LocalProjects() {
		t.Error("default config should use the local database")
	}
	if cfg.Generate.PollInterval() != 2*time.Second {
		t.Errorf("poll interval = %v", cfg.Generate.PollInterval())
	}
	if cfg.Autosave.Debounce() != 3*time.Second {
		t.Errorf("debounce = %v", cfg.Autosave.Debounce())
	}
}

func TestHTTPConfig_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := HTTPConfig{Port: port}
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d should fail validation", port)
		}
	}
}

func TestBackendConfig_RequiresBaseURL(t *testing.T) {
	cfg := BackendConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty base url should fail validation")
	}
	cfg.BaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("malformed base url should fail validation")
	}
	cfg.BaseURL = "http://localhost:8000"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid base url should pass: %v", err)
	}
}

func TestDatabaseConfig_RemoteMode(t *testing.T) {
	cfg := DatabaseConfig{}
	if cfg.LocalProjects() {
		t.Error("empty path should mean remote projects")
	}
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestGenerateConfig_Bounds(t *testing.T) {
	cfg := GenerateConfig{PollIntervalSeconds: 0, MaxPollAttempts: 150}
	if err := cfg.Validate(); err == nil {
		t.Error("zero poll interval should fail validation")
	}
	cfg = GenerateConfig{PollIntervalSeconds: 2, MaxPollAttempts: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("zero poll attempts should fail validation")
	}
}

func TestAutosaveConfig_Bounds(t *testing.T) {
	cfg := AutosaveConfig{DebounceSeconds: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("zero debounce should fail validation")
	}
}

func TestFullConfig_SectionValidationPropagates(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}

	cfg = NewDefaultConfig()
	cfg.Backend.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch backend error")
	}
}
