package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Backend  BackendConfig     `yaml:"backend"`
	Database DatabaseConfig    `yaml:"database"`
	Assets   AssetsConfig      `yaml:"assets"`
	Auth     AuthConfig        `yaml:"auth"`
	Generate GenerateConfig    `yaml:"generate"`
	Autosave AutosaveConfig    `yaml:"autosave"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Backend.Validate(); err != nil {
		return err
	}
	if err := c.Generate.Validate(); err != nil {
		return err
	}
	if err := c.Autosave.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// BackendConfig holds the generation backend connection settings.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// Validate validates the backend configuration.
func (c *BackendConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
	)
}

// DatabaseConfig holds the local project database configuration.
// When Path is empty, projects are persisted through the backend instead.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LocalProjects returns true when projects are stored in the local database.
func (c *DatabaseConfig) LocalProjects() bool {
	return c.Path != ""
}

// AssetsConfig holds the watched assets directory. An empty Dir disables
// the asset watcher.
type AssetsConfig struct {
	Dir string `yaml:"dir"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// GenerateConfig holds job polling tunables.
type GenerateConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	MaxPollAttempts     int `yaml:"max_poll_attempts"`
}

// PollInterval returns the poll interval as a duration.
func (c *GenerateConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Validate validates the generation configuration.
func (c *GenerateConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PollIntervalSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxPollAttempts, validation.Required, validation.Min(1)),
	)
}

// AutosaveConfig holds the persistence debounce tunable.
type AutosaveConfig struct {
	DebounceSeconds int `yaml:"debounce_seconds"`
}

// Debounce returns the autosave debounce as a duration.
func (c *AutosaveConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

// Validate validates the autosave configuration.
func (c *AutosaveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DebounceSeconds, validation.Required, validation.Min(1)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8090,
			},
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
		},
		Database: DatabaseConfig{
			Path: "./waggle.db",
		},
		Assets: AssetsConfig{
			Dir: "./assets",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Generate: GenerateConfig{
			PollIntervalSeconds: 2,
			MaxPollAttempts:     150,
		},
		Autosave: AutosaveConfig{
			DebounceSeconds: 3,
		},
	}
}
