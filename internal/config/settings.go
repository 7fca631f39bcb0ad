package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"shortsai-batch/internal/model"
	"shortsai-batch/internal/runstore"
)

const (
	DefaultConfigPath        = "config/settings.json"
	DefaultEnvFile           = ".env"
	DefaultStateDir          = "state"
	DefaultOutputDir         = "renders"
	DefaultRequestsPerSecond = 5

	EnvBackendURL        = "SHORTSAI_BACKEND_URL"
	EnvUserID            = "SHORTSAI_USER_ID"
	EnvAPIToken          = "SHORTSAI_API_TOKEN"
	EnvStateDir          = "SHORTSAI_STATE_DIR"
	EnvOutputDir         = "SHORTSAI_OUTPUT_DIR"
	EnvRequestsPerSecond = "SHORTSAI_REQUESTS_PER_SECOND"

	settingsSchemaVersion = 1
)

type Settings struct {
	SchemaVersion     int                `json:"schema_version"`
	UpdatedAt         string             `json:"updated_at,omitempty"`
	BackendURL        string             `json:"backend_url,omitempty"`
	UserID            string             `json:"user_id,omitempty"`
	APIToken          string             `json:"api_token,omitempty"`
	StateDir          string             `json:"state_dir,omitempty"`
	OutputDir         string             `json:"output_dir,omitempty"`
	RequestsPerSecond float64            `json:"requests_per_second,omitempty"`
	Render            model.RenderConfig `json:"render"`
}

type UpdateOptions struct {
	ConfigPath string
	Settings   Settings
}

type UpdateResult struct {
	ConfigPath string   `json:"config_path"`
	Settings   Settings `json:"settings"`
}

func Defaults() Settings {
	return Settings{
		SchemaVersion:     settingsSchemaVersion,
		StateDir:          DefaultStateDir,
		OutputDir:         DefaultOutputDir,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Render:            model.DefaultRenderConfig(),
	}
}

func normalize(raw Settings) Settings {
	norm := raw
	norm.SchemaVersion = settingsSchemaVersion
	norm.BackendURL = strings.TrimRight(strings.TrimSpace(norm.BackendURL), "/")
	norm.UserID = strings.TrimSpace(norm.UserID)
	norm.APIToken = strings.TrimSpace(norm.APIToken)
	norm.StateDir = strings.TrimSpace(norm.StateDir)
	if norm.StateDir == "" {
		norm.StateDir = DefaultStateDir
	}
	norm.OutputDir = strings.TrimSpace(norm.OutputDir)
	if norm.OutputDir == "" {
		norm.OutputDir = DefaultOutputDir
	}
	if norm.RequestsPerSecond <= 0 {
		norm.RequestsPerSecond = DefaultRequestsPerSecond
	}
	norm.Render = norm.Render.Normalize()
	return norm
}

func normalizeConfigPath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return DefaultConfigPath
	}
	return p
}

// Read returns the stored settings, or defaults when no file exists yet.
func Read(configPath string) (Settings, error) {
	path := normalizeConfigPath(configPath)
	var s Settings
	if err := runstore.ReadJSON(path, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Settings{}, err
	}
	return normalize(s), nil
}

func Update(opts UpdateOptions) (UpdateResult, error) {
	path := normalizeConfigPath(opts.ConfigPath)
	s := normalize(opts.Settings)
	if err := s.Render.Validate(); err != nil {
		return UpdateResult{}, err
	}
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := runstore.WriteJSON(path, s); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{ConfigPath: path, Settings: s}, nil
}

// LoadEnvFile loads KEY=value pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	p := strings.TrimSpace(path)
	if p == "" {
		p = DefaultEnvFile
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", p, err)
	}
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("load env file %s: %w", p, err)
	}
	return nil
}

// ApplyEnv overlays SHORTSAI_* environment variables onto s.
func ApplyEnv(s Settings) (Settings, error) {
	if v, ok := lookupEnv(EnvBackendURL); ok {
		s.BackendURL = v
	}
	if v, ok := lookupEnv(EnvUserID); ok {
		s.UserID = v
	}
	if v, ok := lookupEnv(EnvAPIToken); ok {
		s.APIToken = v
	}
	if v, ok := lookupEnv(EnvStateDir); ok {
		s.StateDir = v
	}
	if v, ok := lookupEnv(EnvOutputDir); ok {
		s.OutputDir = v
	}
	if v, ok := lookupEnv(EnvRequestsPerSecond); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			return Settings{}, fmt.Errorf("%s must be a positive number, got %q", EnvRequestsPerSecond, v)
		}
		s.RequestsPerSecond = rps
	}
	return normalize(s), nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Resolve reads the settings file and applies the environment on top.
func Resolve(configPath string) (Settings, error) {
	s, err := Read(configPath)
	if err != nil {
		return Settings{}, err
	}
	return ApplyEnv(s)
}

// Redacted hides the API token for display.
func (s Settings) Redacted() Settings {
	if s.APIToken != "" {
		s.APIToken = "********"
	}
	return s
}

func (s Settings) Validate() error {
	if s.BackendURL == "" {
		return fmt.Errorf("backend URL is not configured (set %s or run: shortsai-batch settings set --backend-url URL)", EnvBackendURL)
	}
	if s.UserID == "" {
		return fmt.Errorf("user id is not configured (set %s or run: shortsai-batch settings set --user-id ID)", EnvUserID)
	}
	return s.Render.Validate()
}
