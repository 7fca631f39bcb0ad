package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"shortsai-batch/internal/runstore"
)

// Pinger is the backend reachability probe used by Doctor.
type Pinger interface {
	Ping(ctx context.Context) error
}

type DoctorOptions struct {
	ConfigPath string
	Settings   Settings
	Backend    Pinger
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type InitWorkspaceOptions struct {
	ConfigPath string
}

type InitWorkspaceResult struct {
	ConfigPath    string       `json:"config_path"`
	StateDir      string       `json:"state_dir"`
	OutputDir     string       `json:"output_dir"`
	CreatedConfig bool         `json:"created_config"`
	DoctorResult  DoctorResult `json:"doctor"`
}

func Doctor(ctx context.Context, opts DoctorOptions) DoctorResult {
	configPath := normalizeConfigPath(opts.ConfigPath)
	s := normalize(opts.Settings)

	checks := make([]DoctorCheck, 0, 5)
	checks = append(checks, dirCheck("directory:config", filepath.Dir(configPath)))
	checks = append(checks, dirCheck("directory:state", s.StateDir))
	checks = append(checks, dirCheck("directory:output", s.OutputDir))

	if err := s.Validate(); err != nil {
		checks = append(checks, DoctorCheck{Name: "settings", OK: false, Message: err.Error()})
	} else {
		checks = append(checks, DoctorCheck{Name: "settings", OK: true, Message: "valid"})
	}

	switch {
	case opts.Backend == nil:
		checks = append(checks, DoctorCheck{Name: "backend", OK: false, Message: "not configured"})
	default:
		if err := opts.Backend.Ping(ctx); err != nil {
			checks = append(checks, DoctorCheck{Name: "backend", OK: false, Message: err.Error()})
		} else {
			checks = append(checks, DoctorCheck{Name: "backend", OK: true, Message: "reachable at " + s.BackendURL})
		}
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}
}

// InitWorkspace writes a default settings file when none exists and creates
// the state and output directories.
func InitWorkspace(opts InitWorkspaceOptions) (InitWorkspaceResult, error) {
	configPath := normalizeConfigPath(opts.ConfigPath)

	created := false
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if _, err := Update(UpdateOptions{ConfigPath: configPath, Settings: Defaults()}); err != nil {
			return InitWorkspaceResult{}, err
		}
		created = true
	}
	s, err := Resolve(configPath)
	if err != nil {
		return InitWorkspaceResult{}, err
	}
	for _, dir := range []string{s.StateDir, s.OutputDir} {
		if err := runstore.Mkdir(dir); err != nil {
			return InitWorkspaceResult{}, err
		}
	}
	return InitWorkspaceResult{
		ConfigPath:    configPath,
		StateDir:      s.StateDir,
		OutputDir:     s.OutputDir,
		CreatedConfig: created,
	}, nil
}

func dirCheck(name, path string) DoctorCheck {
	ok, msg := ensureWritableDir(path)
	return DoctorCheck{Name: name, OK: ok, Message: msg}
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "shortsai-batch-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
