package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestDoctorAllChecksPass(t *testing.T) {
	root := t.TempDir()
	s := Defaults()
	s.BackendURL = "http://localhost:3000"
	s.UserID = "u1"
	s.StateDir = filepath.Join(root, "state")
	s.OutputDir = filepath.Join(root, "renders")

	res := Doctor(context.Background(), DoctorOptions{
		ConfigPath: filepath.Join(root, "config", "settings.json"),
		Settings:   s,
		Backend:    stubPinger{},
	})
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res.Checks)
	}
	if len(res.Checks) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(res.Checks))
	}
	if _, err := os.Stat(s.OutputDir); err != nil {
		t.Fatalf("expected output dir created: %v", err)
	}
}

func TestDoctorReportsUnreachableBackendAndMissingSettings(t *testing.T) {
	root := t.TempDir()
	s := Defaults()
	s.StateDir = filepath.Join(root, "state")
	s.OutputDir = filepath.Join(root, "renders")

	res := Doctor(context.Background(), DoctorOptions{
		ConfigPath: filepath.Join(root, "settings.json"),
		Settings:   s,
		Backend:    stubPinger{err: errors.New("connection refused")},
	})
	if res.OK {
		t.Fatalf("expected failure")
	}
	failed := map[string]string{}
	for _, c := range res.Checks {
		if !c.OK {
			failed[c.Name] = c.Message
		}
	}
	if _, ok := failed["settings"]; !ok {
		t.Fatalf("expected settings check to fail, got %+v", res.Checks)
	}
	if failed["backend"] != "connection refused" {
		t.Fatalf("unexpected backend message: %q", failed["backend"])
	}
}

func TestInitWorkspaceCreatesConfigOnce(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvStateDir, filepath.Join(root, "state"))
	t.Setenv(EnvOutputDir, filepath.Join(root, "out"))
	path := filepath.Join(root, "config", "settings.json")

	res, err := InitWorkspace(InitWorkspaceOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !res.CreatedConfig {
		t.Fatalf("expected config to be created")
	}
	if _, err := os.Stat(filepath.Join(root, "out")); err != nil {
		t.Fatalf("expected output dir: %v", err)
	}

	res, err = InitWorkspace(InitWorkspaceOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if res.CreatedConfig {
		t.Fatalf("expected existing config to be kept")
	}
}
