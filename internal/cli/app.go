package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"shortsai-batch/internal/backend"
	"shortsai-batch/internal/config"
	"shortsai-batch/internal/executor"
	"shortsai-batch/internal/model"
	"shortsai-batch/internal/queue"
	"shortsai-batch/internal/render"
	"shortsai-batch/internal/runstore"
)

// app bundles everything a queue command needs. Commands that only touch
// the local queue leave client nil.
type app struct {
	settings config.Settings
	logger   *log.Logger
	store    *queue.Store
	client   *backend.Client
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func loadSettings(configPath string) (config.Settings, error) {
	if err := config.LoadEnvFile(config.DefaultEnvFile); err != nil {
		return config.Settings{}, err
	}
	return config.Resolve(strings.TrimSpace(configPath))
}

func openApp(configPath string, withBackend bool) (*app, error) {
	settings, err := loadSettings(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	a := &app{settings: settings, logger: logger}
	if withBackend {
		if err := settings.Validate(); err != nil {
			return nil, err
		}
		a.client, err = backend.New(backend.Options{
			BaseURL:           settings.BackendURL,
			APIToken:          settings.APIToken,
			RequestsPerSecond: settings.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
	}

	kv, err := runstore.OpenKV(settings.StateDir)
	if err != nil {
		return nil, err
	}
	a.store, err = queue.Open(kv, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *app) newExecutor() (*executor.Executor, error) {
	if a.client == nil {
		return nil, fmt.Errorf("backend client is not configured")
	}
	bridge, err := render.New(render.Options{
		Uploader:   a.client,
		Submitter:  a.client,
		Events:     a.client,
		Downloader: a.client,
		UserID:     a.settings.UserID,
		OutputDir:  a.settings.OutputDir,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	return executor.New(a.store, a.client, bridge, a.logger), nil
}

// fetchProjects loads each project so titles are fixed at enqueue time.
func fetchProjects(ctx context.Context, client projectFetcher, ids []string) ([]model.Project, error) {
	out := make([]model.Project, 0, len(ids))
	for _, id := range ids {
		p, err := client.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type projectFetcher interface {
	GetProject(ctx context.Context, projectID string) (model.Project, error)
}

func splitIDs(raw ...string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		for _, part := range strings.FieldsFunc(r, func(c rune) bool {
			return c == ',' || c == ' ' || c == '\n' || c == ';'
		}) {
			if id := strings.TrimSpace(part); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
