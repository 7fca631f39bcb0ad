package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// KV is a durable string key-value store with one file per key.
type KV struct {
	dir string
}

func OpenKV(dir string) (*KV, error) {
	if err := Mkdir(dir); err != nil {
		return nil, err
	}
	return &KV{dir: dir}, nil
}

func (kv *KV) Dir() string {
	return kv.dir
}

func (kv *KV) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(kv.dir, key+".json"), nil
}

// Get returns the stored value and whether the key exists.
func (kv *KV) Get(key string) (string, bool, error) {
	path, err := kv.path(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read key %s: %w", key, err)
	}
	return string(data), true, nil
}

func (kv *KV) Set(key, value string) error {
	path, err := kv.path(key)
	if err != nil {
		return err
	}
	return WriteBytes(path, []byte(value))
}

func (kv *KV) Delete(key string) error {
	path, err := kv.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}
