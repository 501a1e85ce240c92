// Package preferences keeps user choices such as the narration language in
// a small YAML file, apart from the record store.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	id "kycflow/pkg/domain"
)

// KeyLanguage holds the last language the user picked.
const KeyLanguage = "userLanguage"

// File is a PreferenceStore backed by one YAML document. Writes go to a
// temporary file that is renamed over the original.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.read()
	if err != nil {
		return err
	}
	values[key] = value
	return f.write(values)
}

func (f *File) read() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse preferences: %w", err)
	}
	return values, nil
}

func (f *File) write(values map[string]string) error {
	raw, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".preferences-*")
	if err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}

// Getter is the read half of a preference store.
type Getter interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// Language returns the stored language, or English when none is stored or
// the stored value is no longer supported.
func Language(ctx context.Context, store Getter) id.Language {
	v, ok, err := store.Get(ctx, KeyLanguage)
	if err != nil || !ok {
		return id.LanguageEnglish
	}
	lang, err := id.ParseLanguage(v)
	if err != nil {
		return id.LanguageEnglish
	}
	return lang
}
