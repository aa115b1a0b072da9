// Package prompts loads the plain-text prompt templates the LLM-facing
// components render. Templates are keyed by (task, version) and live under
// templates/<task>/<version>.md. Embedded defaults can be overridden by a
// directory with the same layout.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates
var defaultTemplates embed.FS

// Well-known (task, version) keys. Bumping a prompt means adding a new
// version file and updating the constant.
const (
	TaskValidation       = "validation/v1.1"
	TaskLabeling         = "labeling/v1.0"
	TaskJustification    = "justification/v1.0"
	TaskContinuity       = "continuity/v1.0"
	TaskMemoryGeneration = "memory_generation/v1.0"
	TaskSynthesis        = "synthesis/v1.0"
	TaskAssetImpact      = "asset_impact/v1.0"
	TaskEntityExtraction = "entity_extraction/v1.0"
)

// Store holds all parsed templates. Load it once at startup.
type Store struct {
	templates map[string]*template.Template
}

// Load parses the embedded templates and, when overrideDir is non-empty,
// replaces any template that has a counterpart on disk.
func Load(overrideDir string) (*Store, error) {
	store := &Store{templates: make(map[string]*template.Template)}

	err := fs.WalkDir(defaultTemplates, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := defaultTemplates.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded template %s: %w", path, err)
		}
		return store.add(strings.TrimPrefix(path, "templates/"), data)
	})
	if err != nil {
		return nil, err
	}

	if overrideDir != "" {
		err := filepath.WalkDir(overrideDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(overrideDir, path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read template override %s: %w", path, err)
			}
			return store.add(filepath.ToSlash(rel), data)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load prompt overrides from %s: %w", overrideDir, err)
		}
	}

	return store, nil
}

func (s *Store) add(relPath string, data []byte) error {
	key := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	tmpl, err := template.New(key).Parse(string(data))
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", key, err)
	}
	s.templates[key] = tmpl
	return nil
}

// Render executes the template for the given (task, version) key.
func (s *Store) Render(key string, data any) (string, error) {
	tmpl, ok := s.templates[key]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", key)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", key, err)
	}
	return buf.String(), nil
}

// Keys returns the loaded template keys, for diagnostics.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.templates))
	for k := range s.templates {
		keys = append(keys, k)
	}
	return keys
}
