package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/dontdude/qdoas/internal/domain"
)

// document is the on-disk form of a workspace.
type document struct {
	Projects []*domain.Project `toml:"project"`
	Sites    []Site            `toml:"site"`
	Symbols  []Symbol          `toml:"symbol"`
}

// Load reads a workspace file. A missing file yields an empty workspace.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace: %w", err)
	}
	return Parse(data)
}

// Parse decodes a TOML workspace document.
func Parse(data []byte) (*Workspace, error) {
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workspace TOML: %w", err)
	}

	w := New()
	for _, p := range doc.Projects {
		if p == nil || p.Name == "" {
			return nil, fmt.Errorf("project: %w", ErrNoName)
		}
		if _, dup := w.projects[p.Name]; dup {
			return nil, fmt.Errorf("project %q: %w", p.Name, ErrExists)
		}
		w.projects[p.Name] = p
	}
	for _, s := range doc.Sites {
		if s.Name == "" {
			return nil, fmt.Errorf("site: %w", ErrNoName)
		}
		w.sites[s.Name] = s
	}
	for _, s := range doc.Symbols {
		if s.Name == "" {
			return nil, fmt.Errorf("symbol: %w", ErrNoName)
		}
		w.symbols[s.Name] = s
	}
	return w, nil
}

// Encode renders the workspace as TOML with entries sorted by name.
func (w *Workspace) Encode() ([]byte, error) {
	doc := document{
		Projects: w.Projects(),
		Sites:    w.Sites(),
		Symbols:  w.Symbols(),
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode workspace: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the workspace to path through a temporary file in the same directory.
func (w *Workspace) Save(path string) error {
	data, err := w.Encode()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".workspace-*")
	if err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	return nil
}
