// Package project reads and edits the operator's project definitions file.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// file is the on-disk layout: {"projects": [...]}.
type file struct {
	Projects []serp.Project `json:"projects" yaml:"projects"`
}

// FileStore implements serp.ProjectStore over a JSON or YAML file. The
// format follows the extension (.yaml/.yml, anything else is JSON). The file
// is re-read on every call so edits are picked up without a restart.
type FileStore struct {
	path string
	yaml bool
	mu   sync.Mutex
}

// NewFileStore returns a store for path. The file may not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("projects file path is required")
	}
	ext := strings.ToLower(filepath.Ext(path))
	return &FileStore{path: path, yaml: ext == ".yaml" || ext == ".yml"}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// List returns all projects sorted by name. A missing file yields none.
func (s *FileStore) List(_ context.Context) ([]serp.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return nil, err
	}
	out := append([]serp.Project(nil), f.Projects...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns the project called name or serp.ErrNotFound.
func (s *FileStore) Get(_ context.Context, name string) (serp.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return serp.Project{}, err
	}
	for _, p := range f.Projects {
		if p.Name == name {
			return p, nil
		}
	}
	return serp.Project{}, fmt.Errorf("project %q: %w", name, serp.ErrNotFound)
}

// Delete removes the project called name and rewrites the file.
func (s *FileStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return err
	}
	kept := f.Projects[:0]
	found := false
	for _, p := range f.Projects {
		if p.Name == name {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return fmt.Errorf("project %q: %w", name, serp.ErrNotFound)
	}
	f.Projects = kept
	return s.write(f)
}

func (s *FileStore) read() (file, error) {
	var f file
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("read projects: %w", err)
	}
	if s.yaml {
		err = yaml.Unmarshal(data, &f)
	} else {
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return f, fmt.Errorf("decode projects %s: %w", s.path, err)
	}
	return f, nil
}

func (s *FileStore) write(f file) error {
	if f.Projects == nil {
		f.Projects = []serp.Project{}
	}
	var (
		data []byte
		err  error
	)
	if s.yaml {
		data, err = yaml.Marshal(f)
	} else {
		data, err = json.MarshalIndent(f, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode projects: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write projects: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace projects: %w", err)
	}
	return nil
}
