package fileset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

// Store loads persona definitions from a directory of YAML files, one
// persona per file. The file name without extension is the fallback id.
// All files are read once at construction; the directory is not watched.
type Store struct {
	mu       sync.RWMutex
	personas map[string]domain.Persona
	order    []string
}

func New(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read persona dir: %w", err)
	}

	s := &Store{personas: make(map[string]domain.Persona)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read persona file %s: %w", entry.Name(), err)
		}

		var p domain.Persona
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parse persona file %s: %w", entry.Name(), err)
		}
		if p.ID == "" {
			p.ID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if p.SystemPrompt == "" {
			return nil, fmt.Errorf("persona file %s: missing system_prompt", entry.Name())
		}
		if _, exists := s.personas[p.ID]; exists {
			return nil, fmt.Errorf("duplicate persona id %q in %s", p.ID, entry.Name())
		}
		s.personas[p.ID] = p
		s.order = append(s.order, p.ID)
	}

	sort.Slice(s.order, func(i, j int) bool {
		return s.personas[s.order[i]].Name < s.personas[s.order[j]].Name
	})
	return s, nil
}

func (s *Store) GetByID(_ context.Context, id string) (*domain.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.personas[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrPersonaNotFound, "get persona", fmt.Errorf("id %s", id))
	}
	out := p
	return &out, nil
}

func (s *Store) List(_ context.Context) ([]domain.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	personas := make([]domain.Persona, 0, len(s.order))
	for _, id := range s.order {
		personas = append(personas, s.personas[id])
	}
	return personas, nil
}
