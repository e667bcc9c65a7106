package persona

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Store exposes persona retrieval for the exchange engine and HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(key string) (Persona, bool)
}

// MemoryStore implements Store with an immutable in-memory index.
type MemoryStore struct {
	items []Persona
	index map[string]Persona
}

// NewMemoryStore validates the supplied personas and indexes them by key.
func NewMemoryStore(items []Persona) (*MemoryStore, error) {
	s := &MemoryStore{
		items: make([]Persona, 0, len(items)),
		index: make(map[string]Persona, len(items)),
	}
	for _, item := range items {
		// 未配置输出上限时使用默认值
		if item.MaxOutputTokens == 0 {
			item.MaxOutputTokens = DefaultMaxOutputTokens
		}
		if err := item.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.index[item.Key]; dup {
			return nil, fmt.Errorf("duplicate persona key %q", item.Key)
		}
		s.index[item.Key] = item
		s.items = append(s.items, item)
	}
	sort.Slice(s.items, func(i, j int) bool { return s.items[i].Key < s.items[j].Key })
	return s, nil
}

// MustMemoryStore is NewMemoryStore for compiled-in catalogs.
func MustMemoryStore(items []Persona) *MemoryStore {
	s, err := NewMemoryStore(items)
	if err != nil {
		panic(err)
	}
	return s
}

// List returns the catalog ordered by key.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by key.
func (s *MemoryStore) FindByID(key string) (Persona, bool) {
	p, ok := s.index[key]
	return p, ok
}

type catalogFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads a YAML catalog of the form:
//
//	personas:
//	  - key: "1"
//	    name: Data Analyst Expert
//	    instruction: ...
//	    temperature: 0.3
//	    top_p: 0.8
//	    top_k: 40
func LoadFile(path string) (*MemoryStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse persona catalog %s: %w", path, err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("persona catalog %s is empty", path)
	}

	return NewMemoryStore(file.Personas)
}
