package tier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store exposes tier lookups for the controller, adapters and handlers.
type Store interface {
	List() []Spec
	FindByID(id Tier) (Spec, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Spec
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied tiers.
func NewMemoryStore(items []Spec) *MemoryStore {
	return &MemoryStore{items: append([]Spec(nil), items...)}
}

// List returns the catalog in display order.
func (s *MemoryStore) List() []Spec {
	return append([]Spec(nil), s.items...)
}

// FindByID looks up a tier by identifier.
func (s *MemoryStore) FindByID(id Tier) (Spec, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Spec{}, false
}

type catalogFile struct {
	Tiers []Spec `yaml:"tiers"`
}

// LoadFile reads a YAML catalog and merges it over Seed. Entries are matched
// by id; only non-empty fields override the seeded values.
func LoadFile(path string) (*MemoryStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse tier catalog %s: %w", path, err)
	}

	items := Seed()
	for _, override := range file.Tiers {
		id, err := Parse(string(override.ID))
		if err != nil {
			return nil, fmt.Errorf("tier catalog %s: %w", path, err)
		}
		for i := range items {
			if items[i].ID == id {
				items[i] = merge(items[i], override)
			}
		}
	}
	return NewMemoryStore(items), nil
}

func merge(base, override Spec) Spec {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Label != "" {
		base.Label = override.Label
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	if override.GeminiModel != "" {
		base.GeminiModel = override.GeminiModel
	}
	if override.ArkModel != "" {
		base.ArkModel = override.ArkModel
	}
	if override.ThinkingBudget > 0 {
		base.ThinkingBudget = override.ThinkingBudget
	}
	return base
}
