package persona

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCatalogue is returned when a catalogue has no entries.
var ErrEmptyCatalogue = errors.New("persona: catalogue is empty")

// Store exposes persona retrieval for HTTP handlers and the config builder.
type Store interface {
	List() []Persona
	FindByName(name string) (Persona, bool)
	Default() Persona
}

// Catalogue implements Store with an immutable slice. It is built once at
// start-up and shared read-only by every session.
type Catalogue struct {
	items []Persona
}

// NewCatalogue validates items and returns a Catalogue holding a copy of them.
func NewCatalogue(items []Persona) (*Catalogue, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCatalogue
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, fmt.Errorf("persona: entry %d has no name", i)
		}
		if item.Speak.Provider.Type == "" {
			return nil, fmt.Errorf("persona: %q has no speak provider type", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("persona: duplicate name %q", name)
		}
		seen[name] = struct{}{}
	}

	return &Catalogue{items: append([]Persona(nil), items...)}, nil
}

// List returns a copy of the catalogue entries in order.
func (c *Catalogue) List() []Persona {
	return append([]Persona(nil), c.items...)
}

// FindByName looks up a persona by exact name.
func (c *Catalogue) FindByName(name string) (Persona, bool) {
	for _, item := range c.items {
		if item.Name == name {
			return item, true
		}
	}
	return Persona{}, false
}

// Default returns the first catalogue entry.
func (c *Catalogue) Default() Persona {
	return c.items[0]
}
