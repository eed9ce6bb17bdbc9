package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Character is a static roster entry loaded from the characters document.
type Character struct {
	Name        string `json:"name"`
	Personality string `json:"personality"`
	Background  string `json:"background"`
	VoiceID     string `json:"voiceId,omitempty"`
}

// Location is a settings entry; sublocations share the same shape.
type Location struct {
	ID           string     `json:"id"`
	Sublocations []Location `json:"sublocations,omitempty"`
}

type settingsDocument struct {
	Locations []Location `json:"locations"`
}

// Model is the read-only world snapshot shared by every session.
type Model struct {
	characters  []Character
	byName      map[string]int
	locations   []string
	locationSet map[string]struct{}
	skipped     int
}

// Load reads the characters and settings documents. Missing files are
// treated as empty documents; malformed files are an error.
func Load(charactersPath, settingsPath string) (*Model, error) {
	var characters []Character
	if err := readOptionalJSON(charactersPath, &characters); err != nil {
		return nil, fmt.Errorf("load characters: %w", err)
	}
	var settings settingsDocument
	if err := readOptionalJSON(settingsPath, &settings); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return New(characters, settings.Locations), nil
}

// New indexes an in-memory roster and location tree.
func New(characters []Character, locations []Location) *Model {
	m := &Model{
		byName:      make(map[string]int, len(characters)),
		locationSet: make(map[string]struct{}),
	}
	for _, c := range characters {
		if c.Name == "" {
			m.skipped++
			continue
		}
		if _, exists := m.byName[c.Name]; !exists {
			m.byName[c.Name] = len(m.characters)
		}
		m.characters = append(m.characters, c)
	}
	m.flatten(locations)
	return m
}

func (m *Model) flatten(locations []Location) {
	for _, loc := range locations {
		if loc.ID != "" {
			m.locations = append(m.locations, loc.ID)
			m.locationSet[loc.ID] = struct{}{}
		}
		if len(loc.Sublocations) > 0 {
			m.flatten(loc.Sublocations)
		}
	}
}

func readOptionalJSON(path string, target any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Characters returns a copy of the roster in document order.
func (m *Model) Characters() []Character {
	out := make([]Character, len(m.characters))
	copy(out, m.characters)
	return out
}

// Names returns roster names in document order.
func (m *Model) Names() []string {
	names := make([]string, 0, len(m.characters))
	for _, c := range m.characters {
		names = append(names, c.Name)
	}
	return names
}

func (m *Model) HasCharacter(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Character looks a roster entry up by name. The first entry wins when a
// name repeats.
func (m *Model) Character(name string) (Character, bool) {
	idx, ok := m.byName[name]
	if !ok {
		return Character{}, false
	}
	return m.characters[idx], true
}

// CharacterAt looks a roster entry up by its position in the document.
func (m *Model) CharacterAt(index int) (Character, bool) {
	if index < 0 || index >= len(m.characters) {
		return Character{}, false
	}
	return m.characters[index], true
}

// LocationIDs returns the flattened location ids, parents before children.
func (m *Model) LocationIDs() []string {
	out := make([]string, len(m.locations))
	copy(out, m.locations)
	return out
}

func (m *Model) HasLocation(id string) bool {
	_, ok := m.locationSet[id]
	return ok
}

// Skipped reports how many character entries were dropped for lacking a name.
func (m *Model) Skipped() int { return m.skipped }
