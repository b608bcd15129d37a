// Package roles holds the read-only catalog of instruction layers that are
// prepended to every model request.
package roles

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"expense-agent/internal/domain"
)

// SentenceEnd marks the end of a sentence in persona replies. Replies are
// split on it when the chat mode asks for natural pacing.
const SentenceEnd = "~"

// DefaultLanguage is the language the built-in persona speaks.
const DefaultLanguage = "Thai"

type SystemRoleKey string

const (
	SystemFriend  SystemRoleKey = "friend"
	SystemExpense SystemRoleKey = "expense"
)

type PersonaKey string

const PersonaRiko PersonaKey = "Riko"

var ErrUnknownRole = errors.New("roles: unknown role")

// Library maps role keys to ordered instruction layers. It is built once at
// startup and never mutated; lookups return copies.
type Library struct {
	system  map[SystemRoleKey][]domain.RoleMessage
	persona map[PersonaKey][]domain.RoleMessage
}

type catalogFile struct {
	System  map[string][]domain.RoleMessage `yaml:"system"`
	Persona map[string][]domain.RoleMessage `yaml:"persona"`
}

// New validates and copies the given layers into a Library.
func New(system map[SystemRoleKey][]domain.RoleMessage, persona map[PersonaKey][]domain.RoleMessage) (*Library, error) {
	lib := &Library{
		system:  make(map[SystemRoleKey][]domain.RoleMessage, len(system)),
		persona: make(map[PersonaKey][]domain.RoleMessage, len(persona)),
	}
	for key, layers := range system {
		if err := validateLayers(string(key), layers); err != nil {
			return nil, err
		}
		lib.system[key] = cloneLayers(layers)
	}
	for key, layers := range persona {
		if err := validateLayers(string(key), layers); err != nil {
			return nil, err
		}
		lib.persona[key] = cloneLayers(layers)
	}
	if len(lib.system) == 0 {
		return nil, errors.New("roles: at least one system role is required")
	}
	return lib, nil
}

// Default returns the built-in catalog.
func Default() *Library {
	lib, err := New(
		map[SystemRoleKey][]domain.RoleMessage{
			SystemFriend: {
				{Speaker: domain.SpeakerSystem, Content: "You are friendly nice friend"},
			},
			SystemExpense: {
				{Speaker: domain.SpeakerSystem, Content: "Extract memo, amount and category, get dateTimeUtc based on the conversation relative to the current date"},
			},
		},
		map[PersonaKey][]domain.RoleMessage{
			PersonaRiko: {
				{Speaker: domain.SpeakerSystem, Content: fmt.Sprintf(
					"I'm Riko, 29-year female with happy, friendly and playful, Speaking %s, Always use %s at the end of sentence",
					DefaultLanguage, SentenceEnd,
				)},
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return lib
}

// Load reads a YAML catalog of the form:
//
//	system:
//	  expense:
//	    - speaker: system
//	      content: "..."
//	persona:
//	  Riko:
//	    - speaker: system
//	      content: "..."
func Load(r io.Reader) (*Library, error) {
	var doc catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("roles: decode catalog: %w", err)
	}
	system := make(map[SystemRoleKey][]domain.RoleMessage, len(doc.System))
	for k, v := range doc.System {
		system[SystemRoleKey(k)] = v
	}
	persona := make(map[PersonaKey][]domain.RoleMessage, len(doc.Persona))
	for k, v := range doc.Persona {
		persona[PersonaKey(k)] = v
	}
	return New(system, persona)
}

// System returns the instruction layers for a system role.
func (l *Library) System(key SystemRoleKey) ([]domain.RoleMessage, error) {
	layers, ok := l.system[key]
	if !ok {
		return nil, fmt.Errorf("%w: system %q", ErrUnknownRole, key)
	}
	return cloneLayers(layers), nil
}

// Persona returns the instruction layers for a persona. An empty key yields
// no layers.
func (l *Library) Persona(key PersonaKey) ([]domain.RoleMessage, error) {
	if key == "" {
		return nil, nil
	}
	layers, ok := l.persona[key]
	if !ok {
		return nil, fmt.Errorf("%w: persona %q", ErrUnknownRole, key)
	}
	return cloneLayers(layers), nil
}

func validateLayers(key string, layers []domain.RoleMessage) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("roles: role key must not be empty")
	}
	if len(layers) == 0 {
		return fmt.Errorf("roles: role %q has no layers", key)
	}
	for i, m := range layers {
		if m.Speaker != domain.SpeakerSystem && m.Speaker != domain.SpeakerAssistant {
			return fmt.Errorf("roles: role %q layer %d has unsupported speaker %q", key, i, m.Speaker)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("roles: role %q layer %d has empty content", key, i)
		}
	}
	return nil
}

func cloneLayers(layers []domain.RoleMessage) []domain.RoleMessage {
	return append([]domain.RoleMessage(nil), layers...)
}
