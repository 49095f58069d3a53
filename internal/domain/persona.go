package domain

import (
	"fmt"
	"strings"
)

// Persona describes the assistant voice used for the system prompt.
type Persona struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Knowledge   string `yaml:"knowledge"`
	Behavior    string `yaml:"behavior"`
}

// DefaultPersona is the campus guide the relay answers as.
var DefaultPersona = Persona{
	Name:        "Shiko",
	Description: "A campus girl who knows everything about university life.",
	Knowledge:   "Knows about best food spots, hidden study areas, and where to find things on campus.",
	Behavior:    "Friendly, casual, a little playful, but very informative.",
}

// SystemPrompt renders the persona as a single system-role instruction.
func (p Persona) SystemPrompt() string {
	return fmt.Sprintf("You are %s, %s. %s. %s.",
		strings.TrimSpace(p.Name),
		sentence(p.Description),
		sentence(p.Knowledge),
		sentence(p.Behavior),
	)
}

// Validate reports whether every persona field is set.
func (p Persona) Validate() error {
	for field, v := range map[string]string{
		"name":        p.Name,
		"description": p.Description,
		"knowledge":   p.Knowledge,
		"behavior":    p.Behavior,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("domain: persona %s must not be empty", field)
		}
	}
	return nil
}

func sentence(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".")
}
