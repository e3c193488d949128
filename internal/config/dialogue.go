package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Character maps a speaker name to a synthesizer voice
type Character struct {
	Name  string `yaml:"name"`
	Voice string `yaml:"voice"`
}

// DialogueData holds the characters and the building blocks of system topics
type DialogueData struct {
	Characters   []Character `yaml:"characters"`
	Emotions     []string    `yaml:"emotions"`
	Interactions []string    `yaml:"interactions"`
	Actions      []string    `yaml:"actions"`
	Topics       []string    `yaml:"topics"`
	Themes       []string    `yaml:"themes"`
}

// Dialogue is the per-story-set configuration file
type Dialogue struct {
	SystemPrompt   string       `yaml:"system_prompt"`
	VoiceGenerator string       `yaml:"voice_generator"`
	DialogueData   DialogueData `yaml:"dialogue_data"`
}

// VoiceMap returns the speaker name to voice id lookup
func (d *Dialogue) VoiceMap() map[string]string {
	voices := make(map[string]string, len(d.DialogueData.Characters))
	for _, c := range d.DialogueData.Characters {
		voices[c.Name] = c.Voice
	}
	return voices
}

// LoadDialogue reads <dir>/custom/<name>.yaml, falling back to <dir>/base/<name>.yaml
func LoadDialogue(dir, name string) (*Dialogue, error) {
	for _, variant := range []string{"custom", "base"} {
		path := filepath.Join(dir, variant, name+".yaml")
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read dialogue config %s: %w", path, err)
		}
		return ParseDialogue(raw)
	}
	return nil, fmt.Errorf("no dialogue configuration found for %q in %s", name, dir)
}

// ParseDialogue decodes and validates a dialogue YAML document
func ParseDialogue(raw []byte) (*Dialogue, error) {
	var d Dialogue
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse dialogue config: %w", err)
	}
	if d.SystemPrompt == "" {
		return nil, fmt.Errorf("dialogue config: system_prompt is required")
	}
	if len(d.DialogueData.Characters) == 0 {
		return nil, fmt.Errorf("dialogue config: at least one character is required")
	}
	for _, c := range d.DialogueData.Characters {
		if c.Name == "" || c.Voice == "" {
			return nil, fmt.Errorf("dialogue config: character %q needs a name and a voice", c.Name)
		}
	}
	return &d, nil
}
