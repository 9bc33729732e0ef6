// Package persona holds the static prompt templates that condition every
// completion request.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template placeholders.
const (
	PlaceholderName     = "{{NAME}}"
	PlaceholderAudience = "{{AUDIENCE}}"
	PlaceholderMessage  = "{{MESSAGE}}"
)

const DefaultFallback = "Sorry, unable to respond now"

// Persona is loaded once at startup and never changes afterwards.
type Persona struct {
	Name          string `yaml:"name" json:"name"`
	Audience      string `yaml:"audience" json:"audience"`
	RelayTemplate string `yaml:"relay_template" json:"relay_template"`
	ChatTemplate  string `yaml:"chat_template" json:"chat_template"`
	Fallback      string `yaml:"fallback" json:"fallback"`
}

func Default() *Persona {
	return &Persona{
		Name:     "Senator Ted Budd of North Carolina",
		Audience: "Vice Admiral Mitch Bradley, preparing for his confirmation hearing for Admiral and Commander of SOCOM",
		RelayTemplate: "You are {{NAME}}. Respond to this message as the Senator would, keeping in mind you're helping " +
			"{{AUDIENCE}}. Be professional, knowledgeable about military affairs, and supportive.\n\nMessage: {{MESSAGE}}",
		ChatTemplate: "Respond as {{NAME}} to: {{MESSAGE}}",
		Fallback:     DefaultFallback,
	}
}

// LoadFile reads a YAML persona. Fields missing from the file keep their
// default values.
func LoadFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("persona file %s: %w", path, err)
	}
	return p, nil
}

// Load returns the persona at path, or the default one when path is empty.
func Load(path string) (*Persona, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

func (p *Persona) Validate() error {
	if !strings.Contains(p.RelayTemplate, PlaceholderMessage) {
		return fmt.Errorf("relay_template must contain %s", PlaceholderMessage)
	}
	if !strings.Contains(p.ChatTemplate, PlaceholderMessage) {
		return fmt.Errorf("chat_template must contain %s", PlaceholderMessage)
	}
	if strings.TrimSpace(p.Fallback) == "" {
		return fmt.Errorf("fallback must not be empty")
	}
	return nil
}

// RelayPrompt wraps an inbound transport message.
func (p *Persona) RelayPrompt(content string) string {
	return p.render(p.RelayTemplate, content)
}

// ChatPrompt wraps a synchronous API message.
func (p *Persona) ChatPrompt(content string) string {
	return p.render(p.ChatTemplate, content)
}

// The message is substituted last so placeholders inside user text stay literal.
func (p *Persona) render(tmpl, content string) string {
	out := strings.ReplaceAll(tmpl, PlaceholderName, p.Name)
	out = strings.ReplaceAll(out, PlaceholderAudience, p.Audience)
	return strings.Replace(out, PlaceholderMessage, content, 1)
}
