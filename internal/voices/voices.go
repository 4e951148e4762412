package voices

import (
	"fmt"
	"io/ioutil"
	"strings"

	"gopkg.in/yaml.v3"
)

// Voice describes one entry in the narration voice catalog.
type Voice struct {
	ID       string   `yaml:"id" json:"id"`
	Label    string   `yaml:"label" json:"label,omitempty"`
	Language string   `yaml:"language" json:"language,omitempty"`
	Speaker  string   `yaml:"speaker" json:"speaker,omitempty"`
	Roles    []string `yaml:"roles,omitempty" json:"roles,omitempty"`
}

// Defaults names the catalog voice used for each narration role.
type Defaults struct {
	Narrator string `yaml:"narrator" json:"narrator,omitempty"`
	Host     string `yaml:"host" json:"host,omitempty"`
	Guest    string `yaml:"guest" json:"guest,omitempty"`
}

// Catalog is the voices.yaml document.
type Catalog struct {
	Voices   []Voice  `yaml:"voices" json:"voices"`
	Defaults Defaults `yaml:"defaults" json:"defaults"`
}

const (
	RoleNarrator = "narrator"
	RoleHost     = "host"
	RoleGuest    = "guest"
)

// Load reads a voice catalog from disk.
func Load(path string) (Catalog, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate ensures the catalog is usable: ids present and unique, roles
// drawn from the known set, and every default resolving to a voice.
func Validate(c Catalog) error {
	seen := make(map[string]bool, len(c.Voices))
	for i, v := range c.Voices {
		if v.ID == "" {
			return fmt.Errorf("voices[%d].id is required", i)
		}
		if seen[v.ID] {
			return fmt.Errorf("voice id %q appears more than once", v.ID)
		}
		seen[v.ID] = true
		for _, role := range v.Roles {
			switch role {
			case RoleNarrator, RoleHost, RoleGuest:
			default:
				return fmt.Errorf("voice %q has unknown role %q", v.ID, role)
			}
		}
	}
	for role, id := range map[string]string{
		RoleNarrator: c.Defaults.Narrator,
		RoleHost:     c.Defaults.Host,
		RoleGuest:    c.Defaults.Guest,
	} {
		if id == "" {
			continue
		}
		if !seen[id] {
			return fmt.Errorf("default %s voice %q is not in the catalog", role, id)
		}
	}
	return nil
}

// Resolve finds a voice by id, falling back to a case-insensitive label
// match so callers can use the human-facing name.
func (c Catalog) Resolve(name string) (Voice, bool) {
	for _, v := range c.Voices {
		if v.ID == name {
			return v, true
		}
	}
	for _, v := range c.Voices {
		if strings.EqualFold(v.Label, name) {
			return v, true
		}
	}
	return Voice{}, false
}

// ForRole picks the catalog voice for a narration role: the configured
// default when set, otherwise the first voice listing that role.
func (c Catalog) ForRole(role string) (Voice, bool) {
	var id string
	switch role {
	case RoleNarrator:
		id = c.Defaults.Narrator
	case RoleHost:
		id = c.Defaults.Host
	case RoleGuest:
		id = c.Defaults.Guest
	}
	if id != "" {
		return c.Resolve(id)
	}
	for _, v := range c.Voices {
		for _, r := range v.Roles {
			if r == role {
				return v, true
			}
		}
	}
	return Voice{}, false
}
