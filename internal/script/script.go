// Package script holds the canned lines sessions use in place of generated replies.
package script

import (
	_ "embed"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Script is the reply material for one remote party.
type Script struct {
	Filler string   `yaml:"filler" json:"filler"`
	Lines  []string `yaml:"lines" json:"lines"` // timed lines, fired in order during a call
	Pool   []string `yaml:"pool" json:"pool"`   // replies drawn at random in chat
}

// Catalog maps profile ids to scripts, falling back to Default.
type Catalog struct {
	Default  Script            `yaml:"default"`
	Profiles map[string]Script `yaml:"profiles"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(errors.Wrap(err, "embedded script catalog"))
	}
	return c
}

// Load reads a catalog from path. An empty path returns the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read scripts file %s", path)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse scripts file %s", path)
	}
	return c, nil
}

// Parse decodes a YAML catalog and checks it has a usable default.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if c.Default.Filler == "" {
		return nil, errors.New("default.filler is required")
	}
	return &c, nil
}

// For resolves the script for profileID. Fields the profile leaves empty come from Default.
func (c *Catalog) For(profileID string) Script {
	out := Script{
		Filler: c.Default.Filler,
		Lines:  append([]string(nil), c.Default.Lines...),
		Pool:   append([]string(nil), c.Default.Pool...),
	}
	override, ok := c.Profiles[profileID]
	if !ok {
		return out
	}
	if override.Filler != "" {
		out.Filler = override.Filler
	}
	if len(override.Lines) > 0 {
		out.Lines = append([]string(nil), override.Lines...)
	}
	if len(override.Pool) > 0 {
		out.Pool = append([]string(nil), override.Pool...)
	}
	return out
}
