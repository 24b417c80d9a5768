// Package mapcat holds the per-format map pools and the league server
// configs that go with each map family. The catalog ships with a built-in
// default and can be overridden from a YAML file.
package mapcat

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/teamtf/scrim-bot/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// ServerConfig names a league config file and its provider id.
type ServerConfig struct {
	Prefix string `yaml:"prefix"`
	Name   string `yaml:"name"`
	ID     int64  `yaml:"id"`
}

type formatEntry struct {
	Pool    []string       `yaml:"pool"`
	Configs []ServerConfig `yaml:"configs"`
}

type catalogFile struct {
	Formats map[string]formatEntry `yaml:"formats"`
}

type Catalog struct {
	formats map[domain.GameFormat]formatEntry
}

// LoadDefault parses the embedded catalog.
func LoadDefault() (*Catalog, error) {
	return parse(defaultYAML)
}

// Load reads a catalog from path, falling back to the embedded default
// when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return LoadDefault()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map catalog: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse map catalog: %w", err)
	}

	c := &Catalog{formats: make(map[domain.GameFormat]formatEntry, len(file.Formats))}
	for name, entry := range file.Formats {
		format, err := domain.ParseFormat(name)
		if err != nil {
			return nil, fmt.Errorf("map catalog: %w", err)
		}
		if len(entry.Pool) == 0 {
			return nil, fmt.Errorf("map catalog: format %s has an empty pool", name)
		}
		for _, cfg := range entry.Configs {
			if cfg.Prefix == "" || cfg.ID == 0 {
				return nil, fmt.Errorf("map catalog: format %s has an incomplete config entry", name)
			}
		}
		c.formats[format] = entry
	}
	return c, nil
}

// Pool returns the playable maps for a format.
func (c *Catalog) Pool(format domain.GameFormat) []string {
	entry, ok := c.formats[format]
	if !ok {
		return nil
	}
	pool := make([]string, len(entry.Pool))
	copy(pool, entry.Pool)
	return pool
}

// Contains reports whether mapName is in the format's pool.
func (c *Catalog) Contains(format domain.GameFormat, mapName string) bool {
	for _, m := range c.formats[format].Pool {
		if m == mapName {
			return true
		}
	}
	return false
}

// ConfigFor picks the server config to exec for a map, matched on the map
// name prefix (cp_, koth_, pl_).
func (c *Catalog) ConfigFor(format domain.GameFormat, mapName string) (ServerConfig, bool) {
	entry, ok := c.formats[format]
	if !ok {
		return ServerConfig{}, false
	}
	for _, cfg := range entry.Configs {
		if strings.HasPrefix(mapName, cfg.Prefix) {
			return cfg, true
		}
	}
	return ServerConfig{}, false
}
