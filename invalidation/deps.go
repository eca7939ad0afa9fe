package invalidation

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format identifies a dependency map encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ErrInvalidDependencyMap wraps every validation failure.
var ErrInvalidDependencyMap = errors.New("invalid dependency map")

// DependencyMap is the versioned table of entity families and the families
// whose cached views embed them.
type DependencyMap struct {
	Version        int                 `yaml:"version" toml:"version"`
	APIPrefix      string              `yaml:"api_prefix" toml:"api_prefix"`
	AdminNamespace string              `yaml:"admin_namespace" toml:"admin_namespace"`
	SubResources   []string            `yaml:"sub_resources" toml:"sub_resources"`
	Families       []string            `yaml:"families" toml:"families"`
	CrossCutting   []string            `yaml:"cross_cutting" toml:"cross_cutting"`
	Dependencies   map[string][]string `yaml:"dependencies" toml:"dependencies"`
}

// DefaultDependencyMap returns the built-in table for the PawsitiveCheck API.
func DefaultDependencyMap() *DependencyMap {
	return &DependencyMap{
		Version:        1,
		APIPrefix:      "/api",
		AdminNamespace: "admin",
		SubResources:   []string{"reviews", "tags"},
		Families: []string{
			"products", "reviews", "recalls", "pets",
			"saved-products", "livestock-operations", "users",
		},
		CrossCutting: []string{"saved-products"},
		Dependencies: map[string][]string{
			"products": {"reviews", "recalls"},
		},
	}
}

// LoadDependencyMap reads a YAML (.yaml, .yml) or TOML (.toml) file.
func LoadDependencyMap(path string) (*DependencyMap, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".toml":
		format = FormatTOML
	default:
		return nil, fmt.Errorf("%s: unsupported dependency map extension", path)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := ParseDependencyMap(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseDependencyMap decodes data strictly, fills defaults and validates.
func ParseDependencyMap(data []byte, format Format) (*DependencyMap, error) {
	var m DependencyMap
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *DependencyMap) applyDefaults() {
	if m.APIPrefix == "" {
		m.APIPrefix = "/api"
	}
	m.APIPrefix = "/" + strings.Trim(m.APIPrefix, "/")
	if m.AdminNamespace == "" {
		m.AdminNamespace = "admin"
	}
}

// Validate rejects versions below 1, empty names and dependencies on
// families the map does not declare.
func (m *DependencyMap) Validate() error {
	if m.Version < 1 {
		return fmt.Errorf("%w: version %d", ErrInvalidDependencyMap, m.Version)
	}
	if !strings.HasPrefix(m.APIPrefix, "/") {
		return fmt.Errorf("%w: api_prefix %q must start with /", ErrInvalidDependencyMap, m.APIPrefix)
	}

	known := make(map[string]bool, len(m.Families))
	for _, f := range m.Families {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: empty family name", ErrInvalidDependencyMap)
		}
		known[f] = true
	}
	for _, s := range m.SubResources {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty sub-resource name", ErrInvalidDependencyMap)
		}
	}
	for _, f := range m.CrossCutting {
		if !known[f] {
			return fmt.Errorf("%w: cross-cutting family %q is not declared", ErrInvalidDependencyMap, f)
		}
	}
	for from, deps := range m.Dependencies {
		if !known[from] {
			return fmt.Errorf("%w: dependency source %q is not declared", ErrInvalidDependencyMap, from)
		}
		for _, to := range deps {
			if !known[to] {
				return fmt.Errorf("%w: %s depends on undeclared family %q", ErrInvalidDependencyMap, from, to)
			}
		}
	}
	return nil
}

// AllFamilies returns the sorted union of declared families and every name
// used in the dependency table.
func (m *DependencyMap) AllFamilies() []string {
	seen := make(map[string]bool)
	for _, f := range m.Families {
		seen[f] = true
	}
	for from, deps := range m.Dependencies {
		seen[from] = true
		for _, to := range deps {
			seen[to] = true
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		if f != "" {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return out
}

// Dependents returns the families reachable from entity through the
// dependency table, breadth first, each once, excluding entity itself.
func (m *DependencyMap) Dependents(entity string) []string {
	visited := map[string]bool{entity: true}
	queue := []string{entity}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range m.Dependencies[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}

// IsCrossCutting reports whether entity's views are nested under unrelated
// parent keys.
func (m *DependencyMap) IsCrossCutting(entity string) bool {
	return slices.Contains(m.CrossCutting, entity)
}

// CollectionPath returns the collection key segment for entity, e.g. /api/products.
func (m *DependencyMap) CollectionPath(entity string) string {
	return strings.TrimSuffix(m.APIPrefix, "/") + "/" + entity
}

// Encode renders the map in the given format.
func (m *DependencyMap) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(m)
	case FormatTOML:
		return toml.Marshal(m)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
