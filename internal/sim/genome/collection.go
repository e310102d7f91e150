package genome

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyCollection = errors.New("genome collection is empty")
	ErrModeNotFound    = errors.New("no genome for requested mode")
)

//go:embed genome.schema.json
var schemaSource string

var schema = jsonschema.MustCompileString("https://gridarena.ai/schemas/genome.schema.json", schemaSource)

// Collection bundles several genomes; Mode names the one a session should run.
type Collection struct {
	Mode        string   `yaml:"mode,omitempty" json:"mode,omitempty"`
	UserControl bool     `yaml:"userControl,omitempty" json:"userControl,omitempty"`
	Configs     []Genome `yaml:"configs" json:"configs"`
}

func DefaultCollection() Collection {
	g := Defaults()
	g.Normalize()
	return Collection{Mode: g.Mode.String(), Configs: []Genome{g}}
}

// Resolve returns the genome whose mode matches name (Collection.Mode when name is
// empty). The returned genome is always usable: an unmatched name yields the first
// genome and ErrModeNotFound, an empty collection yields Defaults and
// ErrEmptyCollection. Callers treat a non-nil error as a warning.
func (c Collection) Resolve(name string) (Genome, error) {
	if len(c.Configs) == 0 {
		g := Defaults()
		g.Agent.UserControl = g.Agent.UserControl || c.UserControl
		g.Normalize()
		return g, ErrEmptyCollection
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(c.Mode)
	}
	pick := c.Configs[0]
	var err error
	if name != "" {
		want, perr := ParseMode(name)
		found := false
		if perr == nil {
			for _, g := range c.Configs {
				if g.Mode == want {
					pick, found = g, true
					break
				}
			}
		}
		if !found {
			err = fmt.Errorf("%w: %q, using %s", ErrModeNotFound, name, pick.Mode)
		}
	}
	if c.UserControl {
		pick.Agent.UserControl = true
	}
	pick.Normalize()
	return pick, err
}

// Modes lists the configured modes in file order.
func (c Collection) Modes() []Mode {
	out := make([]Mode, 0, len(c.Configs))
	for _, g := range c.Configs {
		out = append(out, g.Mode)
	}
	return out
}

// Load reads a genome collection (or a single genome) from YAML or JSON. An empty path
// yields DefaultCollection. On any error the returned collection is DefaultCollection,
// so callers may log the error and continue.
func Load(path string) (Collection, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCollection(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return DefaultCollection(), err
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	c, err := Parse(b, format)
	if err != nil {
		return DefaultCollection(), fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// Parse decodes and validates a document. format is "json" or "yaml".
func Parse(b []byte, format string) (Collection, error) {
	var doc any
	switch format {
	case "json":
		if err := json.Unmarshal(b, &doc); err != nil {
			return Collection{}, err
		}
	case "yaml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return Collection{}, err
		}
		v, err := jsonValue(doc)
		if err != nil {
			return Collection{}, err
		}
		doc = v
	default:
		return Collection{}, fmt.Errorf("unknown format %q", format)
	}
	if doc == nil {
		return Collection{}, errors.New("empty document")
	}
	if err := schema.Validate(doc); err != nil {
		return Collection{}, fmt.Errorf("schema: %w", err)
	}

	var c Collection
	if m, ok := doc.(map[string]any); ok && m["configs"] != nil {
		if err := decode(b, format, &c); err != nil {
			return Collection{}, err
		}
	} else {
		var g Genome
		if err := decode(b, format, &g); err != nil {
			return Collection{}, err
		}
		c = Collection{Mode: g.Mode.String(), Configs: []Genome{g}}
	}
	for i := range c.Configs {
		c.Configs[i].Normalize()
		if err := c.Configs[i].Validate(); err != nil {
			return Collection{}, fmt.Errorf("configs[%d]: %w", i, err)
		}
	}
	return c, nil
}

func decode(b []byte, format string, v any) error {
	if format == "json" {
		return json.Unmarshal(b, v)
	}
	return yaml.Unmarshal(b, v)
}

// jsonValue converts a YAML-decoded tree into the shapes encoding/json produces.
func jsonValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
