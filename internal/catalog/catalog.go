// Package catalog holds the immutable set of experiment variants a batch can
// evaluate: their configuration keys, override files, mechanical corrections,
// and the composition rule of derived variants.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// KeyPlaceholder is replaced by a variant key inside Catalog.ConfigTemplate.
const KeyPlaceholder = "{key}"

// LiteralPatch is an exact-substring replacement inside one file of an
// assembled tree. File is relative to the tree root, slash separated.
type LiteralPatch struct {
	File string `yaml:"file"`
	Old  string `yaml:"old"`
	New  string `yaml:"new"`
}

// Composite describes a variant built from two other variants' outputs.
// The Base target is duplicated, the Overlay variant's override files are
// copied over it and Patches adjust the guard conditions.
type Composite struct {
	Base    string         `yaml:"base"`
	Overlay string         `yaml:"overlay"`
	Patches []LiteralPatch `yaml:"patches"`
}

// Variant is one experiment type.
type Variant struct {
	Name        string         `yaml:"name"`
	Key         string         `yaml:"key"`
	Overrides   []string       `yaml:"overrides"`
	Corrections []LiteralPatch `yaml:"corrections"`
	Composite   *Composite     `yaml:"composite"`
}

// IsComposite reports whether the variant is derived from two others.
func (v Variant) IsComposite() bool { return v.Composite != nil }

func (v Variant) clone() Variant {
	out := v
	out.Overrides = append([]string(nil), v.Overrides...)
	out.Corrections = append([]LiteralPatch(nil), v.Corrections...)
	if v.Composite != nil {
		c := *v.Composite
		c.Patches = append([]LiteralPatch(nil), v.Composite.Patches...)
		out.Composite = &c
	}
	return out
}

type document struct {
	ConfigFile     string    `yaml:"config_file"`
	ConfigTemplate string    `yaml:"config_template"`
	Variants       []Variant `yaml:"variants"`
}

// Catalog is resolved once at startup and never mutated afterwards.
// All accessors return copies.
type Catalog struct {
	configFile     string
	configTemplate string
	variants       []Variant
	byName         map[string]int
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file. An empty path yields Default().
func Load(p string) (*Catalog, error) {
	if strings.TrimSpace(p) == "" {
		return Default()
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	c := &Catalog{
		configFile:     doc.ConfigFile,
		configTemplate: doc.ConfigTemplate,
		variants:       doc.Variants,
		byName:         make(map[string]int, len(doc.Variants)),
	}
	for i, v := range doc.Variants {
		c.byName[v.Name] = i
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) validate() error {
	var errs []error
	if strings.TrimSpace(c.configFile) == "" {
		errs = append(errs, errors.New("config_file is required"))
	}
	if !strings.Contains(c.configTemplate, KeyPlaceholder) {
		errs = append(errs, fmt.Errorf("config_template must contain %s", KeyPlaceholder))
	}
	if len(c.variants) == 0 {
		errs = append(errs, errors.New("at least one variant is required"))
	}

	seenName := map[string]bool{}
	seenKey := map[string]bool{}
	for i, v := range c.variants {
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("variants[%d].name is required", i))
		}
		if v.Key == "" {
			errs = append(errs, fmt.Errorf("variants[%d].key is required", i))
		}
		if seenName[v.Name] {
			errs = append(errs, fmt.Errorf("duplicate variant name %q", v.Name))
		}
		if seenKey[v.Key] {
			errs = append(errs, fmt.Errorf("duplicate variant key %q", v.Key))
		}
		seenName[v.Name] = true
		seenKey[v.Key] = true

		for j, o := range v.Overrides {
			if !isRelativeSlashPath(o) {
				errs = append(errs, fmt.Errorf("variants[%d].overrides[%d] must be a relative path: %q", i, j, o))
			}
		}
		for j, p := range v.Corrections {
			if !isRelativeSlashPath(p.File) || p.Old == "" {
				errs = append(errs, fmt.Errorf("variants[%d].corrections[%d] needs a relative file and a non-empty old literal", i, j))
			}
		}

		if v.Composite == nil {
			if len(v.Overrides) == 0 {
				errs = append(errs, fmt.Errorf("variant %q has no override files", v.Name))
			}
			continue
		}
		for _, dep := range []string{v.Composite.Base, v.Composite.Overlay} {
			idx, ok := c.byName[dep]
			if !ok {
				errs = append(errs, fmt.Errorf("composite %q references unknown variant %q", v.Name, dep))
				continue
			}
			if c.variants[idx].Composite != nil {
				errs = append(errs, fmt.Errorf("composite %q cannot be built from composite %q", v.Name, dep))
			}
		}
		if v.Composite.Base == v.Composite.Overlay {
			errs = append(errs, fmt.Errorf("composite %q needs two distinct constituents", v.Name))
		}
		if len(v.Composite.Patches) == 0 {
			errs = append(errs, fmt.Errorf("composite %q has no guard patches", v.Name))
		}
		for j, p := range v.Composite.Patches {
			if !isRelativeSlashPath(p.File) || p.Old == "" {
				errs = append(errs, fmt.Errorf("composite %q patches[%d] needs a relative file and a non-empty old literal", v.Name, j))
			}
		}
	}
	return errors.Join(errs...)
}

func isRelativeSlashPath(p string) bool {
	if p == "" || path.IsAbs(p) || strings.Contains(p, `\`) {
		return false
	}
	clean := path.Clean(p)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

// ConfigFile is the relative path of the file holding the variant selector.
func (c *Catalog) ConfigFile() string { return c.configFile }

// ConfigTemplate is the selector literal with KeyPlaceholder in place of the key.
func (c *Catalog) ConfigTemplate() string { return c.configTemplate }

// Variants returns every variant in catalog order.
func (c *Catalog) Variants() []Variant {
	out := make([]Variant, len(c.variants))
	for i, v := range c.variants {
		out[i] = v.clone()
	}
	return out
}

// Simple returns the non-composite variants in catalog order.
func (c *Catalog) Simple() []Variant {
	var out []Variant
	for _, v := range c.variants {
		if v.Composite == nil {
			out = append(out, v.clone())
		}
	}
	return out
}

// Composites returns the derived variants in catalog order.
func (c *Catalog) Composites() []Variant {
	var out []Variant
	for _, v := range c.variants {
		if v.Composite != nil {
			out = append(out, v.clone())
		}
	}
	return out
}

// Lookup finds a variant by name.
func (c *Catalog) Lookup(name string) (Variant, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return Variant{}, false
	}
	return c.variants[idx].clone(), true
}

// CandidateKeys is the fixed order in which selector literals are searched
// when patching a configuration file: every key in catalog order.
func (c *Catalog) CandidateKeys() []string {
	out := make([]string, len(c.variants))
	for i, v := range c.variants {
		out[i] = v.Key
	}
	return out
}
